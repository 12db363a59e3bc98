package redis

import "fmt"

const (
	keyPrefix = "screentime:"

	// historyTTL is applied to balances and ended sessions (90 days)
	historyTTL = 7776000
)

func configKey(profileID string) string {
	return fmt.Sprintf("screentime:config:%s", profileID)
}

func balanceKey(profileID, day string) string {
	return fmt.Sprintf("screentime:balance:%s:%s", profileID, day)
}

func sessionKey(id string) string {
	return fmt.Sprintf("screentime:session:%s", id)
}

func activeSessionKey(profileID string) string {
	return fmt.Sprintf("screentime:sessions:active:%s", profileID)
}

func profileSessionsKey(profileID string) string {
	return fmt.Sprintf("screentime:sessions:profile:%s", profileID)
}

func grantsKey(profileID string) string {
	return fmt.Sprintf("screentime:grants:%s", profileID)
}

func profileKey(id string) string {
	return fmt.Sprintf("screentime:profile:%s", id)
}

func accountProfilesKey(accountID string) string {
	return fmt.Sprintf("screentime:account:%s:profiles", accountID)
}
