package redis

import (
	"context"

	"github.com/goodtune/screentime/internal/storage"
	"github.com/redis/go-redis/v9"
)

type balanceStore struct {
	client *redis.Client
}

// Get retrieves the balance for a profile and viewing day
func (s *balanceStore) Get(ctx context.Context, profileID, day string) (*storage.Balance, error) {
	data, err := s.client.HGetAll(ctx, balanceKey(profileID, day)).Result()
	if err != nil {
		return nil, err
	}

	return parseBalance(data)
}

// Increment atomically adds seconds to the used or educational counter,
// creating the balance if needed
func (s *balanceStore) Increment(ctx context.Context, profileID, day string, seconds int64, educational bool) error {
	script := redis.NewScript(incrementBalanceScript)

	field := "used_seconds"
	if educational {
		field = "educational_seconds"
	}

	keys := []string{balanceKey(profileID, day)}
	args := []interface{}{profileID, day, field, seconds, historyTTL}

	return script.Run(ctx, s.client, keys, args...).Err()
}

// ApplyGrant credits minutes back to the balance, or sets the unlimited
// override when minutes is nil
func (s *balanceStore) ApplyGrant(ctx context.Context, profileID, day string, minutes *int) error {
	script := redis.NewScript(applyGrantScript)

	credit := int64(-1)
	if minutes != nil {
		credit = int64(*minutes) * 60
	}

	keys := []string{balanceKey(profileID, day)}
	args := []interface{}{profileID, day, credit, historyTTL}

	return script.Run(ctx, s.client, keys, args...).Err()
}

// DeleteBefore removes balances for viewing days before cutoffDay
func (s *balanceStore) DeleteBefore(ctx context.Context, cutoffDay string) (int, error) {
	var cursor uint64
	var deletedCount int

	for {
		var keys []string
		var err error
		keys, cursor, err = s.client.Scan(ctx, cursor, keyPrefix+"balance:*", 100).Result()
		if err != nil {
			return deletedCount, err
		}

		if len(keys) > 0 {
			pipe := s.client.Pipeline()
			cmds := make([]*redis.StringCmd, len(keys))
			for i, key := range keys {
				cmds[i] = pipe.HGet(ctx, key, "day")
			}

			if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
				return deletedCount, err
			}

			toDelete := make([]string, 0)
			for i, cmd := range cmds {
				day, err := cmd.Result()
				if err != nil || day == "" {
					continue
				}
				// YYYY-MM-DD compares lexically
				if day < cutoffDay {
					toDelete = append(toDelete, keys[i])
				}
			}

			if len(toDelete) > 0 {
				deleted, err := s.client.Del(ctx, toDelete...).Result()
				if err != nil {
					return deletedCount, err
				}
				deletedCount += int(deleted)
			}
		}

		if cursor == 0 {
			break
		}
	}

	return deletedCount, nil
}
