package storage

import (
	"time"
)

// ProfileConfig holds the enforcement configuration of one profile.
// A nil limit means unlimited.
type ProfileConfig struct {
	ProfileID           string    `json:"profile_id"`
	WeekdayLimitMinutes *int      `json:"weekday_limit_minutes"`
	WeekendLimitMinutes *int      `json:"weekend_limit_minutes"`
	ResetHour           int       `json:"reset_hour"`
	EducationalExempt   bool      `json:"educational_exempt"`
	TimeZone            string    `json:"time_zone"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Balance is the running total of one profile's viewing day.
type Balance struct {
	ProfileID          string `json:"profile_id"`
	Day                string `json:"day"`
	UsedSeconds        int64  `json:"used_seconds"`
	EducationalSeconds int64  `json:"educational_seconds"`
	UnlimitedOverride  bool   `json:"unlimited_override"`
}

// Session is one playback session. EndedAt is nil while active and PausedAt
// is nil while playing.
type Session struct {
	ID              string     `json:"id"`
	ProfileID       string     `json:"profile_id"`
	TitleID         string     `json:"title_id"`
	DeviceID        string     `json:"device_id"`
	DeviceType      string     `json:"device_type"`
	IsEducational   bool       `json:"is_educational"`
	StartedAt       time.Time  `json:"started_at"`
	LastHeartbeatAt time.Time  `json:"last_heartbeat_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	PausedAt        *time.Time `json:"paused_at,omitempty"`
	TotalSeconds    int64      `json:"total_seconds"`
}

// Active reports whether the session has not ended.
func (s *Session) Active() bool {
	return s.EndedAt == nil
}

// Grant is an audit record of a guardian time extension. A nil
// GrantedMinutes is an unlimited-for-today override.
type Grant struct {
	ID              string    `json:"id"`
	ProfileID       string    `json:"profile_id"`
	IssuerAccountID string    `json:"issuer_account_id"`
	Day             string    `json:"day"`
	GrantedMinutes  *int      `json:"granted_minutes"`
	IsRemote        bool      `json:"is_remote"`
	CreatedAt       time.Time `json:"created_at"`
}

// Profile describes a viewer profile and the account that owns it.
// Limited profiles (children) are subject to daily budgets.
type Profile struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Name      string    `json:"name"`
	Limited   bool      `json:"limited"`
	CreatedAt time.Time `json:"created_at"`
}
