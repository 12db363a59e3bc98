package usage

import (
	"time"

	"github.com/goodtune/screentime/internal/storage"
)

// Caller is the authenticated identity behind a request
type Caller struct {
	AccountID string
	// ProfileID is set for device tokens bound to a single profile
	ProfileID     string
	PINVerifiedAt time.Time
}

// Heartbeat is one playback heartbeat from a client
type Heartbeat struct {
	ProfileID  string
	SessionID  string // empty to start a new session
	TitleID    string
	DeviceID   string
	DeviceType string
	Paused     bool
	At         time.Time
}

// HeartbeatResult is the enforcement verdict returned to the player
type HeartbeatResult struct {
	SessionID        string   `json:"session_id"`
	Enforcement      Status   `json:"enforcement"`
	RemainingMinutes *float64 `json:"remaining_minutes"`
	UsedMinutes      float64  `json:"used_minutes"`
	IsEducational    bool     `json:"is_educational"`
}

// EndResult describes an ended session
type EndResult struct {
	SessionID    string    `json:"session_id"`
	TotalSeconds int64     `json:"total_seconds"`
	EndedAt      time.Time `json:"ended_at"`
}

// BalanceView is the current viewing-day balance of a profile
type BalanceView struct {
	ProfileID           string     `json:"profile_id"`
	Day                 string     `json:"day,omitempty"`
	IsChildProfile      bool       `json:"is_child_profile"`
	HasLimits           bool       `json:"has_limits"`
	UsedMinutes         float64    `json:"used_minutes"`
	EducationalMinutes  float64    `json:"educational_minutes"`
	LimitMinutes        *int       `json:"limit_minutes"`
	RemainingMinutes    *float64   `json:"remaining_minutes"`
	IsUnlimitedOverride bool       `json:"is_unlimited_override"`
	DayStartedAt        *time.Time `json:"day_started_at,omitempty"`
	NextResetAt         *time.Time `json:"next_reset_at"`
}

// Eligibility tells a player whether playback may start
type Eligibility struct {
	Eligible         bool       `json:"eligible"`
	RemainingMinutes *float64   `json:"remaining_minutes,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	NextResetAt      *time.Time `json:"next_reset_at,omitempty"`
}

// GrantRequest asks for extra time on the current viewing day. A nil
// Minutes grants unlimited viewing for the rest of the day.
type GrantRequest struct {
	ProfileID       string
	IssuerAccountID string
	Minutes         *int
	IsRemote        bool
}

// GrantResult is the balance after a grant
type GrantResult struct {
	Grant               storage.Grant `json:"grant"`
	RemainingMinutes    *float64      `json:"remaining_minutes"`
	IsUnlimitedOverride bool          `json:"is_unlimited_override"`
}
