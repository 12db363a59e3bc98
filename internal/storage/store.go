package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record is missing from storage.
	ErrNotFound = errors.New("storage: record not found")

	// ErrSessionEnded is returned when a heartbeat targets a session that has
	// already ended.
	ErrSessionEnded = errors.New("storage: session already ended")
)

// Store represents the root storage interface.
type Store interface {
	Close() error
	Ping(ctx context.Context) error
	Configs() ConfigStore
	Balances() BalanceStore
	Sessions() SessionStore
	Grants() GrantStore
	Profiles() ProfileStore
}

// ConfigStore manages per-profile enforcement configuration.
type ConfigStore interface {
	// GetOrCreate returns the stored config for defaults.ProfileID, creating
	// it from defaults first if it does not exist. Creation is atomic, so
	// concurrent first access yields a single row.
	GetOrCreate(ctx context.Context, defaults ProfileConfig) (*ProfileConfig, error)
	Get(ctx context.Context, profileID string) (*ProfileConfig, error)
	Put(ctx context.Context, cfg ProfileConfig) error
}

// BalanceStore manages per-profile-per-day viewing balances.
//
// Increment and ApplyGrant must be single atomic upserts: concurrent calls
// for the same profile and day are never lost.
type BalanceStore interface {
	Get(ctx context.Context, profileID, day string) (*Balance, error)
	Increment(ctx context.Context, profileID, day string, seconds int64, educational bool) error
	// ApplyGrant sets the unlimited override when minutes is nil, otherwise
	// reduces used seconds by minutes*60, floored at zero.
	ApplyGrant(ctx context.Context, profileID, day string, minutes *int) error
	DeleteBefore(ctx context.Context, cutoffDay string) (int, error)
}

// SessionStore manages playback sessions.
type SessionStore interface {
	// Start ends any active session for the profile and opens session as the
	// active one in a single atomic step. It returns the id of the session that
	// was superseded, or "" if there was none.
	Start(ctx context.Context, session Session) (string, error)
	Get(ctx context.Context, id string) (*Session, error)
	// RecordHeartbeat updates last-heartbeat-at and pause state and adds
	// countedSeconds to the session total. Returns ErrSessionEnded for ended
	// sessions and ErrNotFound for unknown ones.
	RecordHeartbeat(ctx context.Context, id string, at time.Time, countedSeconds int64, pausedAt *time.Time) (*Session, error)
	// End marks the session ended at at. Ending an ended session is a no-op.
	End(ctx context.Context, id string, at time.Time) (*Session, error)
	// ListByProfile returns up to limit sessions with StartedAt in [from, to),
	// oldest first.
	ListByProfile(ctx context.Context, profileID string, from, to time.Time, limit int) ([]Session, error)
	DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// GrantStore is the append-only audit log of guardian grants.
type GrantStore interface {
	Append(ctx context.Context, grant Grant) error
	// ListByProfile returns up to limit grants, newest first.
	ListByProfile(ctx context.Context, profileID string, limit int) ([]Grant, error)
}

// ProfileStore is the local registry of viewer profiles and their owners.
type ProfileStore interface {
	Upsert(ctx context.Context, profile Profile) error
	Get(ctx context.Context, id string) (*Profile, error)
	ListByAccount(ctx context.Context, accountID string) ([]Profile, error)
}
