package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/screentime/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type sessionStore struct {
	pool *pgxpool.Pool
}

const sessionColumns = `id, profile_id, title_id, device_id, device_type, is_educational,
        started_at, last_heartbeat_at, ended_at, paused_at, total_seconds`

func scanSession(row pgx.Row) (*storage.Session, error) {
	var s storage.Session
	err := row.Scan(&s.ID, &s.ProfileID, &s.TitleID, &s.DeviceID, &s.DeviceType, &s.IsEducational,
		&s.StartedAt, &s.LastHeartbeatAt, &s.EndedAt, &s.PausedAt, &s.TotalSeconds)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Start ends the profile's active session and inserts the new one in a
// transaction serialized per profile
func (s *sessionStore) Start(ctx context.Context, session storage.Session) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, session.ProfileID); err != nil {
		return "", fmt.Errorf("locking profile sessions: %w", err)
	}

	var superseded string
	err = tx.QueryRow(ctx,
		`UPDATE viewing_sessions SET ended_at = $2, paused_at = NULL
		 WHERE profile_id = $1 AND ended_at IS NULL
		 RETURNING id`, session.ProfileID, session.StartedAt,
	).Scan(&superseded)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("ending active session: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO viewing_sessions
		   (id, profile_id, title_id, device_id, device_type, is_educational, started_at, last_heartbeat_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		session.ID, session.ProfileID, session.TitleID, session.DeviceID, session.DeviceType,
		session.IsEducational, session.StartedAt)
	if err != nil {
		return "", fmt.Errorf("inserting session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("committing session start: %w", err)
	}
	return superseded, nil
}

// Get retrieves a session by ID
func (s *sessionStore) Get(ctx context.Context, id string) (*storage.Session, error) {
	session, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM viewing_sessions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return session, nil
}

// RecordHeartbeat applies one heartbeat to an active session
func (s *sessionStore) RecordHeartbeat(ctx context.Context, id string, at time.Time, countedSeconds int64, pausedAt *time.Time) (*storage.Session, error) {
	session, err := scanSession(s.pool.QueryRow(ctx,
		`UPDATE viewing_sessions
		 SET last_heartbeat_at = $2, paused_at = $3, total_seconds = total_seconds + $4
		 WHERE id = $1 AND ended_at IS NULL
		 RETURNING `+sessionColumns, id, at, pausedAt, countedSeconds))
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("recording heartbeat: %w", err)
	}

	// Distinguish unknown from ended
	if _, getErr := s.Get(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, storage.ErrSessionEnded
}

// End marks a session ended. Ending an ended session leaves it unchanged.
func (s *sessionStore) End(ctx context.Context, id string, at time.Time) (*storage.Session, error) {
	_, err := s.pool.Exec(ctx,
		`UPDATE viewing_sessions SET ended_at = $2, paused_at = NULL
		 WHERE id = $1 AND ended_at IS NULL`, id, at)
	if err != nil {
		return nil, fmt.Errorf("ending session: %w", err)
	}
	return s.Get(ctx, id)
}

// ListByProfile returns sessions started in [from, to), oldest first
func (s *sessionStore) ListByProfile(ctx context.Context, profileID string, from, to time.Time, limit int) ([]storage.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM viewing_sessions
	 WHERE profile_id = $1 AND started_at >= $2 AND started_at < $3
	 ORDER BY started_at, id`
	args := []any{profileID, from, to}
	if limit > 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]storage.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// DeleteEndedBefore deletes ended sessions that started before cutoff
func (s *sessionStore) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM viewing_sessions WHERE ended_at IS NOT NULL AND started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
