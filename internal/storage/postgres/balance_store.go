package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/screentime/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

type balanceStore struct {
	pool *pgxpool.Pool
}

// Get retrieves the balance for a profile and viewing day
func (s *balanceStore) Get(ctx context.Context, profileID, day string) (*storage.Balance, error) {
	d, err := parseDay(day)
	if err != nil {
		return nil, err
	}

	var b storage.Balance
	var stored time.Time
	err = s.pool.QueryRow(ctx,
		`SELECT profile_id, day, used_seconds, educational_seconds, unlimited_override
		 FROM daily_balances WHERE profile_id = $1 AND day = $2`, profileID, d,
	).Scan(&b.ProfileID, &stored, &b.UsedSeconds, &b.EducationalSeconds, &b.UnlimitedOverride)
	if err != nil {
		return nil, notFound(err)
	}
	b.Day = stored.Format("2006-01-02")
	return &b, nil
}

// Increment atomically adds seconds to the used or educational counter
func (s *balanceStore) Increment(ctx context.Context, profileID, day string, seconds int64, educational bool) error {
	d, err := parseDay(day)
	if err != nil {
		return err
	}

	var used, edu int64
	if educational {
		edu = seconds
	} else {
		used = seconds
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO daily_balances (profile_id, day, used_seconds, educational_seconds)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (profile_id, day) DO UPDATE SET
		   used_seconds = daily_balances.used_seconds + EXCLUDED.used_seconds,
		   educational_seconds = daily_balances.educational_seconds + EXCLUDED.educational_seconds`,
		profileID, d, used, edu)
	if err != nil {
		return fmt.Errorf("incrementing balance: %w", err)
	}
	return nil
}

// ApplyGrant credits minutes back or sets the unlimited override
func (s *balanceStore) ApplyGrant(ctx context.Context, profileID, day string, minutes *int) error {
	d, err := parseDay(day)
	if err != nil {
		return err
	}

	if minutes == nil {
		_, err = s.pool.Exec(ctx,
			`INSERT INTO daily_balances (profile_id, day, unlimited_override)
			 VALUES ($1, $2, TRUE)
			 ON CONFLICT (profile_id, day) DO UPDATE SET unlimited_override = TRUE`,
			profileID, d)
	} else {
		_, err = s.pool.Exec(ctx,
			`INSERT INTO daily_balances (profile_id, day)
			 VALUES ($1, $2)
			 ON CONFLICT (profile_id, day) DO UPDATE SET
			   used_seconds = GREATEST(daily_balances.used_seconds - $3, 0)`,
			profileID, d, int64(*minutes)*60)
	}
	if err != nil {
		return fmt.Errorf("applying grant: %w", err)
	}
	return nil
}

// DeleteBefore removes balances for viewing days before cutoffDay
func (s *balanceStore) DeleteBefore(ctx context.Context, cutoffDay string) (int, error) {
	d, err := parseDay(cutoffDay)
	if err != nil {
		return 0, err
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM daily_balances WHERE day < $1`, d)
	if err != nil {
		return 0, fmt.Errorf("deleting balances: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
