package postgres

import (
	"context"
	"fmt"

	"github.com/goodtune/screentime/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

type configStore struct {
	pool *pgxpool.Pool
}

const selectConfig = `SELECT profile_id, weekday_limit_minutes, weekend_limit_minutes, reset_hour,
        educational_exempt, time_zone, created_at, updated_at
 FROM profile_configs WHERE profile_id = $1`

// GetOrCreate returns the profile config, inserting defaults if absent
func (s *configStore) GetOrCreate(ctx context.Context, defaults storage.ProfileConfig) (*storage.ProfileConfig, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO profile_configs
		   (profile_id, weekday_limit_minutes, weekend_limit_minutes, reset_hour, educational_exempt, time_zone)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (profile_id) DO NOTHING`,
		defaults.ProfileID, defaults.WeekdayLimitMinutes, defaults.WeekendLimitMinutes,
		defaults.ResetHour, defaults.EducationalExempt, defaults.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("ensuring profile config: %w", err)
	}

	return s.Get(ctx, defaults.ProfileID)
}

// Get retrieves a profile config
func (s *configStore) Get(ctx context.Context, profileID string) (*storage.ProfileConfig, error) {
	var c storage.ProfileConfig
	var resetHour int16
	err := s.pool.QueryRow(ctx, selectConfig, profileID).Scan(
		&c.ProfileID, &c.WeekdayLimitMinutes, &c.WeekendLimitMinutes, &resetHour,
		&c.EducationalExempt, &c.TimeZone, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	c.ResetHour = int(resetHour)
	return &c, nil
}

// Put replaces a profile config
func (s *configStore) Put(ctx context.Context, cfg storage.ProfileConfig) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO profile_configs
		   (profile_id, weekday_limit_minutes, weekend_limit_minutes, reset_hour, educational_exempt, time_zone)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (profile_id) DO UPDATE SET
		   weekday_limit_minutes = EXCLUDED.weekday_limit_minutes,
		   weekend_limit_minutes = EXCLUDED.weekend_limit_minutes,
		   reset_hour = EXCLUDED.reset_hour,
		   educational_exempt = EXCLUDED.educational_exempt,
		   time_zone = EXCLUDED.time_zone,
		   updated_at = NOW()`,
		cfg.ProfileID, cfg.WeekdayLimitMinutes, cfg.WeekendLimitMinutes,
		cfg.ResetHour, cfg.EducationalExempt, cfg.TimeZone)
	if err != nil {
		return fmt.Errorf("saving profile config: %w", err)
	}
	return nil
}
