package redis

import (
	"context"
	"time"

	"github.com/goodtune/screentime/internal/storage"
	"github.com/redis/go-redis/v9"
)

type configStore struct {
	client *redis.Client
}

// GetOrCreate returns the profile config, creating it from defaults if absent
func (s *configStore) GetOrCreate(ctx context.Context, defaults storage.ProfileConfig) (*storage.ProfileConfig, error) {
	script := redis.NewScript(createConfigScript)

	createdAt := defaults.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	keys := []string{configKey(defaults.ProfileID)}
	args := []interface{}{
		defaults.ProfileID,
		formatLimit(defaults.WeekdayLimitMinutes),
		formatLimit(defaults.WeekendLimitMinutes),
		defaults.ResetHour,
		formatBool(defaults.EducationalExempt),
		defaults.TimeZone,
		formatTime(&createdAt),
	}

	if err := script.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return nil, err
	}

	return s.Get(ctx, defaults.ProfileID)
}

// Get retrieves a profile config
func (s *configStore) Get(ctx context.Context, profileID string) (*storage.ProfileConfig, error) {
	data, err := s.client.HGetAll(ctx, configKey(profileID)).Result()
	if err != nil {
		return nil, err
	}

	return parseProfileConfig(data)
}

// Put replaces a profile config
func (s *configStore) Put(ctx context.Context, cfg storage.ProfileConfig) error {
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = time.Now().UTC()
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = cfg.UpdatedAt
	}

	return s.client.HSet(ctx, configKey(cfg.ProfileID),
		"profile_id", cfg.ProfileID,
		"weekday_limit_minutes", formatLimit(cfg.WeekdayLimitMinutes),
		"weekend_limit_minutes", formatLimit(cfg.WeekendLimitMinutes),
		"reset_hour", cfg.ResetHour,
		"educational_exempt", formatBool(cfg.EducationalExempt),
		"time_zone", cfg.TimeZone,
		"created_at", formatTime(&cfg.CreatedAt),
		"updated_at", formatTime(&cfg.UpdatedAt),
	).Err()
}
