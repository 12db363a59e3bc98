package usage

import (
	"context"
	"time"

	"github.com/goodtune/screentime/internal/config"
	"github.com/goodtune/screentime/internal/metrics"
	"github.com/goodtune/screentime/internal/storage"
	"github.com/goodtune/screentime/internal/window"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

const (
	minLimitMinutes  = 15
	maxLimitMinutes  = 480
	limitStepMinutes = 15
)

// Defaults is the configuration given to profiles on first access
type Defaults struct {
	WeekdayLimitMinutes *int
	WeekendLimitMinutes *int
	ResetHour           int
	EducationalExempt   bool
	TimeZone            string
}

// StandardDefaults are 120 weekday / 180 weekend minutes, reset at 06:00 UTC,
// educational content exempt
func StandardDefaults() Defaults {
	weekday, weekend := 120, 180
	return Defaults{
		WeekdayLimitMinutes: &weekday,
		WeekendLimitMinutes: &weekend,
		ResetHour:           6,
		EducationalExempt:   true,
		TimeZone:            "UTC",
	}
}

// DefaultsFromConfig converts service configuration; a zero limit is unlimited
func DefaultsFromConfig(cfg config.DefaultsConfig) Defaults {
	d := Defaults{
		ResetHour:         cfg.ResetHour,
		EducationalExempt: cfg.EducationalExempt,
		TimeZone:          cfg.TimeZone,
	}
	if cfg.WeekdayLimitMinutes > 0 {
		v := cfg.WeekdayLimitMinutes
		d.WeekdayLimitMinutes = &v
	}
	if cfg.WeekendLimitMinutes > 0 {
		v := cfg.WeekendLimitMinutes
		d.WeekendLimitMinutes = &v
	}
	return d
}

// LimitPatch updates one limit. Set with a nil Value makes it unlimited.
type LimitPatch struct {
	Set   bool
	Value *int
}

// ConfigPatch lists the fields to change; unset fields stay as they are
type ConfigPatch struct {
	WeekdayLimitMinutes LimitPatch
	WeekendLimitMinutes LimitPatch
	ResetHour           *int
	EducationalExempt   *bool
	TimeZone            *string
}

// sensitive reports whether the patch touches PIN-protected fields
func (p ConfigPatch) sensitive() bool {
	return p.ResetHour != nil || p.EducationalExempt != nil
}

// ConfigService reads and updates profile configs through a short-lived
// cache. The store remains the source of truth.
type ConfigService struct {
	store    storage.ConfigStore
	defaults Defaults
	cache    *expirable.LRU[string, storage.ProfileConfig]
	clock    window.Clock
	logger   zerolog.Logger
}

// NewConfigService creates a config service. A zero cacheSize or cacheTTL
// disables caching.
func NewConfigService(store storage.ConfigStore, defaults Defaults, cacheSize int, cacheTTL time.Duration, clock window.Clock, logger zerolog.Logger) *ConfigService {
	s := &ConfigService{
		store:    store,
		defaults: defaults,
		clock:    clock,
		logger:   logger.With().Str("component", "config-service").Logger(),
	}
	if cacheSize > 0 && cacheTTL > 0 {
		s.cache = expirable.NewLRU[string, storage.ProfileConfig](cacheSize, nil, cacheTTL)
	}
	return s
}

// GetOrCreate returns the profile's config, creating it with defaults first
func (s *ConfigService) GetOrCreate(ctx context.Context, profileID string) (*storage.ProfileConfig, error) {
	if s.cache != nil {
		if cfg, ok := s.cache.Get(profileID); ok {
			metrics.ConfigCacheHits.Inc()
			return cloneConfig(cfg), nil
		}
		metrics.ConfigCacheMisses.Inc()
	}

	cfg, err := s.store.GetOrCreate(ctx, storage.ProfileConfig{
		ProfileID:           profileID,
		WeekdayLimitMinutes: cloneLimit(s.defaults.WeekdayLimitMinutes),
		WeekendLimitMinutes: cloneLimit(s.defaults.WeekendLimitMinutes),
		ResetHour:           s.defaults.ResetHour,
		EducationalExempt:   s.defaults.EducationalExempt,
		TimeZone:            s.defaults.TimeZone,
		CreatedAt:           s.clock.Now(),
	})
	if err != nil {
		return nil, lookupError("config", profileID, err)
	}

	if s.cache != nil {
		s.cache.Add(profileID, *cloneConfig(*cfg))
	}
	return cfg, nil
}

// Update validates and applies patch. Nothing is written if any field is
// invalid. pinVerified gates the reset hour and educational exemption.
func (s *ConfigService) Update(ctx context.Context, profileID string, patch ConfigPatch, pinVerified bool) (*storage.ProfileConfig, error) {
	if patch.sensitive() && !pinVerified {
		return nil, ErrPINRequired
	}
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	current, err := s.GetOrCreate(ctx, profileID)
	if err != nil {
		return nil, err
	}

	next := cloneConfig(*current)
	if patch.WeekdayLimitMinutes.Set {
		next.WeekdayLimitMinutes = cloneLimit(patch.WeekdayLimitMinutes.Value)
	}
	if patch.WeekendLimitMinutes.Set {
		next.WeekendLimitMinutes = cloneLimit(patch.WeekendLimitMinutes.Value)
	}
	if patch.ResetHour != nil {
		next.ResetHour = *patch.ResetHour
	}
	if patch.EducationalExempt != nil {
		next.EducationalExempt = *patch.EducationalExempt
	}
	if patch.TimeZone != nil {
		next.TimeZone = *patch.TimeZone
	}
	next.UpdatedAt = s.clock.Now()

	if err := s.store.Put(ctx, *next); err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Remove(profileID)
	}

	s.logger.Info().
		Str("profile_id", profileID).
		Bool("sensitive", patch.sensitive()).
		Msg("Profile config updated")

	return next, nil
}

// ValidateLimit checks a limit against the 15..480 minute, 15-minute step rule
func ValidateLimit(field string, minutes *int) error {
	if minutes == nil {
		return nil
	}
	m := *minutes
	if m < minLimitMinutes || m > maxLimitMinutes {
		return invalid(field, "must be between %d and %d minutes, got %d", minLimitMinutes, maxLimitMinutes, m)
	}
	if m%limitStepMinutes != 0 {
		return invalid(field, "must be a multiple of %d minutes, got %d", limitStepMinutes, m)
	}
	return nil
}

func validatePatch(p ConfigPatch) error {
	if p.WeekdayLimitMinutes.Set {
		if err := ValidateLimit("weekday_limit_minutes", p.WeekdayLimitMinutes.Value); err != nil {
			return err
		}
	}
	if p.WeekendLimitMinutes.Set {
		if err := ValidateLimit("weekend_limit_minutes", p.WeekendLimitMinutes.Value); err != nil {
			return err
		}
	}
	if p.ResetHour != nil && (*p.ResetHour < 0 || *p.ResetHour > 23) {
		return invalid("reset_hour", "must be between 0 and 23, got %d", *p.ResetHour)
	}
	if p.TimeZone != nil {
		if *p.TimeZone == "" {
			return invalid("time_zone", "must not be empty")
		}
		if _, err := window.LoadLocation(*p.TimeZone); err != nil {
			return invalid("time_zone", "unknown time zone %q", *p.TimeZone)
		}
	}
	return nil
}

func cloneLimit(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

func cloneConfig(cfg storage.ProfileConfig) *storage.ProfileConfig {
	cfg.WeekdayLimitMinutes = cloneLimit(cfg.WeekdayLimitMinutes)
	cfg.WeekendLimitMinutes = cloneLimit(cfg.WeekendLimitMinutes)
	return &cfg
}
