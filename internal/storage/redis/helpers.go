package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/screentime/internal/storage"
)

// formatTime encodes a time for a hash field; the zero or nil time is ""
func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatLimit(limit *int) string {
	if limit == nil {
		return ""
	}
	return strconv.Itoa(*limit)
}

func parseLimit(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// parseProfileConfig converts a Redis hash to ProfileConfig
func parseProfileConfig(data map[string]string) (*storage.ProfileConfig, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	weekday, err := parseLimit(data["weekday_limit_minutes"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse weekday_limit_minutes: %w", err)
	}

	weekend, err := parseLimit(data["weekend_limit_minutes"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse weekend_limit_minutes: %w", err)
	}

	resetHour, err := strconv.Atoi(data["reset_hour"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse reset_hour: %w", err)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, data["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &storage.ProfileConfig{
		ProfileID:           data["profile_id"],
		WeekdayLimitMinutes: weekday,
		WeekendLimitMinutes: weekend,
		ResetHour:           resetHour,
		EducationalExempt:   data["educational_exempt"] == "1",
		TimeZone:            data["time_zone"],
		CreatedAt:           createdAt,
		UpdatedAt:           updatedAt,
	}, nil
}

// parseBalance converts a Redis hash to Balance
func parseBalance(data map[string]string) (*storage.Balance, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	used, err := strconv.ParseInt(data["used_seconds"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse used_seconds: %w", err)
	}

	educational, err := strconv.ParseInt(data["educational_seconds"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse educational_seconds: %w", err)
	}

	return &storage.Balance{
		ProfileID:          data["profile_id"],
		Day:                data["day"],
		UsedSeconds:        used,
		EducationalSeconds: educational,
		UnlimitedOverride:  data["unlimited_override"] == "1",
	}, nil
}

// parseSession converts a Redis hash to Session
func parseSession(data map[string]string) (*storage.Session, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	startedAt, err := time.Parse(time.RFC3339Nano, data["started_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}

	lastHeartbeat, err := time.Parse(time.RFC3339Nano, data["last_heartbeat_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse last_heartbeat_at: %w", err)
	}

	endedAt, err := parseOptionalTime(data["ended_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse ended_at: %w", err)
	}

	pausedAt, err := parseOptionalTime(data["paused_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse paused_at: %w", err)
	}

	total, err := strconv.ParseInt(data["total_seconds"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse total_seconds: %w", err)
	}

	return &storage.Session{
		ID:              data["id"],
		ProfileID:       data["profile_id"],
		TitleID:         data["title_id"],
		DeviceID:        data["device_id"],
		DeviceType:      data["device_type"],
		IsEducational:   data["is_educational"] == "1",
		StartedAt:       startedAt,
		LastHeartbeatAt: lastHeartbeat,
		EndedAt:         endedAt,
		PausedAt:        pausedAt,
		TotalSeconds:    total,
	}, nil
}

// parseProfile converts a Redis hash to Profile
func parseProfile(data map[string]string) (*storage.Profile, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	createdAt, err := time.Parse(time.RFC3339Nano, data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return &storage.Profile{
		ID:        data["id"],
		AccountID: data["account_id"],
		Name:      data["name"],
		Limited:   data["limited"] == "1",
		CreatedAt: createdAt,
	}, nil
}
