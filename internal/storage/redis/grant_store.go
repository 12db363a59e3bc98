package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goodtune/screentime/internal/storage"
	"github.com/redis/go-redis/v9"
)

type grantStore struct {
	client *redis.Client
}

// Append records a grant in the profile's audit list
func (s *grantStore) Append(ctx context.Context, grant storage.Grant) error {
	data, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("failed to marshal grant: %w", err)
	}

	return s.client.RPush(ctx, grantsKey(grant.ProfileID), data).Err()
}

// ListByProfile returns the newest grants first
func (s *grantStore) ListByProfile(ctx context.Context, profileID string, limit int) ([]storage.Grant, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}

	items, err := s.client.LRange(ctx, grantsKey(profileID), start, -1).Result()
	if err != nil {
		return nil, err
	}

	grants := make([]storage.Grant, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		var grant storage.Grant
		if err := json.Unmarshal([]byte(items[i]), &grant); err != nil {
			return nil, fmt.Errorf("failed to unmarshal grant: %w", err)
		}
		grants = append(grants, grant)
	}

	return grants, nil
}
