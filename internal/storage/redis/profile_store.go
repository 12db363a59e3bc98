package redis

import (
	"context"
	"sort"
	"time"

	"github.com/goodtune/screentime/internal/storage"
	"github.com/redis/go-redis/v9"
)

type profileStore struct {
	client *redis.Client
}

// Upsert creates or replaces a profile and indexes it under its account
func (s *profileStore) Upsert(ctx context.Context, profile storage.Profile) error {
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = time.Now().UTC()
	}

	previous, err := s.client.HGet(ctx, profileKey(profile.ID), "account_id").Result()
	if err != nil && err != redis.Nil {
		return err
	}

	pipe := s.client.TxPipeline()
	if previous != "" && previous != profile.AccountID {
		pipe.SRem(ctx, accountProfilesKey(previous), profile.ID)
	}
	pipe.HSet(ctx, profileKey(profile.ID),
		"id", profile.ID,
		"account_id", profile.AccountID,
		"name", profile.Name,
		"limited", formatBool(profile.Limited),
		"created_at", formatTime(&profile.CreatedAt),
	)
	pipe.SAdd(ctx, accountProfilesKey(profile.AccountID), profile.ID)

	_, err = pipe.Exec(ctx)
	return err
}

// Get retrieves a profile by ID
func (s *profileStore) Get(ctx context.Context, id string) (*storage.Profile, error) {
	data, err := s.client.HGetAll(ctx, profileKey(id)).Result()
	if err != nil {
		return nil, err
	}

	return parseProfile(data)
}

// ListByAccount returns an account's profiles ordered by name
func (s *profileStore) ListByAccount(ctx context.Context, accountID string) ([]storage.Profile, error) {
	ids, err := s.client.SMembers(ctx, accountProfilesKey(accountID)).Result()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []storage.Profile{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, profileKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	profiles := make([]storage.Profile, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		profile, err := parseProfile(data)
		if err != nil {
			continue
		}
		profiles = append(profiles, *profile)
	}

	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].Name != profiles[j].Name {
			return profiles[i].Name < profiles[j].Name
		}
		return profiles[i].ID < profiles[j].ID
	})

	return profiles, nil
}
