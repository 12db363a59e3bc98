package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/screentime/internal/storage"
	"github.com/redis/go-redis/v9"
)

type sessionStore struct {
	client *redis.Client
}

// Start opens a session and supersedes the profile's active one
func (s *sessionStore) Start(ctx context.Context, session storage.Session) (string, error) {
	script := redis.NewScript(startSessionScript)

	keys := []string{
		activeSessionKey(session.ProfileID),
		sessionKey(session.ID),
		profileSessionsKey(session.ProfileID),
	}
	args := []interface{}{
		session.ID,
		session.ProfileID,
		session.TitleID,
		session.DeviceID,
		session.DeviceType,
		formatBool(session.IsEducational),
		formatTime(&session.StartedAt),
		session.StartedAt.UnixMilli(),
		keyPrefix + "session:",
		historyTTL,
	}

	return script.Run(ctx, s.client, keys, args...).Text()
}

// Get retrieves a session by ID
func (s *sessionStore) Get(ctx context.Context, id string) (*storage.Session, error) {
	data, err := s.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, err
	}

	return parseSession(data)
}

// RecordHeartbeat applies one heartbeat to an active session
func (s *sessionStore) RecordHeartbeat(ctx context.Context, id string, at time.Time, countedSeconds int64, pausedAt *time.Time) (*storage.Session, error) {
	script := redis.NewScript(recordHeartbeatScript)

	keys := []string{sessionKey(id)}
	args := []interface{}{formatTime(&at), countedSeconds, formatTime(pausedAt)}

	result, err := script.Run(ctx, s.client, keys, args...).Text()
	if err != nil {
		return nil, err
	}

	switch result {
	case "MISSING":
		return nil, storage.ErrNotFound
	case "ENDED":
		return nil, storage.ErrSessionEnded
	}

	return s.Get(ctx, id)
}

// End marks a session ended. Ending an ended session leaves it unchanged.
func (s *sessionStore) End(ctx context.Context, id string, at time.Time) (*storage.Session, error) {
	profileID, err := s.client.HGet(ctx, sessionKey(id), "profile_id").Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	script := redis.NewScript(endSessionScript)

	keys := []string{sessionKey(id), activeSessionKey(profileID)}
	args := []interface{}{formatTime(&at), id, historyTTL}

	result, err := script.Run(ctx, s.client, keys, args...).Text()
	if err != nil {
		return nil, err
	}
	if result == "MISSING" {
		return nil, storage.ErrNotFound
	}

	return s.Get(ctx, id)
}

// ListByProfile returns sessions started in [from, to), oldest first
func (s *sessionStore) ListByProfile(ctx context.Context, profileID string, from, to time.Time, limit int) ([]storage.Session, error) {
	opt := &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UnixMilli(), 10),
		Max: "(" + strconv.FormatInt(to.UnixMilli(), 10),
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}

	ids, err := s.client.ZRangeByScore(ctx, profileSessionsKey(profileID), opt).Result()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []storage.Session{}, nil
	}

	// Use pipeline to fetch all sessions
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, sessionKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	sessions := make([]storage.Session, 0, len(ids))
	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			// Expired session, skip
			continue
		}

		session, err := parseSession(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse session %s: %w", ids[i], err)
		}
		sessions = append(sessions, *session)
	}

	return sessions, nil
}

// DeleteEndedBefore deletes ended sessions that started before cutoff
func (s *sessionStore) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var cursor uint64
	var deletedCount int

	for {
		var keys []string
		var err error
		keys, cursor, err = s.client.Scan(ctx, cursor, keyPrefix+"session:*", 100).Result()
		if err != nil {
			return deletedCount, err
		}

		if len(keys) > 0 {
			// Use pipeline to check each session
			pipe := s.client.Pipeline()
			cmds := make([]*redis.MapStringStringCmd, len(keys))
			for i, key := range keys {
				cmds[i] = pipe.HGetAll(ctx, key)
			}

			if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
				return deletedCount, err
			}

			toDelete := make([]string, 0)
			unindex := make(map[string][]string)
			for i, cmd := range cmds {
				data, err := cmd.Result()
				if err != nil || len(data) == 0 {
					continue
				}

				if data["ended_at"] == "" {
					continue // Skip active sessions
				}

				startedAt, err := time.Parse(time.RFC3339Nano, data["started_at"])
				if err != nil {
					continue
				}

				if startedAt.Before(cutoff) {
					toDelete = append(toDelete, keys[i])
					index := profileSessionsKey(data["profile_id"])
					unindex[index] = append(unindex[index], data["id"])
				}
			}

			if len(toDelete) > 0 {
				// Drop index entries and hashes together
				tx := s.client.TxPipeline()
				for index, ids := range unindex {
					members := make([]interface{}, len(ids))
					for i, id := range ids {
						members[i] = id
					}
					tx.ZRem(ctx, index, members...)
				}
				del := tx.Del(ctx, toDelete...)
				if _, err := tx.Exec(ctx); err != nil {
					return deletedCount, fmt.Errorf("failed to purge sessions: %w", err)
				}
				deletedCount += int(del.Val())
			}
		}

		if cursor == 0 {
			break
		}
	}

	return deletedCount, nil
}
