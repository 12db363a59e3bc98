package postgres

import (
	"context"
	"fmt"

	"github.com/goodtune/screentime/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

type profileStore struct {
	pool *pgxpool.Pool
}

// Upsert creates or replaces a profile
func (s *profileStore) Upsert(ctx context.Context, profile storage.Profile) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (id, account_id, name, limited)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET
		   account_id = EXCLUDED.account_id,
		   name = EXCLUDED.name,
		   limited = EXCLUDED.limited`,
		profile.ID, profile.AccountID, profile.Name, profile.Limited)
	if err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}
	return nil
}

// Get retrieves a profile by ID
func (s *profileStore) Get(ctx context.Context, id string) (*storage.Profile, error) {
	var p storage.Profile
	err := s.pool.QueryRow(ctx,
		`SELECT id, account_id, name, limited, created_at FROM profiles WHERE id = $1`, id,
	).Scan(&p.ID, &p.AccountID, &p.Name, &p.Limited, &p.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// ListByAccount returns an account's profiles ordered by name
func (s *profileStore) ListByAccount(ctx context.Context, accountID string) ([]storage.Profile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, name, limited, created_at FROM profiles
		 WHERE account_id = $1 ORDER BY name, id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}
	defer rows.Close()

	profiles := make([]storage.Profile, 0)
	for rows.Next() {
		var p storage.Profile
		if err := rows.Scan(&p.ID, &p.AccountID, &p.Name, &p.Limited, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}
