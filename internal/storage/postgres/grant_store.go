package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/screentime/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

type grantStore struct {
	pool *pgxpool.Pool
}

// Append records a grant in the audit table
func (s *grantStore) Append(ctx context.Context, grant storage.Grant) error {
	d, err := parseDay(grant.Day)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO grants (id, profile_id, issuer_account_id, day, granted_minutes, is_remote, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		grant.ID, grant.ProfileID, grant.IssuerAccountID, d, grant.GrantedMinutes, grant.IsRemote, grant.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting grant: %w", err)
	}
	return nil
}

// ListByProfile returns the newest grants first
func (s *grantStore) ListByProfile(ctx context.Context, profileID string, limit int) ([]storage.Grant, error) {
	query := `SELECT id, profile_id, issuer_account_id, day, granted_minutes, is_remote, created_at
	 FROM grants WHERE profile_id = $1 ORDER BY created_at DESC, id DESC`
	args := []any{profileID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing grants: %w", err)
	}
	defer rows.Close()

	grants := make([]storage.Grant, 0)
	for rows.Next() {
		var g storage.Grant
		var day time.Time
		if err := rows.Scan(&g.ID, &g.ProfileID, &g.IssuerAccountID, &day, &g.GrantedMinutes, &g.IsRemote, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning grant: %w", err)
		}
		g.Day = day.Format("2006-01-02")
		grants = append(grants, g)
	}
	return grants, rows.Err()
}
