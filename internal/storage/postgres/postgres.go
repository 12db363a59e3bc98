// Package postgres implements storage.Store on PostgreSQL using pgx.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/screentime/internal/config"
	"github.com/goodtune/screentime/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for goose
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

var _ storage.Store = (*Store)(nil)

// Store implements the storage.Store interface using PostgreSQL
type Store struct {
	pool     *pgxpool.Pool
	configs  *configStore
	balances *balanceStore
	sessions *sessionStore
	grants   *grantStore
	profiles *profileStore
}

// Open connects to PostgreSQL, optionally applying migrations first
func Open(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	if cfg.AutoMigrate {
		if err := Migrate(cfg.DSN); err != nil {
			return nil, err
		}
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	return New(pool), nil
}

// New wraps an existing pool
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:     pool,
		configs:  &configStore{pool: pool},
		balances: &balanceStore{pool: pool},
		sessions: &sessionStore{pool: pool},
		grants:   &grantStore{pool: pool},
		profiles: &profileStore{pool: pool},
	}
}

// Migrate applies all pending migrations
func Migrate(dsn string) error {
	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return fmt.Errorf("opening migration connection: %w", err)
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Close closes the pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping verifies the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Configs returns the ConfigStore implementation
func (s *Store) Configs() storage.ConfigStore { return s.configs }

// Balances returns the BalanceStore implementation
func (s *Store) Balances() storage.BalanceStore { return s.balances }

// Sessions returns the SessionStore implementation
func (s *Store) Sessions() storage.SessionStore { return s.sessions }

// Grants returns the GrantStore implementation
func (s *Store) Grants() storage.GrantStore { return s.grants }

// Profiles returns the ProfileStore implementation
func (s *Store) Profiles() storage.ProfileStore { return s.profiles }

// notFound maps pgx.ErrNoRows to storage.ErrNotFound
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

// parseDay converts a viewing day string into a DATE parameter
func parseDay(day string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q: %w", day, err)
	}
	return t, nil
}
