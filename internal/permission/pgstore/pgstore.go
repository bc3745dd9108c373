// Package pgstore keeps permission levels in PostgreSQL.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pkt.systems/ledgerd/internal/permission"
)

const schema = `CREATE TABLE IF NOT EXISTS ledgerd_user_permissions (
	user_id    TEXT PRIMARY KEY,
	level      SMALLINT NOT NULL CHECK (level BETWEEN 0 AND 3),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Store implements permission.Store on a pgx pool.
type Store struct {
	pool  *pgxpool.Pool
	owned bool
}

// Open connects to dsn, verifies the connection and creates the table when
// missing.
func Open(ctx context.Context, dsn string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	store := &Store{pool: pool, owned: true}
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing pool. The caller keeps ownership of pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the permissions table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("pgstore: migrate: %w", err)
	}
	return nil
}

// Get returns the user's level.
func (s *Store) Get(ctx context.Context, user string) (permission.Level, bool, error) {
	var level int16
	err := s.pool.QueryRow(ctx, `SELECT level FROM ledgerd_user_permissions WHERE user_id = $1`, user).Scan(&level)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return permission.ReadOnly, false, nil
		}
		return permission.ReadOnly, false, fmt.Errorf("pgstore: get: %w", err)
	}
	return permission.Level(level), true, nil
}

// Set upserts the user's level.
func (s *Store) Set(ctx context.Context, user string, level permission.Level) error {
	if user == "" {
		return fmt.Errorf("pgstore: user required")
	}
	if !level.Valid() {
		return fmt.Errorf("%w: %d", permission.ErrInvalidLevel, int(level))
	}
	const q = `INSERT INTO ledgerd_user_permissions (user_id, level)
VALUES ($1, $2)
ON CONFLICT (user_id) DO UPDATE SET level = EXCLUDED.level, updated_at = now()`
	if _, err := s.pool.Exec(ctx, q, user, int16(level)); err != nil {
		return fmt.Errorf("pgstore: set: %w", err)
	}
	return nil
}

// EnsureDefault inserts a ReadOnly record unless one exists.
func (s *Store) EnsureDefault(ctx context.Context, user string) (permission.Level, error) {
	if user == "" {
		return permission.ReadOnly, fmt.Errorf("pgstore: user required")
	}
	const q = `INSERT INTO ledgerd_user_permissions (user_id, level)
VALUES ($1, 0)
ON CONFLICT (user_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, q, user); err != nil {
		return permission.ReadOnly, fmt.Errorf("pgstore: ensure default: %w", err)
	}
	level, _, err := s.Get(ctx, user)
	return level, err
}

// Close closes the pool when Open created it.
func (s *Store) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}
