// Package sqlitestore keeps permission levels in a local SQLite database
// opened in WAL mode.
package sqlitestore

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"pkt.systems/ledgerd/internal/permission"
)

const schema = `CREATE TABLE IF NOT EXISTS user_permissions (
	user_id    TEXT PRIMARY KEY,
	level      INTEGER NOT NULL CHECK (level BETWEEN 0 AND 3),
	updated_at INTEGER NOT NULL
);`

// Store implements permission.Store on a sqlitex pool.
type Store struct {
	pool *sqlitex.Pool
	path string
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlitestore: path required")
	}
	poolSize := max(runtime.NumCPU(), 4)
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	store := &Store{pool: pool, path: path}
	if err := store.migrate(); err != nil {
		_ = pool.Close()
		return nil, err
	}
	return store, nil
}

func prepareConn(conn *sqlite.Conn) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitestore: %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) migrate() error {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("sqlitestore: take: %w", err)
	}
	defer s.pool.Put(conn)
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("sqlitestore: migrate: %w", err)
	}
	return nil
}

// Get returns the user's level.
func (s *Store) Get(ctx context.Context, user string) (permission.Level, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return permission.ReadOnly, false, fmt.Errorf("sqlitestore: take: %w", err)
	}
	defer s.pool.Put(conn)
	return get(conn, user)
}

func get(conn *sqlite.Conn, user string) (permission.Level, bool, error) {
	level := permission.ReadOnly
	found := false
	err := sqlitex.Execute(conn, `SELECT level FROM user_permissions WHERE user_id = ?`, &sqlitex.ExecOptions{
		Args: []any{user},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			level = permission.Level(stmt.ColumnInt64(0))
			found = true
			return nil
		},
	})
	if err != nil {
		return permission.ReadOnly, false, fmt.Errorf("sqlitestore: get: %w", err)
	}
	return level, found, nil
}

// Set upserts the user's level.
func (s *Store) Set(ctx context.Context, user string, level permission.Level) error {
	if user == "" {
		return fmt.Errorf("sqlitestore: user required")
	}
	if !level.Valid() {
		return fmt.Errorf("%w: %d", permission.ErrInvalidLevel, int(level))
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlitestore: take: %w", err)
	}
	defer s.pool.Put(conn)
	const q = `INSERT INTO user_permissions (user_id, level, updated_at) VALUES (?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET level = excluded.level, updated_at = excluded.updated_at`
	if err := sqlitex.Execute(conn, q, &sqlitex.ExecOptions{
		Args: []any{user, int64(level), time.Now().Unix()},
	}); err != nil {
		return fmt.Errorf("sqlitestore: set: %w", err)
	}
	return nil
}

// EnsureDefault inserts a ReadOnly record unless one exists.
func (s *Store) EnsureDefault(ctx context.Context, user string) (level permission.Level, err error) {
	if user == "" {
		return permission.ReadOnly, fmt.Errorf("sqlitestore: user required")
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return permission.ReadOnly, fmt.Errorf("sqlitestore: take: %w", err)
	}
	defer s.pool.Put(conn)
	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return permission.ReadOnly, fmt.Errorf("sqlitestore: begin: %w", err)
	}
	defer endFn(&err)
	const q = `INSERT INTO user_permissions (user_id, level, updated_at) VALUES (?, 0, ?)
ON CONFLICT (user_id) DO NOTHING`
	if err = sqlitex.Execute(conn, q, &sqlitex.ExecOptions{
		Args: []any{user, time.Now().Unix()},
	}); err != nil {
		return permission.ReadOnly, fmt.Errorf("sqlitestore: ensure default: %w", err)
	}
	level, _, err = get(conn, user)
	return level, err
}

// Close closes the pool.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlitestore: close %s: %w", s.path, err)
	}
	return nil
}
