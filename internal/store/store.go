package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound indicates the requested record does not exist or is not
// visible to the caller. Cross-tenant reads surface this identically to
// a genuinely missing id.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a conditional state transition did not apply
// because the record was not in the expected state.
var ErrConflict = errors.New("state conflict")

// Store wraps the SQLite database holding all durable state.
type Store struct {
	DB *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// applies pending migrations. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)
	if path == ":memory:" {
		// WAL is meaningless for in-memory databases, and a shared cache
		// keeps every connection on the same database.
		dsn = "file::memory:?mode=memory&cache=shared&_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer; a bounded pool avoids lock churn.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	st := &Store{DB: db}
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return st, nil
}

// Migrate applies all pending schema migrations.
func (s *Store) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	drv, err := sqlite3.WithInstance(s.DB, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// nullTime converts a nullable timestamp for scanning.
func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// execConditional runs a conditional UPDATE and maps "no rows changed"
// onto ErrConflict so the storage layer enforces state-machine guards.
func (s *Store) execConditional(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// execConditionalNotFound is execConditional for updates keyed only by
// id, where zero rows means the record does not exist.
func (s *Store) execConditionalNotFound(ctx context.Context, query string, args ...interface{}) error {
	err := s.execConditional(ctx, query, args...)
	if errors.Is(err, ErrConflict) {
		return ErrNotFound
	}
	return err
}
