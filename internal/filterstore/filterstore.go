// Package filterstore persists the relevance filter's pubkey list (spec.md
// §6's "out of scope... persistent key-value store for the filter list",
// specified concretely in SPEC_FULL.md §4.11). Grounded on
// internal/database/database.go's dual-backend dispatch (Pool for
// Postgres, SqlDB for SQLite) and original src/db.rs's single-table
// settings(key, value) schema with upsert semantics.
package filterstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const filterListKey = "filter_list"

// Store is the persistence contract the control endpoint reads and writes
// through.
type Store interface {
	Get(ctx context.Context) ([]string, error)
	Set(ctx context.Context, pubkeys []string) error
	Close() error
}

// breakerStore wraps an inner Store with a sony/gobreaker circuit breaker so
// a flaky backend degrades control-plane writes (503s) without touching the
// hot publish path, which never calls into filterstore.
type breakerStore struct {
	inner   Store
	breaker *gobreaker.CircuitBreaker
}

func wrapBreaker(inner Store, name string) *breakerStore {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
	})
	return &breakerStore{inner: inner, breaker: cb}
}

func (s *breakerStore) Get(ctx context.Context) ([]string, error) {
	v, err := s.breaker.Execute(func() (interface{}, error) {
		return s.inner.Get(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (s *breakerStore) Set(ctx context.Context, pubkeys []string) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.inner.Set(ctx, pubkeys)
	})
	return err
}

func (s *breakerStore) Close() error { return s.inner.Close() }

// New dispatches on driver ("sqlite" | "postgres") and wraps the result in a
// circuit breaker, mirroring internal/database/database.go's New(cfg, logger).
func New(driver, dsn string, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch driver {
	case "sqlite":
		inner, err := newSQLiteStore(dsn, logger)
		if err != nil {
			return nil, err
		}
		return wrapBreaker(inner, "filterstore-sqlite"), nil
	case "postgres":
		inner, err := newPostgresStore(dsn, logger)
		if err != nil {
			return nil, err
		}
		return wrapBreaker(inner, "filterstore-postgres"), nil
	default:
		return nil, fmt.Errorf("filterstore: unsupported driver %q", driver)
	}
}

// --- SQLite backend ---

type sqliteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func newSQLiteStore(dsn string, logger *zap.Logger) (*sqliteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("filterstore: open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("filterstore: ping sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS settings (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("filterstore: create sqlite schema: %w", err)
	}
	logger.Info("filter store connected", zap.String("driver", "sqlite"))
	return &sqliteStore{db: db, logger: logger}, nil
}

func (s *sqliteStore) Get(ctx context.Context) ([]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, filterListKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filterstore: sqlite get: %w", err)
	}
	return decodeList(raw)
}

func (s *sqliteStore) Set(ctx context.Context, pubkeys []string) error {
	raw, err := encodeList(pubkeys)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		filterListKey, raw)
	if err != nil {
		return fmt.Errorf("filterstore: sqlite set: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

// --- Postgres backend ---

type postgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func newPostgresStore(dsn string, logger *zap.Logger) (*postgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("filterstore: parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 4
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("filterstore: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("filterstore: ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS settings (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("filterstore: create postgres schema: %w", err)
	}
	logger.Info("filter store connected", zap.String("driver", "postgres"))
	return &postgresStore{pool: pool, logger: logger}, nil
}

func (s *postgresStore) Get(ctx context.Context) ([]string, error) {
	var raw string
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, filterListKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filterstore: postgres get: %w", err)
	}
	return decodeList(raw)
}

func (s *postgresStore) Set(ctx context.Context, pubkeys []string) error {
	raw, err := encodeList(pubkeys)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		filterListKey, raw)
	if err != nil {
		return fmt.Errorf("filterstore: postgres set: %w", err)
	}
	return nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

func encodeList(pubkeys []string) (string, error) {
	raw, err := json.Marshal(pubkeys)
	if err != nil {
		return "", fmt.Errorf("filterstore: encode filter list: %w", err)
	}
	return string(raw), nil
}

func decodeList(raw string) ([]string, error) {
	var pubkeys []string
	if err := json.Unmarshal([]byte(raw), &pubkeys); err != nil {
		return nil, fmt.Errorf("filterstore: decode filter list: %w", err)
	}
	return pubkeys, nil
}
