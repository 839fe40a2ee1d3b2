// Package sqlstore provides SQLite and Postgres backed implementations of
// store.Store, for deployments that want rate-limit state to survive a
// process restart or be shared by a fleet of routers fronted by a single
// database (the core still treats this one database as the sole
// authoritative store — see store.Store's doc comment).
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/freetier/llmrouter/internal/store"

	// Register the Postgres SQL driver.
	_ "github.com/lib/pq"
	// Register the SQLite SQL driver.
	_ "modernc.org/sqlite"
)

type dialect string

const (
	dialectSQLite   dialect = "sqlite"
	dialectPostgres dialect = "postgres"
)

// Store persists rate-limit state in SQLite or Postgres.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// NewSQLite creates a SQLite-backed Store. dsn may be a file path (e.g.
// /var/lib/llmrouter/state.db) or a full SQLite DSN.
func NewSQLite(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "llmrouter-state.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	s := &Store{db: db, dialect: dialectSQLite}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgres creates a Postgres-backed Store.
func NewPostgres(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	s := &Store{db: db, dialect: dialectPostgres}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping %s store: %w", s.dialect, err)
	}

	var ddl string
	switch s.dialect {
	case dialectPostgres:
		ddl = `
CREATE TABLE IF NOT EXISTS rl_usage (
	key TEXT PRIMARY KEY,
	request_count BIGINT NOT NULL,
	token_count BIGINT NOT NULL,
	window_start TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NULL
);
CREATE TABLE IF NOT EXISTS rl_cooldown (
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (provider, model)
);
CREATE TABLE IF NOT EXISTS rl_latency (
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	ema_millis DOUBLE PRECISION NOT NULL,
	samples INT NOT NULL,
	last_update TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (provider, model)
);`
	default:
		ddl = `
CREATE TABLE IF NOT EXISTS rl_usage (
	key TEXT PRIMARY KEY,
	request_count INTEGER NOT NULL,
	token_count INTEGER NOT NULL,
	window_start DATETIME NOT NULL,
	expires_at DATETIME NULL
);
CREATE TABLE IF NOT EXISTS rl_cooldown (
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	expires_at DATETIME NOT NULL,
	PRIMARY KEY (provider, model)
);
CREATE TABLE IF NOT EXISTS rl_latency (
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	ema_millis REAL NOT NULL,
	samples INTEGER NOT NULL,
	last_update DATETIME NOT NULL,
	PRIMARY KEY (provider, model)
);`
	}

	for _, stmt := range strings.Split(ddl, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create %s schema: %w", s.dialect, err)
		}
	}
	return nil
}

// GetUsage implements store.Store.
func (s *Store) GetUsage(ctx context.Context, key string) (*store.UsageRecord, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT request_count, token_count, window_start, expires_at FROM rl_usage WHERE key = ?`), key)

	var rec store.UsageRecord
	var expiresAt sql.NullTime
	if err := row.Scan(&rec.RequestCount, &rec.TokenCount, &rec.WindowStart, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get usage %q: %w", key, err)
	}
	if expiresAt.Valid && time.Now().After(expiresAt.Time) {
		_, _ = s.db.ExecContext(ctx, s.rebind(`DELETE FROM rl_usage WHERE key = ?`), key)
		return nil, nil
	}
	return &rec, nil
}

// SetUsage implements store.Store.
func (s *Store) SetUsage(ctx context.Context, key string, record store.UsageRecord, ttl time.Duration) error {
	expiresAt := s.expiryArg(ttl)
	_, err := s.db.ExecContext(ctx, s.upsertUsageSQL(),
		key, record.RequestCount, record.TokenCount, record.WindowStart, expiresAt)
	if err != nil {
		return fmt.Errorf("set usage %q: %w", key, err)
	}
	return nil
}

// IncrementUsage implements store.Store. The read-modify-write runs
// inside a single database transaction so concurrent callers on the same
// key serialize through the row lock the transaction takes.
func (s *Store) IncrementUsage(ctx context.Context, key string, deltaRequests, deltaTokens int64, windowStart time.Time, ttl time.Duration) (store.UsageRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.UsageRecord{}, fmt.Errorf("increment usage %q: begin tx: %w", key, err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		s.rebind(`SELECT request_count, token_count, window_start, expires_at FROM rl_usage WHERE key = ?`), key)

	var existing store.UsageRecord
	var expiresAt sql.NullTime
	found := true
	if err := row.Scan(&existing.RequestCount, &existing.TokenCount, &existing.WindowStart, &expiresAt); err != nil {
		if err != sql.ErrNoRows {
			return store.UsageRecord{}, fmt.Errorf("increment usage %q: select: %w", key, err)
		}
		found = false
	}

	expired := found && expiresAt.Valid && time.Now().After(expiresAt.Time)
	result := existing
	if !found || expired || !existing.WindowStart.Equal(windowStart) {
		result = store.UsageRecord{RequestCount: deltaRequests, TokenCount: deltaTokens, WindowStart: windowStart}
	} else {
		result.RequestCount += deltaRequests
		result.TokenCount += deltaTokens
	}

	newExpiry := s.expiryArg(ttl)
	if _, err := tx.ExecContext(ctx, s.upsertUsageSQLTx(), key, result.RequestCount, result.TokenCount, result.WindowStart, newExpiry); err != nil {
		return store.UsageRecord{}, fmt.Errorf("increment usage %q: upsert: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return store.UsageRecord{}, fmt.Errorf("increment usage %q: commit: %w", key, err)
	}
	return result, nil
}

func (s *Store) upsertUsageSQL() string   { return s.upsertUsageSQLTx() }
func (s *Store) upsertUsageSQLTx() string {
	switch s.dialect {
	case dialectPostgres:
		return `INSERT INTO rl_usage (key, request_count, token_count, window_start, expires_at) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (key) DO UPDATE SET request_count = excluded.request_count, token_count = excluded.token_count, window_start = excluded.window_start, expires_at = excluded.expires_at`
	default:
		return `INSERT INTO rl_usage (key, request_count, token_count, window_start, expires_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (key) DO UPDATE SET request_count = excluded.request_count, token_count = excluded.token_count, window_start = excluded.window_start, expires_at = excluded.expires_at`
	}
}

// GetCooldown implements store.Store.
func (s *Store) GetCooldown(ctx context.Context, provider, model string) (*store.CooldownRecord, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT expires_at FROM rl_cooldown WHERE provider = ? AND model = ?`), provider, model)

	var rec store.CooldownRecord
	if err := row.Scan(&rec.ExpiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get cooldown %s/%s: %w", provider, model, err)
	}
	if !time.Now().Before(rec.ExpiresAt) {
		_, _ = s.db.ExecContext(ctx, s.rebind(`DELETE FROM rl_cooldown WHERE provider = ? AND model = ?`), provider, model)
		return nil, nil
	}
	return &rec, nil
}

// SetCooldown implements store.Store.
func (s *Store) SetCooldown(ctx context.Context, provider, model string, record store.CooldownRecord) error {
	var q string
	switch s.dialect {
	case dialectPostgres:
		q = `INSERT INTO rl_cooldown (provider, model, expires_at) VALUES ($1, $2, $3)
ON CONFLICT (provider, model) DO UPDATE SET expires_at = excluded.expires_at`
	default:
		q = `INSERT INTO rl_cooldown (provider, model, expires_at) VALUES (?, ?, ?)
ON CONFLICT (provider, model) DO UPDATE SET expires_at = excluded.expires_at`
	}
	if _, err := s.db.ExecContext(ctx, q, provider, model, record.ExpiresAt); err != nil {
		return fmt.Errorf("set cooldown %s/%s: %w", provider, model, err)
	}
	return nil
}

// RemoveCooldown implements store.Store.
func (s *Store) RemoveCooldown(ctx context.Context, provider, model string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM rl_cooldown WHERE provider = ? AND model = ?`), provider, model); err != nil {
		return fmt.Errorf("remove cooldown %s/%s: %w", provider, model, err)
	}
	return nil
}

// GetLatency implements store.Store.
func (s *Store) GetLatency(ctx context.Context, provider, model string) (*store.LatencyRecord, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT ema_millis, samples, last_update FROM rl_latency WHERE provider = ? AND model = ?`), provider, model)

	var rec store.LatencyRecord
	if err := row.Scan(&rec.EMAMillis, &rec.Samples, &rec.LastUpdate); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get latency %s/%s: %w", provider, model, err)
	}
	return &rec, nil
}

// UpdateLatency implements store.Store.
func (s *Store) UpdateLatency(ctx context.Context, provider, model string, sampleMillis float64) (store.LatencyRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.LatencyRecord{}, fmt.Errorf("update latency %s/%s: begin tx: %w", provider, model, err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		s.rebind(`SELECT ema_millis, samples FROM rl_latency WHERE provider = ? AND model = ?`), provider, model)

	var rec store.LatencyRecord
	found := true
	if err := row.Scan(&rec.EMAMillis, &rec.Samples); err != nil {
		if err != sql.ErrNoRows {
			return store.LatencyRecord{}, fmt.Errorf("update latency %s/%s: select: %w", provider, model, err)
		}
		found = false
	}

	if !found {
		rec = store.LatencyRecord{EMAMillis: sampleMillis, Samples: 1, LastUpdate: time.Now()}
	} else {
		rec.EMAMillis = store.EMADecay*rec.EMAMillis + (1-store.EMADecay)*sampleMillis
		if rec.Samples < store.DefaultLatencySampleCap {
			rec.Samples++
		}
		rec.LastUpdate = time.Now()
	}

	var q string
	switch s.dialect {
	case dialectPostgres:
		q = `INSERT INTO rl_latency (provider, model, ema_millis, samples, last_update) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (provider, model) DO UPDATE SET ema_millis = excluded.ema_millis, samples = excluded.samples, last_update = excluded.last_update`
	default:
		q = `INSERT INTO rl_latency (provider, model, ema_millis, samples, last_update) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (provider, model) DO UPDATE SET ema_millis = excluded.ema_millis, samples = excluded.samples, last_update = excluded.last_update`
	}
	if _, err := tx.ExecContext(ctx, q, provider, model, rec.EMAMillis, rec.Samples, rec.LastUpdate); err != nil {
		return store.LatencyRecord{}, fmt.Errorf("update latency %s/%s: upsert: %w", provider, model, err)
	}
	if err := tx.Commit(); err != nil {
		return store.LatencyRecord{}, fmt.Errorf("update latency %s/%s: commit: %w", provider, model, err)
	}
	return rec, nil
}

// Clear implements store.Store.
func (s *Store) Clear(ctx context.Context) error {
	for _, table := range []string{"rl_usage", "rl_cooldown", "rl_latency"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) expiryArg(ttl time.Duration) interface{} {
	if ttl <= 0 {
		return nil
	}
	return time.Now().Add(ttl)
}

// rebind rewrites "?" placeholders to "$N" for Postgres; SQLite keeps "?".
func (s *Store) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
