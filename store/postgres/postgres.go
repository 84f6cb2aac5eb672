// Package postgres provides a PostgreSQL-backed Store for inferrecovery.
//
// Entries live in a single key/value table with a JSONB value and an expiry
// timestamp. Expired rows are invisible to reads and are reset in place by
// increments; PurgeExpired removes them for good.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/inferrecovery"
)

// Store is a PostgreSQL-backed Store.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
	now         func() time.Time
}

var (
	_ inferrecovery.Store       = (*Store)(nil)
	_ inferrecovery.CountReader = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "inferrecovery_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed Store.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "inferrecovery_",
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) entriesTable() string { return s.tablePrefix + "entries" }

// EnsureSchema creates the required table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			key TEXT PRIMARY KEY,
			value JSONB NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[1]s_expires_at_idx ON %[1]s (expires_at);
	`, s.entriesTable())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("inferrecovery/postgres: ensure schema: %w", err)
	}
	return nil
}

// SetWithExpiry stores the JSON encoding of value under key.
func (s *Store) SetWithExpiry(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("inferrecovery/postgres: marshal %s: %w", key, err)
	}

	_, err = s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (key, value, expires_at) VALUES ($1, $2::jsonb, $3)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
			s.entriesTable()),
		key, string(data), s.now().UTC().Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("inferrecovery/postgres: set: %w", err)
	}
	return nil
}

// GetJSON decodes the value under key into dst.
func (s *Store) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT value FROM %s WHERE key = $1 AND expires_at > $2`, s.entriesTable()),
		key, s.now().UTC(),
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inferrecovery/postgres: get: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("inferrecovery/postgres: unmarshal %s: %w", key, err)
	}
	return true, nil
}

// IncrementWithExpiry increments the counter under key in a single statement.
// An expired counter restarts at 1 with a fresh expiry.
func (s *Store) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	now := s.now().UTC()

	var n int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %[1]s AS t (key, value, expires_at) VALUES ($1, '1'::jsonb, $2)
			ON CONFLICT (key) DO UPDATE SET
				value = CASE WHEN t.expires_at <= $3 THEN '1'::jsonb
					ELSE to_jsonb((t.value::text)::bigint + 1) END,
				expires_at = CASE WHEN t.expires_at <= $3 THEN EXCLUDED.expires_at
					ELSE t.expires_at END
			RETURNING (value::text)::bigint`, s.entriesTable()),
		key, now.Add(ttl), now,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("inferrecovery/postgres: increment: %w", err)
	}
	return n, nil
}

// GetCounts reads the counters under keys in a single query.
func (s *Store) GetCounts(ctx context.Context, keys []string) ([]int64, error) {
	counts := make([]int64, len(keys))
	if len(keys) == 0 {
		return counts, nil
	}

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT key, (value::text)::bigint FROM %s WHERE key = ANY($1) AND expires_at > $2`,
			s.entriesTable()),
		keys, s.now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("inferrecovery/postgres: get counts: %w", err)
	}
	defer rows.Close()

	found := make(map[string]int64, len(keys))
	for rows.Next() {
		var (
			key string
			n   int64
		)
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("inferrecovery/postgres: get counts: %w", err)
		}
		found[key] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("inferrecovery/postgres: get counts: %w", err)
	}

	for i, key := range keys {
		counts[i] = found[key]
	}
	return counts, nil
}

// PurgeExpired deletes expired rows and returns how many were removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= $1`, s.entriesTable()),
		s.now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("inferrecovery/postgres: purge: %w", err)
	}
	return tag.RowsAffected(), nil
}
