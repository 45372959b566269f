package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/announce-relay/internal/model"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS seen_announcements (
		key          UUID PRIMARY KEY,
		catalog_id   BIGINT NOT NULL,
		title        TEXT NOT NULL,
		source       TEXT NOT NULL,
		published_at TIMESTAMPTZ NOT NULL,
		seen_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS seen_announcements_seen_at_idx
		ON seen_announcements (seen_at)`,
}

const markSeenSQL = `
	INSERT INTO seen_announcements (key, catalog_id, title, source, published_at)
	VALUES ($1::uuid, $2, $3, $4, $5)
	ON CONFLICT (key) DO NOTHING`

const pruneSQL = `DELETE FROM seen_announcements WHERE seen_at < $1`

// DB is the subset of pgxpool.Pool used by PostgresStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps the seen set in PostgreSQL.
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a store on an open pool.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the table and index if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// MarkSeen inserts the key. A conflict means it was already seen.
func (s *PostgresStore) MarkSeen(ctx context.Context, a model.Announcement) (bool, error) {
	tag, err := s.db.Exec(ctx, markSeenSQL,
		a.Key.String(),
		a.CatalogID,
		a.Title,
		string(a.Source),
		a.Published(),
	)
	if err != nil {
		return false, fmt.Errorf("mark seen: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// PruneBefore deletes rows seen before t and returns how many were removed.
func (s *PostgresStore) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, pruneSQL, t)
	if err != nil {
		return 0, fmt.Errorf("prune seen: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the number of stored keys.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM seen_announcements`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count seen: %w", err)
	}
	return n, nil
}
