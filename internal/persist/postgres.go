package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/publication-harvester/internal/publication"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "publications"

// PostgresConfig controls the export pool.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresStore upserts merged records keyed by link.
type PostgresStore struct {
	pool  execCloser
	table string
}

// NewPostgresStore connects a pool using cfg.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresStore{pool: pool, table: table}, nil
}

// NewPostgresStoreWithPool constructs a store from an existing pool.
func NewPostgresStoreWithPool(pool execCloser, table string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the table when it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	link TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	authors JSONB NOT NULL,
	published_date TEXT,
	abstract TEXT NOT NULL,
	run_id TEXT NOT NULL,
	harvested_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// SavePublications upserts every record. A later run replaces the row for
// a link wholesale.
func (s *PostgresStore) SavePublications(ctx context.Context, runID string, records []publication.Record, at time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	link,
	title,
	authors,
	published_date,
	abstract,
	run_id,
	harvested_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)
ON CONFLICT (link) DO UPDATE SET
	title = EXCLUDED.title,
	authors = EXCLUDED.authors,
	published_date = EXCLUDED.published_date,
	abstract = EXCLUDED.abstract,
	run_id = EXCLUDED.run_id,
	harvested_at = EXCLUDED.harvested_at`, s.table)

	for _, rec := range records {
		authors := rec.Authors
		if authors == nil {
			authors = []publication.AuthorRef{}
		}
		authorsJSON, err := json.Marshal(authors)
		if err != nil {
			return fmt.Errorf("marshal authors for %s: %w", rec.Link, err)
		}
		var date any
		if rec.PublishedDate != nil {
			date = *rec.PublishedDate
		}
		if _, err := s.pool.Exec(ctx, query,
			rec.Link,
			rec.Title,
			authorsJSON,
			date,
			rec.Abstract,
			runID,
			at,
		); err != nil {
			return fmt.Errorf("upsert publication %s: %w", rec.Link, err)
		}
	}
	return nil
}
