// Package postgres mirrors paper records into a Postgres table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/proceedings-crawler/internal/crawler"
)

const defaultTable = "papers"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for paper rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Sink writes paper records into Postgres.
type Sink struct {
	pool  execCloser
	table string
}

// New connects to Postgres and ensures the table exists.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
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
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Sink{pool: pool, table: table}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a sink from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string) (*Sink, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Sink{pool: pool, table: name}, nil
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

// EnsureSchema creates the table when it is missing.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL,
	year INTEGER NOT NULL,
	title TEXT NOT NULL,
	authors TEXT[] NOT NULL,
	detail_url TEXT NOT NULL,
	pdf_url TEXT,
	artifact_path TEXT,
	artifact_bytes BIGINT,
	artifact_sha256 TEXT,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Append inserts one row.
func (s *Sink) Append(ctx context.Context, rec crawler.PaperRecord) error {
	if s == nil || s.pool == nil {
		return errors.New("postgres sink is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	year,
	title,
	authors,
	detail_url,
	pdf_url,
	artifact_path,
	artifact_bytes,
	artifact_sha256
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, s.table)

	authors := rec.Authors
	if authors == nil {
		authors = []string{}
	}
	args := []any{
		rec.RunID,
		rec.Year,
		rec.Title,
		authors,
		rec.DetailURL,
		nullable(rec.PDFURL),
		nil,
		nil,
		nil,
	}
	if rec.Artifact != nil {
		args[6] = rec.Artifact.Path
		args[7] = rec.Artifact.Bytes
		args[8] = rec.Artifact.SHA256
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert paper: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Sink) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
