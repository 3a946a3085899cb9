// Package sqlite keeps a local catalog of recorded papers in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/JakeFAU/proceedings-crawler/internal/crawler"
)

// Sink appends paper records to a SQLite database.
type Sink struct {
	db *sql.DB
}

// Open opens or creates the database at path and creates the schema.
func Open(path string) (*Sink, error) {
	if path == "" {
		return nil, errors.New("sqlite.path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer avoids SQLITE_BUSY between workers.
	db.SetMaxOpenConns(1)

	s := &Sink{db: db}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return s, nil
}

func (s *Sink) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS papers (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			year INTEGER NOT NULL,
			title TEXT NOT NULL,
			authors TEXT NOT NULL,
			detail_url TEXT NOT NULL,
			pdf_url TEXT,
			artifact_path TEXT,
			artifact_bytes INTEGER,
			artifact_sha256 TEXT,
			recorded_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_papers_year ON papers(year)`,
		`CREATE INDEX IF NOT EXISTS idx_papers_run ON papers(run_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Append inserts one row.
func (s *Sink) Append(ctx context.Context, rec crawler.PaperRecord) error {
	var (
		pdf    sql.NullString
		path   sql.NullString
		size   sql.NullInt64
		digest sql.NullString
	)
	if rec.PDFURL != "" {
		pdf = sql.NullString{String: rec.PDFURL, Valid: true}
	}
	if rec.Artifact != nil {
		path = sql.NullString{String: rec.Artifact.Path, Valid: true}
		size = sql.NullInt64{Int64: rec.Artifact.Bytes, Valid: true}
		digest = sql.NullString{String: rec.Artifact.SHA256, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO papers (run_id, year, title, authors, detail_url, pdf_url, artifact_path, artifact_bytes, artifact_sha256)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Year, rec.Title, crawler.JoinAuthors(rec.Authors), rec.DetailURL, pdf, path, size, digest,
	)
	if err != nil {
		return fmt.Errorf("insert paper: %w", err)
	}
	return nil
}

// CountByYear reports how many rows a run recorded per year.
func (s *Sink) CountByYear(ctx context.Context, runID string) (map[int]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT year, COUNT(*) FROM papers WHERE run_id = ? GROUP BY year`, runID)
	if err != nil {
		return nil, fmt.Errorf("count papers: %w", err)
	}
	defer rows.Close()

	out := make(map[int]int)
	for rows.Next() {
		var year, n int
		if err := rows.Scan(&year, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[year] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return out, nil
}

// Close releases the database connection.
func (s *Sink) Close() error {
	return s.db.Close()
}
