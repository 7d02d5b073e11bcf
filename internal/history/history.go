// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package history records extraction outcomes in a local SQLite database
// so that past runs can be listed and exported.
package history

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.yaml.in/yaml/v3"
)

// OutcomeSuccess is the outcome recorded for a successful extraction.
// Failed extractions record the error kind instead.
const OutcomeSuccess = "success"

// Export formats accepted by Export.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Record is one extraction run.
type Record struct {
	ID          int64     `json:"id" yaml:"id"`
	Path        string    `json:"path" yaml:"path"`
	SHA256      string    `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	Kernel      string    `json:"kernel" yaml:"kernel"`
	Outcome     string    `json:"outcome" yaml:"outcome"`
	Volume      float64   `json:"volume" yaml:"volume"`
	ObjectCount int       `json:"object_count" yaml:"object_count"`
	Error       string    `json:"error,omitempty" yaml:"error,omitempty"`
	RecordedAt  time.Time `json:"recorded_at" yaml:"recorded_at"`
}

// Store manages the history database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the history database at path, creating the
// parent directory and schema if needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			path TEXT NOT NULL,
			sha256 TEXT,
			kernel TEXT NOT NULL,
			outcome TEXT NOT NULL,
			volume REAL,
			object_count INTEGER,
			error TEXT,
			recorded_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_recorded_at ON runs(recorded_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Add inserts rec and returns it with ID and RecordedAt filled in.
// A zero RecordedAt is set to the current time.
func (s *Store) Add(ctx context.Context, rec Record) (Record, error) {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = s.now()
	}
	rec.RecordedAt = rec.RecordedAt.UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (path, sha256, kernel, outcome, volume, object_count, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Path, rec.SHA256, rec.Kernel, rec.Outcome, rec.Volume, rec.ObjectCount,
		rec.Error, rec.RecordedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Record{}, fmt.Errorf("inserting run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Record{}, fmt.Errorf("reading run id: %w", err)
	}
	rec.ID = id
	return rec, nil
}

// List returns up to limit records, newest first. A limit of zero or
// less returns every record.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT id, path, sha256, kernel, outcome, volume, object_count, error, recorded_at
		FROM runs ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r               Record
			digest, errText sql.NullString
			volume          sql.NullFloat64
			count           sql.NullInt64
			recordedAt      string
		)
		if err := rows.Scan(&r.ID, &r.Path, &digest, &r.Kernel, &r.Outcome,
			&volume, &count, &errText, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.SHA256 = digest.String
		r.Volume = volume.Float64
		r.ObjectCount = int(count.Int64)
		r.Error = errText.String
		r.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp of run %d: %w", r.ID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Export writes records to w as JSON or YAML.
func Export(w io.Writer, records []Record, format string) error {
	if records == nil {
		records = []Record{}
	}
	switch format {
	case FormatJSON, "":
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case FormatYAML:
		data, err := yaml.Marshal(records)
		if err != nil {
			return fmt.Errorf("marshaling YAML: %w", err)
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unknown export format %q (want %s or %s)", format, FormatJSON, FormatYAML)
	}
}

// FileDigest returns the hex SHA-256 of the file at path.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
