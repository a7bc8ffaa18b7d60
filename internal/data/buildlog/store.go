// Package buildlog keeps a SQLite ledger of finished worker builds.
package buildlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"omniworker/internal/core/ports"

	_ "modernc.org/sqlite"
)

const (
	driverName  = "sqlite"
	maxAttempts = 5
)

// Entry is one stored build.
type Entry struct {
	ports.BuildRecord
	CreatedAt time.Time
}

type Store struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

var _ ports.BuildRecorder = (*Store)(nil)

// Open creates the database file and its directory when missing.
// busyTimeout falls back to two seconds.
func Open(path string, busyTimeout time.Duration) (*Store, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("build log path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("build log path %q is a directory, expected file", cleanPath)
	}

	dir := filepath.Dir(cleanPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create build log directory %q: %w", dir, err)
		}
	}

	if busyTimeout <= 0 {
		busyTimeout = 2 * time.Second
	}
	// busy_timeout + WAL reduce lock conflicts when watch mode rebuilds often.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cleanPath, busyTimeout.Milliseconds())
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite build log %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite build log %q: %w", cleanPath, err)
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema %q: %w", cleanPath, err)
	}

	return &Store{path: cleanPath, db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("build log is not open")
	}
	return s.db.PingContext(ctx)
}

const upsertBuild = `
INSERT INTO builds (
  worker_id, source_path, artifact_hash, artifact_bytes, reference_count,
  classified_count, rewritten_lines, duration_ms, built_at_utc, launcher
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(worker_id) DO UPDATE SET
  source_path=excluded.source_path,
  artifact_hash=excluded.artifact_hash,
  artifact_bytes=excluded.artifact_bytes,
  reference_count=excluded.reference_count,
  classified_count=excluded.classified_count,
  rewritten_lines=excluded.rewritten_lines,
  duration_ms=excluded.duration_ms,
  built_at_utc=excluded.built_at_utc,
  launcher=excluded.launcher
`

// RecordBuild stores rec. Recording the same worker id twice overwrites
// the earlier row.
func (s *Store) RecordBuild(ctx context.Context, rec ports.BuildRecord) error {
	return s.RecordBuilds(ctx, []ports.BuildRecord{rec})
}

// RecordBuilds stores recs in one transaction. Nothing is written when any
// record is invalid.
func (s *Store) RecordBuilds(ctx context.Context, recs []ports.BuildRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range recs {
		if strings.TrimSpace(recs[i].WorkerID) == "" {
			return fmt.Errorf("build record requires a worker id")
		}
		if recs[i].BuiltAt.IsZero() {
			recs[i].BuiltAt = time.Now().UTC()
		}
	}
	if len(recs) == 0 {
		return nil
	}

	return s.withRetry("record builds", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if _, err := tx.ExecContext(ctx, upsertBuild,
				rec.WorkerID,
				rec.SourcePath,
				rec.ArtifactHash,
				rec.ArtifactBytes,
				rec.References,
				rec.Classified,
				rec.RewrittenLines,
				rec.Duration.Milliseconds(),
				rec.BuiltAt.UTC().Format(time.RFC3339Nano),
				rec.Launcher,
			); err != nil {
				_ = tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
}

// Recent returns up to limit builds of sourcePath, newest first. An empty
// sourcePath lists builds of every module.
func (s *Store) Recent(ctx context.Context, sourcePath string, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}

	query := `
SELECT
  worker_id, source_path, artifact_hash, artifact_bytes, reference_count,
  classified_count, rewritten_lines, duration_ms, built_at_utc, launcher, created_at_utc
FROM builds
`
	args := make([]any, 0, 2)
	if strings.TrimSpace(sourcePath) != "" {
		query += " WHERE source_path = ?"
		args = append(args, sourcePath)
	}
	query += " ORDER BY built_at_utc DESC, worker_id ASC LIMIT ?"
	args = append(args, limit)

	var rows *sql.Rows
	err := s.withRetry("load builds", func() error {
		var qErr error
		rows, qErr = s.db.QueryContext(ctx, query, args...)
		return qErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			entry        Entry
			durationMS   int64
			builtAtRaw   string
			createdAtRaw string
		)
		if err := rows.Scan(
			&entry.WorkerID,
			&entry.SourcePath,
			&entry.ArtifactHash,
			&entry.ArtifactBytes,
			&entry.References,
			&entry.Classified,
			&entry.RewrittenLines,
			&durationMS,
			&builtAtRaw,
			&entry.Launcher,
			&createdAtRaw,
		); err != nil {
			return nil, fmt.Errorf("scan build row: %w", err)
		}

		builtAt, err := time.Parse(time.RFC3339Nano, builtAtRaw)
		if err != nil {
			return nil, fmt.Errorf("parse build timestamp %q: %w", builtAtRaw, err)
		}
		entry.BuiltAt = builtAt.UTC()
		entry.Duration = time.Duration(durationMS) * time.Millisecond
		if created, err := time.Parse("2006-01-02 15:04:05", createdAtRaw); err == nil {
			entry.CreatedAt = created.UTC()
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate build rows: %w", err)
	}
	return entries, nil
}

func (s *Store) withRetry(op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isLockError(err) || attempt == maxAttempts {
			break
		}
		time.Sleep(time.Duration(attempt*25) * time.Millisecond)
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}

func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}
