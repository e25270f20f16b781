// Package cache persists crawl snapshots between runs in a SQLite
// database. The live database is read-only during a run; commits build a
// staging database and atomically rename it over the live one, so an
// aborted run can never leave the cache half-written.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/mkwatanabe/sitewatch/internal/crawler"
)

// IOError wraps cache I/O failures so callers can tell load failures
// (which abort a run) apart from ordinary fetch errors.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

const schema = `
CREATE TABLE IF NOT EXISTS pages (
	url TEXT PRIMARY KEY,
	page_url TEXT NOT NULL,
	title TEXT,
	fingerprint TEXT NOT NULL,
	etag TEXT,
	last_modified TEXT,
	status_code INTEGER,
	size INTEGER,
	fetched_at TEXT,
	markdown TEXT
);

CREATE TABLE IF NOT EXISTS crawl_history (
	run_id TEXT PRIMARY KEY,
	crawl_date TEXT NOT NULL,
	page_count INTEGER,
	new_count INTEGER,
	updated_count INTEGER,
	deleted_count INTEGER,
	duration_seconds INTEGER
);

CREATE INDEX IF NOT EXISTS idx_history_date ON crawl_history(crawl_date);
`

// Store implements crawler.Cache on a single SQLite file per domain.
type Store struct {
	path   string
	logger *zap.Logger
}

// New creates a Store rooted at dir for the given domain. The directory
// is created; the database file is not (a missing file is a valid empty
// cache on the first run).
func New(dir, domain string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, &IOError{Op: "init", Err: err}
	}
	return &Store{
		path:   filepath.Join(dir, domain+".db"),
		logger: logger,
	}, nil
}

// Path returns the live database file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the previous run's snapshot map. A missing database is an
// empty cache, not an error. Load never mutates state.
func (s *Store) Load(ctx context.Context) (map[string]crawler.Snapshot, error) {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return map[string]crawler.Snapshot{}, nil
	} else if err != nil {
		return nil, &IOError{Op: "stat", Err: err}
	}

	db, err := sql.Open("sqlite", s.path+"?mode=ro")
	if err != nil {
		return nil, &IOError{Op: "open", Err: err}
	}
	defer s.closeDB(db)

	rows, err := db.QueryContext(ctx, `
		SELECT url, page_url, title, fingerprint, etag, last_modified,
		       status_code, size, fetched_at, markdown
		FROM pages`)
	if err != nil {
		return nil, &IOError{Op: "load", Err: err}
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			s.logger.Debug("close cache rows", zap.Error(cerr))
		}
	}()

	snapshots := make(map[string]crawler.Snapshot)
	for rows.Next() {
		var (
			snap      crawler.Snapshot
			fetchedAt string
		)
		if err := rows.Scan(
			&snap.Key, &snap.URL, &snap.Title, &snap.Fingerprint,
			&snap.Validators.ETag, &snap.Validators.LastModified,
			&snap.StatusCode, &snap.Size, &fetchedAt, &snap.Markdown,
		); err != nil {
			return nil, &IOError{Op: "scan", Err: err}
		}
		if ts, perr := time.Parse(time.RFC3339, fetchedAt); perr == nil {
			snap.FetchedAt = ts
		}
		snapshots[snap.Key] = snap
	}
	if err := rows.Err(); err != nil {
		return nil, &IOError{Op: "load", Err: err}
	}
	return snapshots, nil
}

// Commit atomically replaces the cache with the given snapshot map and
// appends one history entry. Prior history rows are carried into the new
// database so the replace does not lose the run log. On any failure the
// live database is left untouched.
func (s *Store) Commit(ctx context.Context, snapshots map[string]crawler.Snapshot, entry crawler.HistoryEntry) error {
	history, err := s.History(ctx, 0)
	if err != nil {
		return err
	}
	history = append(history, entry)

	staging := s.path + ".staging"
	if err := os.Remove(staging); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &IOError{Op: "clean staging", Err: err}
	}

	if err := s.writeStaging(ctx, staging, snapshots, history); err != nil {
		if rmErr := os.Remove(staging); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.logger.Warn("remove staging cache failed", zap.Error(rmErr))
		}
		return err
	}

	if err := os.Rename(staging, s.path); err != nil {
		return &IOError{Op: "swap", Err: err}
	}
	return nil
}

func (s *Store) writeStaging(ctx context.Context, staging string, snapshots map[string]crawler.Snapshot, history []crawler.HistoryEntry) error {
	db, err := sql.Open("sqlite", staging+"?mode=rwc")
	if err != nil {
		return &IOError{Op: "open staging", Err: err}
	}
	defer s.closeDB(db)
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return &IOError{Op: "create schema", Err: err}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &IOError{Op: "begin", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	pageStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pages
		(url, page_url, title, fingerprint, etag, last_modified, status_code, size, fetched_at, markdown)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return &IOError{Op: "prepare", Err: err}
	}
	defer func() {
		if cerr := pageStmt.Close(); cerr != nil {
			s.logger.Debug("close page statement", zap.Error(cerr))
		}
	}()

	for _, snap := range snapshots {
		if _, err := pageStmt.ExecContext(ctx,
			snap.Key, snap.URL, snap.Title, snap.Fingerprint,
			snap.Validators.ETag, snap.Validators.LastModified,
			snap.StatusCode, snap.Size, snap.FetchedAt.Format(time.RFC3339), snap.Markdown,
		); err != nil {
			return &IOError{Op: "insert page", Err: err}
		}
	}

	for _, h := range history {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO crawl_history
			(run_id, crawl_date, page_count, new_count, updated_count, deleted_count, duration_seconds)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			h.RunID, h.CrawlDate.Format(time.RFC3339), h.PageCount,
			h.NewCount, h.UpdatedCount, h.DeletedCount, int(h.Duration.Seconds()),
		); err != nil {
			return &IOError{Op: "insert history", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &IOError{Op: "commit", Err: err}
	}
	return nil
}

// History returns past run entries, newest first. A zero limit returns
// everything. A missing database yields an empty history.
func (s *Store) History(ctx context.Context, limit int) ([]crawler.HistoryEntry, error) {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, &IOError{Op: "stat", Err: err}
	}

	db, err := sql.Open("sqlite", s.path+"?mode=ro")
	if err != nil {
		return nil, &IOError{Op: "open", Err: err}
	}
	defer s.closeDB(db)

	query := `
		SELECT run_id, crawl_date, page_count, new_count, updated_count, deleted_count, duration_seconds
		FROM crawl_history ORDER BY crawl_date DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &IOError{Op: "history", Err: err}
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			s.logger.Debug("close history rows", zap.Error(cerr))
		}
	}()

	var entries []crawler.HistoryEntry
	for rows.Next() {
		var (
			h       crawler.HistoryEntry
			date    string
			seconds int
		)
		if err := rows.Scan(&h.RunID, &date, &h.PageCount, &h.NewCount,
			&h.UpdatedCount, &h.DeletedCount, &seconds); err != nil {
			return nil, &IOError{Op: "scan history", Err: err}
		}
		if ts, perr := time.Parse(time.RFC3339, date); perr == nil {
			h.CrawlDate = ts
		}
		h.Duration = time.Duration(seconds) * time.Second
		entries = append(entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, &IOError{Op: "history", Err: err}
	}
	return entries, nil
}

func (s *Store) closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		s.logger.Debug("close cache database", zap.Error(err))
	}
}
