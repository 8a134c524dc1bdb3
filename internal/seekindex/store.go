package seekindex

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// ErrSchemaMismatch indicates the cache database was written by a different
// schema version.
var ErrSchemaMismatch = errors.New("seekindex: schema version mismatch")

// ErrNotFound is returned by Load when no index is stored for a key.
var ErrNotFound = errors.New("seekindex: no index stored")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store persists complete indexes in SQLite.
type Store struct {
	db      *sql.DB
	path    string
	lockDir string
}

// Open creates or opens the cache database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	s := &Store{db: db, path: path, lockDir: filepath.Join(dir, "locks")}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if exists == 0 {
		return retryOnBusy(ctx, func() error {
			tx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				return err
			}
			defer func() { _ = tx.Rollback() }()
			if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
				return fmt.Errorf("record schema version: %w", err)
			}
			return tx.Commit()
		})
	}
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

// Save replaces the stored index for key.
func (s *Store) Save(ctx context.Context, key, source string, idx *Index) error {
	entries := idx.Entries()
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin save tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, "DELETE FROM indexes WHERE source_key = ?", key); err != nil {
			return fmt.Errorf("delete old index: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO indexes (source_key, source, stream_index, entry_count, created_at) VALUES (?, ?, ?, ?, ?)",
			key, source, idx.StreamIndex(), len(entries), time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("insert index: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO entries (source_key, pts_us, offset, seq) VALUES (?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("prepare entries: %w", err)
		}
		defer stmt.Close()
		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, key, e.PTS.Microseconds(), e.Offset, e.Seq); err != nil {
				return fmt.Errorf("insert entry: %w", err)
			}
		}
		return tx.Commit()
	})
}

// Load returns the stored index for key, or ErrNotFound.
func (s *Store) Load(ctx context.Context, key string) (*Index, error) {
	var streamIndex, count int
	err := s.db.QueryRowContext(ctx,
		"SELECT stream_index, entry_count FROM indexes WHERE source_key = ?", key,
	).Scan(&streamIndex, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT pts_us, offset, seq FROM entries WHERE source_key = ? ORDER BY pts_us", key)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, count)
	for rows.Next() {
		var us, off, seq int64
		if err := rows.Scan(&us, &off, &seq); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, Entry{PTS: time.Duration(us) * time.Microsecond, Offset: off, Seq: seq})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	if len(entries) != count {
		return nil, fmt.Errorf("load index: %d of %d entries present", len(entries), count)
	}
	return FromEntries(streamIndex, entries), nil
}

// Delete removes the stored index for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, "DELETE FROM indexes WHERE source_key = ?", key)
		return err
	})
}

// LockScan takes an exclusive per-source file lock so only one process
// prescans a source at a time. ok is false when another holder has it.
func (s *Store) LockScan(key string) (unlock func() error, ok bool, err error) {
	if err := os.MkdirAll(s.lockDir, 0o755); err != nil {
		return nil, false, fmt.Errorf("create lock dir: %w", err)
	}
	lock := flock.New(filepath.Join(s.lockDir, key+".lock"))
	ok, err = lock.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("acquire scan lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return lock.Unlock, true, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := range busyRetryAttempts {
		if lastErr = op(); lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, busyRetryMaxBackoff)
	}
	return lastErr
}
