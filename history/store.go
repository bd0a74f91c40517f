package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"snapsend/p2p"
)

// DefaultDBFileName is the SQLite filename under the app data dir.
const DefaultDBFileName = "history.db"

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS transfers (
  transfer_id       TEXT PRIMARY KEY,
  direction         TEXT NOT NULL CHECK(direction IN ('sent','received')),
  filename          TEXT NOT NULL,
  peer_address      TEXT NOT NULL,
  filesize          INTEGER NOT NULL,
  bytes_transferred INTEGER NOT NULL DEFAULT 0,
  status            TEXT NOT NULL CHECK(status IN ('in_progress','completed','failed')),
  error             TEXT NOT NULL DEFAULT '',
  started_at        INTEGER NOT NULL,
  finished_at       INTEGER,
  average_speed     REAL NOT NULL DEFAULT 0
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_transfers_started_at
ON transfers (started_at DESC, transfer_id);
`,
}

// Entry is one recorded transfer.
type Entry struct {
	ID               string
	Direction        string
	Filename         string
	PeerAddress      string
	FileSize         int64
	BytesTransferred int64
	Status           string
	Error            string
	StartedAt        time.Time
	FinishedAt       time.Time
	AverageSpeed     float64 // in MB/s
}

// Store keeps the transfer history in SQLite.
type Store struct {
	db        *sql.DB
	closeOnce sync.Once
}

// Open opens (or creates) history.db under the given data directory and runs migrations.
func Open(dataDir string) (*Store, string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create history directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DefaultDBFileName)
	store, err := OpenPath(dbPath)
	if err != nil {
		return nil, "", err
	}
	return store, dbPath, nil
}

// OpenPath opens SQLite at an explicit path and runs schema migrations.
func OpenPath(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	store := &Store{db: db}
	if err := store.enableWALMode(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var closeErr error
	s.closeOnce.Do(func() {
		closeErr = s.db.Close()
	})
	return closeErr
}

func (s *Store) applyMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}
	return nil
}

func (s *Store) enableWALMode() error {
	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("enable WAL mode: unexpected journal mode %q", journalMode)
	}
	return nil
}

// RecordTransfer stores the final statistics of a transfer, replacing an earlier row with the same ID.
func (s *Store) RecordTransfer(stats *p2p.TransferStats) error {
	if stats == nil {
		return errors.New("transfer stats are required")
	}
	return s.Record(Entry{
		ID:               stats.ID,
		Direction:        stats.TransferDirection,
		Filename:         stats.Filename,
		PeerAddress:      stats.PeerAddress,
		FileSize:         stats.FileSize,
		BytesTransferred: stats.BytesTransferred,
		Status:           stats.Status,
		Error:            stats.Error,
		StartedAt:        stats.StartTime,
		FinishedAt:       stats.EndTime,
		AverageSpeed:     stats.AverageSpeed,
	})
}

// Record inserts or replaces a history row.
func (s *Store) Record(entry Entry) error {
	if entry.ID == "" {
		return errors.New("transfer_id is required")
	}
	if entry.Filename == "" {
		return errors.New("filename is required")
	}

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO transfers (
			transfer_id,
			direction,
			filename,
			peer_address,
			filesize,
			bytes_transferred,
			status,
			error,
			started_at,
			finished_at,
			average_speed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Direction,
		entry.Filename,
		entry.PeerAddress,
		entry.FileSize,
		entry.BytesTransferred,
		entry.Status,
		entry.Error,
		entry.StartedAt.UnixMilli(),
		nullTime(entry.FinishedAt),
		entry.AverageSpeed,
	)
	if err != nil {
		return fmt.Errorf("insert transfer %q: %w", entry.ID, err)
	}
	return nil
}

// List returns up to limit entries, newest first. A non-positive limit returns everything.
func (s *Store) List(limit int) ([]Entry, error) {
	query := `SELECT transfer_id, direction, filename, peer_address, filesize, bytes_transferred,
		status, error, started_at, finished_at, average_speed
		FROM transfers
		ORDER BY started_at DESC, transfer_id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(
			&e.ID,
			&e.Direction,
			&e.Filename,
			&e.PeerAddress,
			&e.FileSize,
			&e.BytesTransferred,
			&e.Status,
			&e.Error,
			&started,
			&finished,
			&e.AverageSpeed,
		); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		e.StartedAt = time.UnixMilli(started)
		if finished.Valid {
			e.FinishedAt = time.UnixMilli(finished.Int64)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfers: %w", err)
	}
	return out, nil
}

func nullTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
