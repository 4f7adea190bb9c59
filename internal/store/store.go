// Package store persists campaign metrics in SQLite: progress snapshots for
// success-rate trending and one record per replacement batch. The aggregator
// reads this history; the replacer and status command write to it.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// ProgressSnapshot captures campaign state at a point in time.
type ProgressSnapshot struct {
	Timestamp     time.Time `json:"timestamp"`
	TotalAnyCount int       `json:"total_any_count"`
	Intentional   int       `json:"intentional"`
	Unintentional int       `json:"unintentional"`
	SuccessRate   float64   `json:"success_rate"` // percent, 0-100
}

// BatchRecord summarizes one replacement transaction.
type BatchRecord struct {
	ID                string    `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	Applied           int       `json:"applied"`
	Failed            int       `json:"failed"`
	RollbackPerformed bool      `json:"rollback_performed"`
}

// CampaignStore is a SQLite-backed metrics store.
type CampaignStore struct {
	db  *sql.DB
	mu  sync.Mutex
	log *zap.Logger
}

// Open initializes the store at path, creating the directory and schema as
// needed. WAL mode and a busy timeout keep concurrent readers cheap.
func Open(path string, log *zap.Logger) (*CampaignStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening campaign store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		log.Debug("setting busy_timeout failed", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		log.Debug("setting journal_mode=WAL failed", zap.Error(err))
	}

	s := &CampaignStore{db: db, log: log}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *CampaignStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS progress_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		total_any_count INTEGER NOT NULL,
		intentional INTEGER NOT NULL,
		unintentional INTEGER NOT NULL,
		success_rate REAL NOT NULL
	);
	CREATE TABLE IF NOT EXISTS batch_results (
		id TEXT PRIMARY KEY,
		timestamp INTEGER NOT NULL,
		applied INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		rollback_performed INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON progress_snapshots(timestamp);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initializing campaign schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *CampaignStore) Close() error {
	return s.db.Close()
}

// RecordSnapshot appends a progress snapshot.
func (s *CampaignStore) RecordSnapshot(snap ProgressSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO progress_snapshots (timestamp, total_any_count, intentional, unintentional, success_rate)
		 VALUES (?, ?, ?, ?, ?)`,
		snap.Timestamp.Unix(), snap.TotalAnyCount, snap.Intentional, snap.Unintentional, snap.SuccessRate,
	)
	if err != nil {
		return fmt.Errorf("recording snapshot: %w", err)
	}
	return nil
}

// RecordBatch appends a batch result summary.
func (s *CampaignStore) RecordBatch(rec BatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rollback := 0
	if rec.RollbackPerformed {
		rollback = 1
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO batch_results (id, timestamp, applied, failed, rollback_performed)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.Unix(), rec.Applied, rec.Failed, rollback,
	)
	if err != nil {
		return fmt.Errorf("recording batch: %w", err)
	}
	return nil
}

// RecentSnapshots returns up to limit snapshots, oldest first.
func (s *CampaignStore) RecentSnapshots(limit int) ([]ProgressSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(
		`SELECT timestamp, total_any_count, intentional, unintentional, success_rate
		 FROM progress_snapshots ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []ProgressSnapshot
	for rows.Next() {
		var snap ProgressSnapshot
		var ts int64
		if err := rows.Scan(&ts, &snap.TotalAnyCount, &snap.Intentional, &snap.Unintentional, &snap.SuccessRate); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		snap.Timestamp = time.Unix(ts, 0)
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse to oldest-first for trend math.
	for i, j := 0, len(snaps)-1; i < j; i, j = i+1, j-1 {
		snaps[i], snaps[j] = snaps[j], snaps[i]
	}
	return snaps, nil
}

// RecentBatches returns up to limit batch records, newest first.
func (s *CampaignStore) RecentBatches(limit int) ([]BatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(
		`SELECT id, timestamp, applied, failed, rollback_performed
		 FROM batch_results ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying batches: %w", err)
	}
	defer rows.Close()

	var recs []BatchRecord
	for rows.Next() {
		var rec BatchRecord
		var ts int64
		var rollback int
		if err := rows.Scan(&rec.ID, &ts, &rec.Applied, &rec.Failed, &rollback); err != nil {
			return nil, fmt.Errorf("scanning batch: %w", err)
		}
		rec.Timestamp = time.Unix(ts, 0)
		rec.RollbackPerformed = rollback != 0
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
