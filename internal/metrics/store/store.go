// Package store periodically flushes metrics summaries to a SQLite file,
// grounded on the teacher's withTx/upsert idiom in
// internal/engine/state/state.go (sql.Open("sqlite", path), a
// transaction-wrapped upsert, a singleton handle guarded by a mutex) —
// adapted from persisting download/task rows to persisting summary
// snapshots for later inspection (cmd/pi status --since, a crash-surviving
// history the in-memory Collector alone can't provide).
package store

import (
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/run-pi/pi/internal/logging"
	"github.com/run-pi/pi/internal/metrics"
	"github.com/run-pi/pi/internal/utils"
)

var log = logging.With("metrics.store")

const schema = `
CREATE TABLE IF NOT EXISTS summaries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at INTEGER NOT NULL,
	window_ms INTEGER NOT NULL,
	total INTEGER NOT NULL,
	success_rate REAL NOT NULL,
	mean_wait_ms REAL NOT NULL,
	mean_exec_ms REAL NOT NULL,
	p50_wait_ms REAL NOT NULL,
	p99_wait_ms REAL NOT NULL
);
`

// Store owns a SQLite handle and periodically writes Collector summaries
// into it.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
	stop chan struct{}
	wg   sync.WaitGroup
}

// Open creates (or reuses) the SQLite file at path and ensures its schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open metrics store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate metrics store: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close releases the underlying database handle, stopping periodic
// flushing first if it's running.
func (s *Store) Close() error {
	s.StopFlushing()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Flush writes one summary row within a transaction, mirroring the
// teacher's withTx wrapper around a single upsert.
func (s *Store) Flush(window time.Duration, sum metrics.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO summaries (
				recorded_at, window_ms, total, success_rate, mean_wait_ms, mean_exec_ms, p50_wait_ms, p99_wait_ms
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, time.Now().UnixMilli(), window.Milliseconds(), sum.Total, sum.SuccessRate, sum.MeanWaitMs, sum.MeanExecMs, sum.P50WaitMs, sum.P99WaitMs)
		if err != nil {
			return fmt.Errorf("insert summary: %w", err)
		}
		return nil
	})
}

func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// StartFlushing periodically calls Flush(window, collector.GetSummary(window))
// every interval, logging (not failing) write errors. After each successful
// flush it rotates the store if the file on disk has grown past
// maxFileSizeB (0 disables rotation). Idempotent.
func (s *Store) StartFlushing(collector *metrics.Collector, interval, window time.Duration, maxFileSizeB int) {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.stop = stop
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := s.Flush(window, collector.GetSummary(window)); err != nil {
					log.Warn().Err(err).Msg("flush metrics summary")
					continue
				}
				if err := s.rotateIfOversized(maxFileSizeB); err != nil {
					log.Warn().Err(err).Msg("rotate metrics store")
				}
			}
		}
	}()
}

// rotateIfOversized snapshots the database file to a timestamped sibling
// path and clears the summaries table once the file on disk exceeds
// maxBytes, the same copy-then-truncate shape the teacher uses to bound
// on-disk download state. maxBytes <= 0 disables rotation.
func (s *Store) rotateIfOversized(maxBytes int) error {
	if maxBytes <= 0 {
		return nil
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat metrics store: %w", err)
	}
	if info.Size() <= int64(maxBytes) {
		return nil
	}

	snapshotPath := fmt.Sprintf("%s.snapshot-%d", s.path, time.Now().UnixNano())
	if err := utils.CopyFile(s.path, snapshotPath); err != nil {
		return fmt.Errorf("snapshot metrics store: %w", err)
	}
	log.Info().Str("snapshot", snapshotPath).Msg("rotated oversized metrics store")

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM summaries`); err != nil {
		return fmt.Errorf("truncate metrics store after snapshot: %w", err)
	}
	return nil
}

// StopFlushing halts the periodic flush goroutine, if running.
func (s *Store) StopFlushing() {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		s.wg.Wait()
	}
}

// RecentSummaries returns up to limit most-recently-flushed rows, newest
// first.
func (s *Store) RecentSummaries(limit int) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT recorded_at, window_ms, total, success_rate, mean_wait_ms, mean_exec_ms, p50_wait_ms, p99_wait_ms
		FROM summaries ORDER BY recorded_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.RecordedAtMs, &r.WindowMs, &r.Total, &r.SuccessRate, &r.MeanWaitMs, &r.MeanExecMs, &r.P50WaitMs, &r.P99WaitMs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Row is a single persisted summary snapshot.
type Row struct {
	RecordedAtMs int64
	WindowMs     int64
	Total        int
	SuccessRate  float64
	MeanWaitMs   float64
	MeanExecMs   float64
	P50WaitMs    float64
	P99WaitMs    float64
}
