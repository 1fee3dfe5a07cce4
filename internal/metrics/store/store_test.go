package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/run-pi/pi/internal/metrics"
	"github.com/run-pi/pi/internal/task"
)

func TestOpen_CreatesSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "metrics.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	rows, err := s.RecentSummaries(10)
	if err != nil {
		t.Fatalf("RecentSummaries() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected empty store, got %d rows", len(rows))
	}
}

func TestFlush_RoundTrips(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "metrics.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	sum := metrics.Summary{Total: 5, SuccessRate: 0.8, MeanWaitMs: 10, MeanExecMs: 20, P50WaitMs: 9, P99WaitMs: 30}
	if err := s.Flush(time.Minute, sum); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	rows, err := s.RecentSummaries(10)
	if err != nil {
		t.Fatalf("RecentSummaries() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Total != 5 || rows[0].SuccessRate != 0.8 {
		t.Errorf("row = %+v, want total=5 successRate=0.8", rows[0])
	}
}

func TestStartStopFlushing_WritesPeriodically(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "metrics.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	collector := metrics.New()
	collector.RecordTaskCompletion(task.Meta{}, metrics.Outcome{Success: true, WaitMs: 5, ExecMs: 5})

	s.StartFlushing(collector, 5*time.Millisecond, time.Hour, 0)
	time.Sleep(30 * time.Millisecond)
	s.StopFlushing()

	rows, err := s.RecentSummaries(10)
	if err != nil {
		t.Fatalf("RecentSummaries() error = %v", err)
	}
	if len(rows) == 0 {
		t.Error("expected at least one flushed row")
	}
}

func TestRotateIfOversized_SnapshotsAndTruncates(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "metrics.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	sum := metrics.Summary{Total: 1, SuccessRate: 1, MeanWaitMs: 1, MeanExecMs: 1, P50WaitMs: 1, P99WaitMs: 1}
	if err := s.Flush(time.Minute, sum); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if err := s.rotateIfOversized(1); err != nil {
		t.Fatalf("rotateIfOversized() error = %v", err)
	}

	matches, err := filepath.Glob(dbPath + ".snapshot-*")
	if err != nil {
		t.Fatalf("Glob() error = %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 snapshot file, got %d", len(matches))
	}

	rows, err := s.RecentSummaries(10)
	if err != nil {
		t.Fatalf("RecentSummaries() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected table truncated after rotation, got %d rows", len(rows))
	}
}

func TestRotateIfOversized_NoopWhenDisabled(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "metrics.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if err := s.rotateIfOversized(0); err != nil {
		t.Fatalf("rotateIfOversized() error = %v", err)
	}

	matches, err := filepath.Glob(dbPath + ".snapshot-*")
	if err != nil {
		t.Fatalf("Glob() error = %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected no snapshot file when disabled, got %d", len(matches))
	}
}
