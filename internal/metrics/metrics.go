// Package metrics implements the scheduler's metrics collector (C8): a
// process-wide singleton recording task completions, preemptions, work
// steals, and rate-limit hits, with windowed summaries (success rate,
// mean/p50/p99 latency, breakdowns by provider and priority). Grounded
// on the teacher's singleton DB handle idiom in
// internal/engine/state/state.go (sync.Once-guarded init, explicit
// reset for tests) generalized from a SQLite connection to an in-memory
// ring of completion samples.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/run-pi/pi/internal/task"
)

// sampleCap bounds the in-memory completion ring; older samples are
// dropped once the cap is reached, keeping GetSummary O(window) rather
// than O(lifetime).
const sampleCap = 10_000

// Outcome is what the scheduler core reports for a single dispatch.
type Outcome struct {
	Success    bool
	WaitMs     int64
	ExecMs     int64
	Provider   string
	Priority   task.Priority
}

type sample struct {
	at       int64
	outcome  Outcome
}

// Snapshot is the raw cumulative counters behind GetMetrics.
type Snapshot struct {
	TotalCompletions int64
	TotalSuccesses   int64
	TotalPreemptions int64
	TotalWorkSteals  int64
	TotalRateLimitHits int64
	QueueDepth       int
	ActiveCount      int
}

// Summary is a windowed rollup returned by GetSummary.
type Summary struct {
	Total           int
	SuccessRate     float64
	MeanWaitMs      float64
	MeanExecMs      float64
	P50WaitMs       float64
	P99WaitMs       float64
	ByProvider      map[string]int
	ByPriority      map[task.Priority]int
}

// StealingStats reports work-steal activity by the instance stolen from.
type StealingStats struct {
	TotalSteals int64
	ByInstance  map[string]int64
}

// Collector is the C8 contract. Safe for concurrent use.
type Collector struct {
	mu sync.Mutex

	samples []sample

	totalCompletions   int64
	totalSuccesses     int64
	totalPreemptions   int64
	totalWorkSteals    int64
	totalRateLimitHits int64
	queueDepth         int
	activeCount        int

	preemptionReasons map[string]int64
	stealsByInstance  map[string]int64

	stop chan struct{}
	wg   sync.WaitGroup

	now func() int64
}

var (
	singletonMu sync.Mutex
	singleton   *Collector
)

// Init idempotently creates (or returns) the process-wide Collector.
func Init() *Collector {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton == nil {
		singleton = newCollector()
	}
	return singleton
}

// Get returns the current singleton, initializing it if necessary.
func Get() *Collector {
	return Init()
}

// Reset discards the singleton so the next Init/Get builds a fresh
// Collector — test isolation only.
func Reset() {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton != nil {
		singleton.StopCollection()
	}
	singleton = nil
}

func newCollector() *Collector {
	return &Collector{
		preemptionReasons: make(map[string]int64),
		stealsByInstance:  make(map[string]int64),
		now:               func() int64 { return time.Now().UnixMilli() },
	}
}

// New creates a standalone Collector, for callers (e.g. tests, or a Core
// that wants its own scope) that don't want the process-wide singleton.
func New() *Collector {
	return newCollector()
}

// RecordTaskCompletion appends a dispatch outcome to the rolling window
// and updates cumulative counters.
func (c *Collector) RecordTaskCompletion(meta task.Meta, o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalCompletions++
	if o.Success {
		c.totalSuccesses++
	}

	c.samples = append(c.samples, sample{at: c.now(), outcome: o})
	if len(c.samples) > sampleCap {
		c.samples = c.samples[len(c.samples)-sampleCap:]
	}
}

// RecordPreemption records a cancelled-in-flight task and its reason.
func (c *Collector) RecordPreemption(id, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalPreemptions++
	c.preemptionReasons[reason]++
}

// RecordWorkSteal records that a task was re-enqueued ahead of instance.
func (c *Collector) RecordWorkSteal(instance, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalWorkSteals++
	c.stealsByInstance[instance]++
}

// RecordRateLimitHit records a 429/gated admission.
func (c *Collector) RecordRateLimitHit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRateLimitHits++
}

// UpdateQueueStats records the queue's current depth and in-flight count.
func (c *Collector) UpdateQueueStats(depth, active int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueDepth = depth
	c.activeCount = active
}

// GetMetrics returns the cumulative counters.
func (c *Collector) GetMetrics() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		TotalCompletions:   c.totalCompletions,
		TotalSuccesses:     c.totalSuccesses,
		TotalPreemptions:   c.totalPreemptions,
		TotalWorkSteals:    c.totalWorkSteals,
		TotalRateLimitHits: c.totalRateLimitHits,
		QueueDepth:         c.queueDepth,
		ActiveCount:        c.activeCount,
	}
}

// GetSummary rolls up every sample within period of now into a Summary.
// An empty window returns SuccessRate 0, per spec.md §4.8.
func (c *Collector) GetSummary(period time.Duration) Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now() - period.Milliseconds()
	summary := Summary{
		ByProvider: make(map[string]int),
		ByPriority: make(map[task.Priority]int),
	}

	var waits, execs []float64
	var successes int
	var waitSum, execSum float64

	for _, s := range c.samples {
		if s.at < cutoff {
			continue
		}
		summary.Total++
		if s.outcome.Success {
			successes++
		}
		waits = append(waits, float64(s.outcome.WaitMs))
		execs = append(execs, float64(s.outcome.ExecMs))
		waitSum += float64(s.outcome.WaitMs)
		execSum += float64(s.outcome.ExecMs)
		summary.ByProvider[s.outcome.Provider]++
		summary.ByPriority[s.outcome.Priority]++
	}

	if summary.Total == 0 {
		return summary
	}

	summary.SuccessRate = float64(successes) / float64(summary.Total)
	summary.MeanWaitMs = waitSum / float64(summary.Total)
	summary.MeanExecMs = execSum / float64(summary.Total)
	summary.P50WaitMs = percentile(waits, 0.50)
	summary.P99WaitMs = percentile(waits, 0.99)
	return summary
}

// GetStealingStats returns cumulative work-steal activity.
func (c *Collector) GetStealingStats() StealingStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	byInstance := make(map[string]int64, len(c.stealsByInstance))
	for k, v := range c.stealsByInstance {
		byInstance[k] = v
	}
	return StealingStats{TotalSteals: c.totalWorkSteals, ByInstance: byInstance}
}

// StartCollection begins a periodic prune of samples older than 10x
// interval, so long-running processes don't retain unbounded history
// beyond sampleCap. Idempotent: calling it while already running is a
// no-op.
func (c *Collector) StartCollection(interval time.Duration) {
	c.mu.Lock()
	if c.stop != nil {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	c.stop = stop
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.pruneOlderThan(interval * 10)
			}
		}
	}()
}

// StopCollection halts the periodic prune goroutine, if running.
func (c *Collector) StopCollection() {
	c.mu.Lock()
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		c.wg.Wait()
	}
}

func (c *Collector) pruneOlderThan(age time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now() - age.Milliseconds()
	i := 0
	for i < len(c.samples) && c.samples[i].at < cutoff {
		i++
	}
	c.samples = c.samples[i:]
}

// percentile returns the p-th percentile (0..1) of values as the element
// at index floor(p*(n-1)) of a sorted copy; returns 0 for an empty slice.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
