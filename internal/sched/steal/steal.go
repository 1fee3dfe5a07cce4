// Package steal implements the scheduler's work-stealing re-enqueue path
// (spec.md §4.7 step 3): when the entry at the head of the queue would
// have to wait for its rate-limit gate, look for a cheaper, already-ready
// alternative instead of blocking the dispatch loop. Grounded on the
// teacher's StealWork balancer (internal/engine/concurrent/worker.go),
// which scans in-flight holders for "steal from the busiest" the same
// way this scans the queue for "steal from whoever's gate is clear".
package steal

import (
	"time"

	"github.com/run-pi/pi/internal/ratelimit"
	"github.com/run-pi/pi/internal/sched/queue"
	"github.com/run-pi/pi/internal/task"
)

// FindReadyAlternative scans waiting, a snapshot of entries currently
// parked behind head's rate-limit wait, for one the limiter would admit
// with a strictly smaller wait than head's own. It returns the
// lowest-wait qualifying candidate, or nil if none qualifies. Entries
// are considered in the order given, so ties keep the first — the core
// passes queue.Snapshot, which is heap order (the first element is the
// next to dequeue; the rest are only partially ordered).
func FindReadyAlternative(limiter *ratelimit.Limiter, head *task.Entry, headWait time.Duration, waiting []*task.Entry) *task.Entry {
	if headWait <= 0 {
		return nil
	}

	var best *task.Entry
	var bestWait time.Duration = -1

	for _, e := range waiting {
		if e == head {
			continue
		}
		wait := limiter.CanProceed(e.Meta.Provider, e.Meta.Model, float64(e.Meta.Cost()))
		if wait >= headWait {
			continue
		}
		if best == nil || wait < bestWait {
			best = e
			bestWait = wait
		}
	}
	return best
}

// Steal re-enqueues head behind the chosen alternative by incrementing
// head's skip count and pushing it back onto q, so a future dequeue pass
// reconsiders it — the skip-count starvation override in
// internal/sched/queue eventually wins it back to the front if it's
// repeatedly passed over.
func Steal(q *queue.Queue, head *task.Entry) {
	q.Requeue(head)
}
