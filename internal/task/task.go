// Package task defines the scheduler's data model: the priority classes,
// the queue entry, and the cost/priority inference helpers described in
// spec.md §3 and §4.6.
package task

import (
	"time"

	"github.com/google/uuid"
)

// Priority is the five-class priority enum. Higher values dequeue first.
type Priority int

const (
	PriorityBackground Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "background"
	}
}

// Weight returns the fairness weight for the priority class, in the
// spec's 10:5:2:1:0.5 ratio.
func (p Priority) Weight() float64 {
	switch p {
	case PriorityCritical:
		return 10
	case PriorityHigh:
		return 5
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0.5
	}
}

// Promote returns the next priority class up, clamped at critical.
func (p Priority) Promote() Priority {
	if p >= PriorityCritical {
		return PriorityCritical
	}
	return p + 1
}

// SourceTag classifies why a task was enqueued.
type SourceTag string

const (
	SourceUserInteractive SourceTag = "user-interactive"
	SourceBackground      SourceTag = "background"
	SourceScheduled        SourceTag = "scheduled"
	SourceRetry            SourceTag = "retry"
)

// Meta is the producer-supplied description of a task at enqueue time.
type Meta struct {
	ID            string
	Tool          string
	Provider      string
	Model         string
	Priority      Priority
	CostRounds    int   // 1-50
	CostWallMs    int64
	SoftDeadline  int64 // epoch-ms, 0 if none
	Source        SourceTag
}

// NewID mints an opaque task identity, grounded on the teacher's use of
// google/uuid for download/task IDs (internal/engine/state/state.go).
func NewID() string {
	return uuid.New().String()
}

// Entry is the scheduler-owned wrapper around Meta: every field below is
// mutated only by the queue and the starvation promoter (spec.md §3).
type Entry struct {
	Meta Meta

	EnqueuedAtMs      int64
	VirtualStartTime  float64
	VirtualFinishTime float64
	SkipCount         int
	LastConsideredMs  int64
}

// Cost returns the estimated cost in scheduling rounds, floored at 1 and
// capped at 50 per spec.md §3.
func (m Meta) Cost() int {
	if m.CostRounds < 1 {
		return 1
	}
	if m.CostRounds > 50 {
		return 50
	}
	return m.CostRounds
}

// NowMs returns the current wall clock in epoch-milliseconds.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
