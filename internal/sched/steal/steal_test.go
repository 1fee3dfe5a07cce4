package steal

import (
	"testing"

	"github.com/run-pi/pi/internal/ratelimit"
	"github.com/run-pi/pi/internal/sched/queue"
	"github.com/run-pi/pi/internal/task"
)

func newLimiter() *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Defaults{RPM: 60, BurstMultiplier: 2, MinIntervalMs: 0})
}

func TestFindReadyAlternative_PicksReadyCandidate(t *testing.T) {
	l := newLimiter()

	// exhaust provider-a's bucket so the head entry must wait.
	for i := 0; i < 1000; i++ {
		l.Consume("provider-a", "model-x", 1)
	}

	head := &task.Entry{Meta: task.Meta{Provider: "provider-a", Model: "model-x", CostRounds: 1}}
	alt := &task.Entry{Meta: task.Meta{Provider: "provider-b", Model: "model-y", CostRounds: 1}}

	headWait := l.CanProceed("provider-a", "model-x", 1)
	if headWait <= 0 {
		t.Fatal("expected head to be gated, got immediate admission")
	}

	got := FindReadyAlternative(l, head, headWait, []*task.Entry{head, alt})
	if got != alt {
		t.Errorf("expected alt to be chosen, got %v", got)
	}
}

func TestFindReadyAlternative_NoneWhenHeadNotWaiting(t *testing.T) {
	l := newLimiter()
	head := &task.Entry{Meta: task.Meta{Provider: "p", Model: "m", CostRounds: 1}}
	alt := &task.Entry{Meta: task.Meta{Provider: "p2", Model: "m2", CostRounds: 1}}

	if got := FindReadyAlternative(l, head, 0, []*task.Entry{head, alt}); got != nil {
		t.Errorf("expected nil when head isn't waiting, got %v", got)
	}
}

func TestFindReadyAlternative_NoneWhenAllEquallyBlocked(t *testing.T) {
	l := newLimiter()
	for i := 0; i < 1000; i++ {
		l.Consume("shared", "model", 1)
	}

	head := &task.Entry{Meta: task.Meta{Provider: "shared", Model: "model", CostRounds: 1}}
	alt := &task.Entry{Meta: task.Meta{Provider: "shared", Model: "model", CostRounds: 1}}

	headWait := l.CanProceed("shared", "model", 1)
	got := FindReadyAlternative(l, head, headWait, []*task.Entry{head, alt})
	if got != nil {
		t.Errorf("expected nil when no candidate beats head's wait, got %v", got)
	}
}

func TestSteal_RequeuesWithIncrementedSkipCount(t *testing.T) {
	q := queue.New()
	entry := q.Enqueue(task.Meta{Tool: "x", Priority: task.PriorityNormal, CostRounds: 1})
	popped, _ := q.Dequeue()

	Steal(q, popped)

	if q.Len() != 1 {
		t.Fatalf("Len() after Steal = %d, want 1", q.Len())
	}
	if popped.SkipCount != 1 {
		t.Errorf("SkipCount after Steal = %d, want 1", popped.SkipCount)
	}
	_ = entry
}
