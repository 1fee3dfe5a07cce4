// Package queue implements the priority scheduler (C6): a five-class
// priority queue with FIFO ordering within class, skip-count starvation
// override, virtual-finish-time bookkeeping, starvation promotion, and
// peek/remove. The "busiest holder gets split/promoted first" shape
// mirrors the teacher's StealWork balancer
// (internal/engine/concurrent/worker.go), applied here to queue entries
// waiting the longest instead of byte ranges mid-flight.
package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/run-pi/pi/internal/task"
)

// skipCountStarvationGap is the |skipCount difference| beyond which the
// larger skip-count wins outright, per spec.md §4.6 rule 1.
const skipCountStarvationGap = 3

// Stats summarizes queue occupancy by priority class.
type Stats struct {
	Total      int
	ByPriority map[task.Priority]int
}

// item wraps an *task.Entry with its position in the heap, so Remove can
// locate and extract an arbitrary entry in O(log n) without Entry itself
// needing to expose heap internals.
type item struct {
	entry *task.Entry
	index int
}

// Queue is the C6 contract. Safe for concurrent use; every mutation holds
// a single mutex, per spec.md §5's shared-resource policy.
type Queue struct {
	mu   sync.Mutex
	heap entryHeap
	byID map[string]*item

	systemVirtualTime float64
	lastFinishOfClass map[task.Priority]float64

	now func() int64
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{
		byID:              make(map[string]*item),
		lastFinishOfClass: make(map[task.Priority]float64),
		now:               func() int64 { return time.Now().UnixMilli() },
	}
}

// Enqueue inserts meta, assigning its scheduler-owned fields, and returns
// the resulting Entry.
func (q *Queue) Enqueue(meta task.Meta) *task.Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if meta.ID == "" {
		meta.ID = task.NewID()
	}

	nowMs := q.now()
	vStart := q.systemVirtualTime
	if last := q.lastFinishOfClass[meta.Priority]; last > vStart {
		vStart = last
	}
	cost := float64(meta.Cost())
	vFinish := vStart + cost/meta.Priority.Weight()

	entry := &task.Entry{
		Meta:              meta,
		EnqueuedAtMs:      nowMs,
		VirtualStartTime:  vStart,
		VirtualFinishTime: vFinish,
		LastConsideredMs:  nowMs,
	}

	q.lastFinishOfClass[meta.Priority] = vFinish
	if vFinish > q.systemVirtualTime {
		q.systemVirtualTime = vFinish
	}

	it := &item{entry: entry}
	heap.Push(&q.heap, it)
	q.byID[entry.Meta.ID] = it
	return entry
}

// Dequeue removes and returns the highest-priority ready entry, per the
// comparator in spec.md §4.6.
func (q *Queue) Dequeue() (*task.Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		return nil, false
	}
	it := heap.Pop(&q.heap).(*item)
	delete(q.byID, it.entry.Meta.ID)
	return it.entry, true
}

// Peek returns the highest-priority ready entry without removing it.
func (q *Queue) Peek() (*task.Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		return nil, false
	}
	return q.heap[0].entry, true
}

// Remove removes and returns the entry with the given id, if present.
func (q *Queue) Remove(id string) (*task.Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byID[id]
	if !ok {
		return nil, false
	}
	heap.Remove(&q.heap, it.index)
	delete(q.byID, id)
	return it.entry, true
}

// GetByPriority returns a snapshot of all queued entries in class p, in
// heap order (not necessarily dequeue order).
func (q *Queue) GetByPriority(p task.Priority) []*task.Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*task.Entry
	for _, it := range q.heap {
		if it.entry.Meta.Priority == p {
			out = append(out, it.entry)
		}
	}
	return out
}

// Snapshot returns every currently queued entry, in heap order. Used by
// the work-stealing scan, which needs to compare the head candidate
// against everything else still waiting.
func (q *Queue) Snapshot() []*task.Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*task.Entry, len(q.heap))
	for i, it := range q.heap {
		out[i] = it.entry
	}
	return out
}

// Requeue re-inserts an entry that was popped off and couldn't be
// dispatched (e.g. a rate-limit work-steal pass), incrementing its
// skip count and bumping LastConsideredMs, without touching enqueue time
// or priority.
func (q *Queue) Requeue(entry *task.Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry.SkipCount++
	entry.LastConsideredMs = q.now()
	it := &item{entry: entry}
	heap.Push(&q.heap, it)
	q.byID[entry.Meta.ID] = it
}

// starvationThresholdMs returns the wait after which an entry of class p
// is promoted: 120s for background, 60s for low, 90s for normal, 45s for
// high, and 30s otherwise (critical entries are never promoted; see
// PromoteStarvingTasks).
func starvationThresholdMs(p task.Priority) int64 {
	switch p {
	case task.PriorityBackground:
		return 120_000
	case task.PriorityLow:
		return 60_000
	case task.PriorityNormal:
		return 90_000
	case task.PriorityHigh:
		return 45_000
	default:
		return 30_000
	}
}

// PromoteStarvingTasks promotes every entry whose wait has exceeded its
// class's threshold one class upward, resetting its skip count, and
// returns how many were promoted. Each entry moves at most one class per
// call. Waits are measured from the original EnqueuedAtMs, so a second
// immediate call promotes an entry again whenever its wait already
// exceeds its new class's threshold: a low entry at 61s becomes normal
// (90s) and stays there, but background->low and normal->high entries
// are promoted again.
func (q *Queue) PromoteStarvingTasks(now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	nowMs := now.UnixMilli()
	promoted := 0

	for _, it := range q.heap {
		e := it.entry
		if e.Meta.Priority >= task.PriorityCritical {
			continue
		}
		waitMs := nowMs - e.EnqueuedAtMs
		if waitMs < starvationThresholdMs(e.Meta.Priority) {
			continue
		}
		e.Meta.Priority = e.Meta.Priority.Promote()
		e.SkipCount = 0
		promoted++
	}

	if promoted > 0 {
		heap.Init(&q.heap)
	}
	return promoted
}

// Stats returns current occupancy counts.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{Total: q.heap.Len(), ByPriority: make(map[task.Priority]int)}
	for _, it := range q.heap {
		s.ByPriority[it.entry.Meta.Priority]++
	}
	return s
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// IsEmpty reports whether the queue has no entries.
func (q *Queue) IsEmpty() bool { return q.Len() == 0 }

// ComparePriority implements the total-for-dequeue comparator described
// in spec.md §4.6: skip-count override beyond a gap of 3, else higher
// priority value wins, else FIFO on enqueue time, else the smaller
// VirtualStartTime wins (it grows with every Enqueue, so entries sharing
// an enqueue millisecond dequeue in insertion order). It is reflexive and
// antisymmetric, but (by design, per spec.md §9's Open Question) not
// transitive across the skip-count override.
func ComparePriority(a, b *task.Entry) int {
	if a == b {
		return 0
	}

	skipDiff := a.SkipCount - b.SkipCount
	if abs(skipDiff) > skipCountStarvationGap {
		if skipDiff > 0 {
			return -1 // a has more skips, a wins (sorts first)
		}
		return 1
	}

	if a.Meta.Priority != b.Meta.Priority {
		if a.Meta.Priority > b.Meta.Priority {
			return -1
		}
		return 1
	}

	if a.EnqueuedAtMs != b.EnqueuedAtMs {
		if a.EnqueuedAtMs < b.EnqueuedAtMs {
			return -1
		}
		return 1
	}

	if a.VirtualStartTime != b.VirtualStartTime {
		if a.VirtualStartTime < b.VirtualStartTime {
			return -1
		}
		return 1
	}
	return 0
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// entryHeap is a container/heap.Interface over *item ordered by
// ComparePriority, with each item's index tracked to support O(log n)
// Remove by id.
type entryHeap []*item

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	return ComparePriority(h[i].entry, h[j].entry) < 0
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
