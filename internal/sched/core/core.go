// Package core implements the scheduler core (C7): it binds the priority
// queue (C6), the rate limiter (C2), the penalty controller (C5), the
// backoff driver (C3), and the metrics collector (C8) into the
// ENQUEUED -> WAITING_FOR_SLOT -> WAITING_FOR_RATE -> DISPATCHED
// lifecycle. Grounded on the teacher's worker loop
// (internal/engine/concurrent/worker.go): a dispatch goroutine that pops
// work, gates it behind a bounded slot count, and retries through a
// shared backoff driver, generalized from byte-range download tasks to
// abstract invocations with cost/priority metadata.
package core

import (
	"context"
	"sync"
	"time"

	"github.com/run-pi/pi/internal/abort"
	"github.com/run-pi/pi/internal/logging"
	"github.com/run-pi/pi/internal/metrics"
	"github.com/run-pi/pi/internal/penalty"
	"github.com/run-pi/pi/internal/ratelimit"
	"github.com/run-pi/pi/internal/retry"
	"github.com/run-pi/pi/internal/scherr"
	"github.com/run-pi/pi/internal/sched/queue"
	"github.com/run-pi/pi/internal/sched/steal"
	"github.com/run-pi/pi/internal/task"
)

var log = logging.With("sched.core")

// Invoke performs the actual unit of work for one dispatch attempt.
type Invoke func(ctx context.Context, attempt int) (any, error)

// Result is what Submit returns for a completed dispatch.
type Result struct {
	Output   any
	WaitMs   int64
	ExecMs   int64
	Attempts int
}

// Config tunes the core's lifecycle.
type Config struct {
	BaseParallelism    int
	StarvationInterval time.Duration // default 5s
	DispatchPollEvery  time.Duration // default 10ms; how often the loop checks the queue
	Backoff            retry.Config
}

func (c Config) normalize() Config {
	if c.BaseParallelism <= 0 {
		c.BaseParallelism = 4
	}
	if c.StarvationInterval <= 0 {
		c.StarvationInterval = 5 * time.Second
	}
	if c.DispatchPollEvery <= 0 {
		c.DispatchPollEvery = 10 * time.Millisecond
	}
	return c
}

// job is the core's bookkeeping for one in-flight Submit call, keyed by
// the entry's task id; the queue itself only ever sees task.Meta/Entry.
type job struct {
	entry    *task.Entry
	invoke   Invoke
	resultCh chan submitOutcome
	child    *abort.Controller
	cleanup  func()
}

type submitOutcome struct {
	result Result
	err    error
}

// Core is the C7 contract.
type Core struct {
	q       *queue.Queue
	limiter *ratelimit.Limiter
	penalty *penalty.Controller
	metrics *metrics.Collector
	cfg     Config

	root *abort.Controller

	slotMu sync.Mutex
	active int
	notify chan struct{}

	jobsMu sync.Mutex
	jobs   map[string]*job

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Core over the given collaborators.
func New(q *queue.Queue, limiter *ratelimit.Limiter, pc *penalty.Controller, mc *metrics.Collector, cfg Config) *Core {
	return &Core{
		q:       q,
		limiter: limiter,
		penalty: pc,
		metrics: mc,
		cfg:     cfg.normalize(),
		root:    abort.New(),
		notify:  make(chan struct{}),
		jobs:    make(map[string]*job),
	}
}

// Start launches the dispatch loop and the periodic starvation promoter.
// ctx cancellation cascades a preemption reason "user" to every in-flight
// job.
func (c *Core) Start(ctx context.Context) {
	c.stopCh = make(chan struct{})

	c.wg.Add(2)
	go c.dispatchLoop()
	go c.promoterLoop()

	go func() {
		select {
		case <-ctx.Done():
			c.preemptAll("user")
		case <-c.stopCh:
		}
	}()
}

// Stop halts the dispatch and promoter loops and preempts every in-flight
// job with reason "shutdown".
func (c *Core) Stop() {
	c.preemptAll("shutdown")
	if c.stopCh != nil {
		close(c.stopCh)
	}
	c.wg.Wait()
}

func (c *Core) preemptAll(reason string) {
	c.jobsMu.Lock()
	jobs := make([]*job, 0, len(c.jobs))
	for _, j := range c.jobs {
		jobs = append(jobs, j)
	}
	c.jobsMu.Unlock()

	for _, j := range jobs {
		j.child.Abort()
		if c.metrics != nil {
			c.metrics.RecordPreemption(j.entry.Meta.ID, reason)
		}
	}
}

// Submit enqueues meta and blocks until invoke completes, is preempted,
// or ctx is cancelled.
func (c *Core) Submit(ctx context.Context, meta task.Meta, invoke Invoke) (Result, error) {
	if ctx.Err() != nil {
		return Result{}, scherr.Cancelled("submit aborted before enqueue")
	}

	entry := c.q.Enqueue(meta)
	child, cleanup := abort.NewChild(c.root)
	defer cleanup()

	j := &job{entry: entry, invoke: invoke, resultCh: make(chan submitOutcome, 1), child: child, cleanup: cleanup}

	c.jobsMu.Lock()
	c.jobs[entry.Meta.ID] = j
	c.jobsMu.Unlock()
	defer func() {
		c.jobsMu.Lock()
		delete(c.jobs, entry.Meta.ID)
		c.jobsMu.Unlock()
	}()

	c.wakeDispatcher()

	select {
	case out := <-j.resultCh:
		return out.result, out.err
	case <-ctx.Done():
		child.Abort()
		return Result{}, scherr.Cancelled("submit aborted")
	case <-child.Done():
		return Result{}, scherr.Cancelled("submit preempted")
	}
}

func (c *Core) wakeDispatcher() {
	c.slotMu.Lock()
	old := c.notify
	c.notify = make(chan struct{})
	c.slotMu.Unlock()
	close(old)
}

func (c *Core) dispatchLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.DispatchPollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
		}

		for {
			entry, ok := c.q.Dequeue()
			if !ok {
				break
			}
			c.jobsMu.Lock()
			j, known := c.jobs[entry.Meta.ID]
			c.jobsMu.Unlock()
			if !known {
				// the Submit call that owned this entry already gave up
				// (ctx cancelled before dispatch); drop it silently.
				continue
			}
			c.wg.Add(1)
			go c.runJob(j)
		}
	}
}

func (c *Core) runJob(j *job) {
	defer c.wg.Done()

	enqueueMs := j.entry.EnqueuedAtMs
	dispatchCtx := j.child.Context()

	if err := c.acquireSlot(dispatchCtx); err != nil {
		c.finish(j, Result{}, err)
		return
	}
	defer c.releaseSlot()

	provider, model, cost := j.entry.Meta.Provider, j.entry.Meta.Model, j.entry.Meta.Cost()

	for {
		wait := c.limiter.CanProceed(provider, model, float64(cost))
		if wait <= 0 {
			break
		}
		if c.metrics != nil {
			c.metrics.RecordRateLimitHit()
		}

		if alt := steal.FindReadyAlternative(c.limiter, j.entry, wait, c.q.Snapshot()); alt != nil {
			steal.Steal(c.q, j.entry)
			if c.metrics != nil {
				c.metrics.RecordWorkSteal(alt.Meta.ID, j.entry.Meta.ID)
			}
			c.finish(j, Result{}, scherr.New(scherr.KindRateLimit, "re-enqueued behind a ready alternative"))
			return
		}

		select {
		case <-dispatchCtx.Done():
			c.finish(j, Result{}, scherr.Cancelled("preempted while waiting for rate gate"))
			return
		case <-time.After(wait):
		}
	}

	dispatchStart := time.Now().UnixMilli()

	attempts := 0
	output, err := retry.WithBackoff(dispatchCtx, func(attempt int, ctx context.Context) (any, error) {
		attempts = attempt
		return j.invoke(ctx, attempt)
	}, c.cfg.Backoff, retry.Hooks{}, c.limiter, provider, model)

	execMs := time.Now().UnixMilli() - dispatchStart
	waitMs := dispatchStart - enqueueMs

	outcome := classify(err)
	switch outcome {
	case outcomeSuccess:
		c.limiter.RecordSuccess(provider, model)
		c.penalty.Lower()
	case outcomeRateLimit:
		c.limiter.Record429(provider, model, 0)
		c.penalty.Raise("rate_limit")
	case outcomeTimeout:
		c.penalty.Raise("timeout")
	case outcomeCapacity:
		c.penalty.Raise("capacity")
	}

	c.limiter.Consume(provider, model, float64(cost))
	if c.metrics != nil {
		c.metrics.RecordTaskCompletion(j.entry.Meta, metrics.Outcome{
			Success:  err == nil,
			WaitMs:   waitMs,
			ExecMs:   execMs,
			Provider: provider,
			Priority: j.entry.Meta.Priority,
		})
	}

	c.finish(j, Result{Output: output, WaitMs: waitMs, ExecMs: execMs, Attempts: attempts}, err)
}

func (c *Core) finish(j *job, res Result, err error) {
	select {
	case j.resultCh <- submitOutcome{result: res, err: err}:
	default:
	}
}

type dispatchOutcome int

const (
	outcomeSuccess dispatchOutcome = iota
	outcomeRateLimit
	outcomeTimeout
	outcomeCapacity
	outcomeOther
)

func classify(err error) dispatchOutcome {
	if err == nil {
		return outcomeSuccess
	}
	switch scherr.KindOf(err) {
	case scherr.KindRateLimit:
		return outcomeRateLimit
	case scherr.KindTimeout:
		return outcomeTimeout
	case scherr.KindServerTransient:
		return outcomeCapacity
	default:
		return outcomeOther
	}
}

func (c *Core) acquireSlot(ctx context.Context) error {
	for {
		c.slotMu.Lock()
		limit := c.penalty.ApplyLimit(c.cfg.BaseParallelism)
		if c.active < limit {
			c.active++
			c.slotMu.Unlock()
			return nil
		}
		ch := c.notify
		c.slotMu.Unlock()

		select {
		case <-ctx.Done():
			return scherr.Cancelled("preempted while waiting for a pool slot")
		case <-ch:
		}
	}
}

func (c *Core) releaseSlot() {
	c.slotMu.Lock()
	c.active--
	old := c.notify
	c.notify = make(chan struct{})
	c.slotMu.Unlock()
	close(old)
}

func (c *Core) promoterLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.StarvationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case now := <-ticker.C:
			if n := c.q.PromoteStarvingTasks(now); n > 0 {
				log.Debug().Int("promoted", n).Msg("starvation promotion pass")
			}
		}
	}
}
