// Package ratelimit implements the per-(provider,model) token-bucket
// admission controller (C2): burst headroom, 429 penalty, adaptive
// recovery, and an LRU-capped bucket map. Grounded on the teacher's
// google/uuid-free, sync.Map-keyed per-category state idiom used across
// the pack's rate-limiter-shaped packages (the category/ring-buffer split
// in joeycumines-go-utilpkg/catrate's Limiter), adapted to the bespoke
// refill/burst/penalty algorithm spec.md §4.2 requires instead of catrate's
// fixed sliding-window counts.
package ratelimit

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/run-pi/pi/internal/config"
	"github.com/run-pi/pi/internal/logging"
)

var log = logging.With("ratelimit")

const maxBuckets = 512

// Defaults carries the per-(provider,model) overridable configuration.
type Defaults struct {
	RPM             float64
	BurstMultiplier float64
	MinIntervalMs   int64
}

// Override customizes a single (provider, model) pair.
type Override struct {
	RPM             float64
	BurstMultiplier float64
	MinIntervalMs   int64
}

// GateSnapshot is the read-only view C3 consults before a 429 retry.
type GateSnapshot struct {
	TokensAvailable   float64
	Capacity          float64
	RetryAfterUntilMs int64
}

type bucket struct {
	key string

	capacity        float64
	refillRate      float64 // tokens/sec
	tokensAvailable float64
	burstTokensUsed float64
	burstMultiplier float64
	baseBurst       float64 // configured default, for gradual restoration
	minIntervalMs   int64

	lastRefillMs      int64
	lastDispatchMs    int64
	retryAfterUntilMs int64

	lastUsedMs int64 // for LRU eviction
	elem       *list.Element
}

// Limiter is the C2 admission controller. Safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	defaults Defaults
	buckets  map[string]*bucket
	lru      *list.List // front = most recently used
	overrides map[string]Override
	now      func() int64
}

// New creates a Limiter seeded with Defaults; env-configured defaults can
// be obtained via config.LoadRateLimitDefaults.
func New(defaults Defaults) *Limiter {
	if defaults.RPM <= 0 {
		defaults.RPM = 60
	}
	if defaults.BurstMultiplier < 1 {
		defaults.BurstMultiplier = 2.0
	}
	if defaults.MinIntervalMs < 0 {
		defaults.MinIntervalMs = 100
	}
	return &Limiter{
		defaults:  defaults,
		buckets:   make(map[string]*bucket),
		lru:       list.New(),
		overrides: make(map[string]Override),
		now:       func() int64 { return time.Now().UnixMilli() },
	}
}

// NewFromEnv builds a Limiter from config.LoadRateLimitDefaults.
func NewFromEnv() *Limiter {
	d := config.LoadRateLimitDefaults()
	return New(Defaults{RPM: d.RPM, BurstMultiplier: d.BurstMultiplier, MinIntervalMs: d.MinIntervalMs})
}

// SetOverride configures a specific (provider, model) pair's rpm,
// burstMultiplier and minIntervalMs, per spec.md §4.2.
func (l *Limiter) SetOverride(provider, model string, o Override) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overrides[normalizeKey(provider, model)] = o
}

func normalizeKey(provider, model string) string {
	p := strings.ToLower(strings.TrimSpace(provider))
	m := strings.ToLower(strings.TrimSpace(model))
	key := p + "/" + m
	if key == "/" {
		return "global"
	}
	return key
}

// getOrCreate returns the bucket for key, creating it lazily and touching
// its LRU position. Caller must hold l.mu.
func (l *Limiter) getOrCreate(key string) *bucket {
	if b, ok := l.buckets[key]; ok {
		l.lru.MoveToFront(b.elem)
		b.lastUsedMs = l.now()
		return b
	}

	d := l.defaults
	if o, ok := l.overrides[key]; ok {
		if o.RPM > 0 {
			d.RPM = o.RPM
		}
		if o.BurstMultiplier >= 1 {
			d.BurstMultiplier = o.BurstMultiplier
		}
		if o.MinIntervalMs >= 0 {
			d.MinIntervalMs = o.MinIntervalMs
		}
	}

	baseCapacity := d.RPM // capacity derived from RPM, burst expands headroom beyond it
	now := l.now()
	b := &bucket{
		key:             key,
		capacity:        baseCapacity,
		refillRate:      d.RPM / 60.0,
		tokensAvailable: baseCapacity,
		burstMultiplier: d.BurstMultiplier,
		baseBurst:       d.BurstMultiplier,
		minIntervalMs:   d.MinIntervalMs,
		lastRefillMs:    now,
		lastUsedMs:      now,
	}
	b.elem = l.lru.PushFront(key)
	l.buckets[key] = b

	l.evictIfNeeded()
	return b
}

// evictIfNeeded drops the least-recently-used bucket once the map exceeds
// maxBuckets. Caller must hold l.mu.
func (l *Limiter) evictIfNeeded() {
	for len(l.buckets) > maxBuckets {
		back := l.lru.Back()
		if back == nil {
			return
		}
		key := back.Value.(string)
		l.lru.Remove(back)
		delete(l.buckets, key)
	}
}

func (b *bucket) refill(nowMs int64) {
	if nowMs <= b.lastRefillMs {
		return
	}
	deltaSec := float64(nowMs-b.lastRefillMs) / 1000.0
	b.tokensAvailable += deltaSec * b.refillRate
	if b.tokensAvailable > b.capacity {
		b.tokensAvailable = b.capacity
	}
	b.lastRefillMs = nowMs
}

// CanProceed returns a non-negative wait before tokensNeeded may be
// dispatched for (provider, model); 0 means admissible now. Implements
// the six-step algorithm of spec.md §4.2.
func (l *Limiter) CanProceed(provider, model string, tokensNeeded float64) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := normalizeKey(provider, model)
	b := l.getOrCreate(key)
	now := l.now()

	b.refill(now)

	if now < b.retryAfterUntilMs {
		return time.Duration(b.retryAfterUntilMs-now) * time.Millisecond
	}

	if b.minIntervalMs > 0 && b.lastDispatchMs > 0 {
		sinceDispatch := now - b.lastDispatchMs
		if sinceDispatch < b.minIntervalMs {
			return time.Duration(b.minIntervalMs-sinceDispatch) * time.Millisecond
		}
	}

	if b.tokensAvailable >= tokensNeeded {
		return 0
	}

	burstHeadroom := b.capacity*b.burstMultiplier - b.capacity - b.burstTokensUsed
	if burstHeadroom >= tokensNeeded-b.tokensAvailable {
		return 0
	}

	deficit := tokensNeeded - b.tokensAvailable - burstHeadroom
	if b.refillRate <= 0 {
		return time.Hour // pathological config; advise a long wait rather than divide by zero
	}
	waitSec := deficit / b.refillRate
	if waitSec < 0 {
		waitSec = 0
	}
	return time.Duration(waitSec * float64(time.Second))
}

// Consume deducts tokens, spilling into burst headroom once the base
// bucket is empty, and records the dispatch time for minInterval spacing.
func (l *Limiter) Consume(provider, model string, tokens float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := normalizeKey(provider, model)
	b := l.getOrCreate(key)
	now := l.now()
	b.refill(now)

	if b.tokensAvailable >= tokens {
		b.tokensAvailable -= tokens
	} else {
		remainder := tokens - b.tokensAvailable
		b.tokensAvailable = 0
		b.burstTokensUsed += remainder
	}
	b.lastDispatchMs = now
}

// Record429 sets retryAfterUntilMs and shrinks burstMultiplier per
// spec.md §4.2: min(retryAfterMs ?? 60s, 10m), burstMultiplier *= 0.8
// floored at 1.0.
func (l *Limiter) Record429(provider, model string, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := normalizeKey(provider, model)
	b := l.getOrCreate(key)
	now := l.now()

	wait := retryAfter
	if wait <= 0 {
		wait = 60 * time.Second
	}
	if wait > 10*time.Minute {
		wait = 10 * time.Minute
	}
	b.retryAfterUntilMs = now + wait.Milliseconds()

	b.burstMultiplier *= 0.8
	if b.burstMultiplier < 1.0 {
		b.burstMultiplier = 1.0
	}

	log.Debug().Str("key", key).Dur("retry_after", wait).Float64("burst_multiplier", b.burstMultiplier).Msg("rate limit hit")
}

// RecordSuccess decays burstTokensUsed and nudges burstMultiplier back
// toward its configured default.
func (l *Limiter) RecordSuccess(provider, model string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := normalizeKey(provider, model)
	b := l.getOrCreate(key)

	b.burstTokensUsed *= 0.9
	if b.burstTokensUsed < 0.01 {
		b.burstTokensUsed = 0
	}

	if b.burstMultiplier < b.baseBurst {
		b.burstMultiplier += (b.baseBurst - b.burstMultiplier) * 0.1
		if b.baseBurst-b.burstMultiplier < 0.01 {
			b.burstMultiplier = b.baseBurst
		}
	}
}

// GateSnapshot returns a read-only view of key's bucket for C3's 429
// preemption check, without mutating any state.
func (l *Limiter) GateSnapshot(provider, model string) GateSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := normalizeKey(provider, model)
	b, ok := l.buckets[key]
	if !ok {
		return GateSnapshot{}
	}
	return GateSnapshot{
		TokensAvailable:   b.tokensAvailable,
		Capacity:          b.capacity,
		RetryAfterUntilMs: b.retryAfterUntilMs,
	}
}

// BucketCount reports how many (provider,model) buckets are tracked,
// for LRU-bound testing.
func (l *Limiter) BucketCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// setClock overrides the limiter's clock for deterministic tests.
func (l *Limiter) setClock(f func() int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = f
}
