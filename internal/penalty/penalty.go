// Package penalty implements the adaptive penalty controller (C5): a
// small pressure-responsive integer that reduces effective parallelism,
// decaying back to zero once no pressure has been raised for decayMs. In
// stable mode the controller is inert, for reproducible benchmarking
// (spec.md §4.5).
package penalty

import (
	"sync"
	"time"

	"github.com/run-pi/pi/internal/config"
)

// reasonHistoryCap bounds the ring buffer of recent pressure reasons.
const reasonHistoryCap = 16

// Config mirrors spec.md §4.5's {isStable, maxPenalty, decayMs}.
type Config struct {
	Stable     bool
	MaxPenalty int
	DecayMs    int64
}

// Controller is the C5 contract: raise/lower/get/applyLimit.
type Controller struct {
	mu        sync.Mutex
	cfg       Config
	penalty   int
	updatedAt int64
	reasons   []string
	now       func() int64
}

// New creates a Controller from cfg, defaulting MaxPenalty if unset.
func New(cfg Config) *Controller {
	if cfg.MaxPenalty <= 0 {
		cfg.MaxPenalty = 10
	}
	if cfg.DecayMs <= 0 {
		cfg.DecayMs = 30_000
	}
	return &Controller{cfg: cfg, now: func() int64 { return time.Now().UnixMilli() }}
}

// NewFromEnv builds a Controller from config.LoadPenalty.
func NewFromEnv() *Controller {
	c := config.LoadPenalty()
	return New(Config{Stable: c.Stable, MaxPenalty: c.MaxPenalty, DecayMs: c.DecayMs})
}

// Raise increments the penalty (capped at MaxPenalty) and appends reason
// to the bounded reason history. A no-op in stable mode.
func (c *Controller) Raise(reason string) {
	if c.cfg.Stable {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.decayLocked()

	if c.penalty < c.cfg.MaxPenalty {
		c.penalty++
	}
	c.updatedAt = c.now()
	c.reasons = append(c.reasons, reason)
	if len(c.reasons) > reasonHistoryCap {
		c.reasons = c.reasons[len(c.reasons)-reasonHistoryCap:]
	}
}

// Lower decrements the penalty, floored at 0. A no-op in stable mode.
func (c *Controller) Lower() {
	if c.cfg.Stable {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.decayLocked()

	if c.penalty > 0 {
		c.penalty--
	}
}

// Get returns the current penalty; always 0 in stable mode.
func (c *Controller) Get() int {
	if c.cfg.Stable {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decayLocked()
	return c.penalty
}

// ApplyLimit returns max(1, floor(base / (1 + penalty))); identity in
// stable mode.
func (c *Controller) ApplyLimit(base int) int {
	penalty := c.Get()
	limit := base / (1 + penalty)
	if limit < 1 {
		limit = 1
	}
	return limit
}

// ReasonHistory returns a snapshot of recently raised pressure reasons,
// most recent last.
func (c *Controller) ReasonHistory() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.reasons))
	copy(out, c.reasons)
	return out
}

// decayLocked resets penalty to 0 once decayMs has elapsed with no raise.
// Caller must hold c.mu.
func (c *Controller) decayLocked() {
	if c.penalty == 0 {
		return
	}
	if c.now()-c.updatedAt >= c.cfg.DecayMs {
		c.penalty = 0
	}
}
