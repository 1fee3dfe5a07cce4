// Package retry implements the backoff-with-retry driver (C3): error
// classification, exponential-with-jitter delay computation, and
// cancellable inter-attempt sleeps that consult the rate limiter's
// read-only gate snapshot before a 429 retry. Grounded on the teacher's
// retry loop in internal/engine/concurrent/worker.go (exponential sleep
// keyed by attempt, taskCtx derived per attempt) and its fatal/retryable
// error split in internal/engine/concurrent/errors.go.
package retry

import (
	"context"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/run-pi/pi/internal/ratelimit"
	"github.com/run-pi/pi/internal/scherr"
)

// Jitter selects the jitter strategy for ComputeBackoffDelay.
type Jitter int

const (
	JitterNone Jitter = iota
	JitterPartial
	JitterFull
)

// Config is the backoff configuration, clamped/defaulted per spec.md §4.3.
type Config struct {
	MaxRetries     int
	InitialDelayMs int64
	MaxDelayMs     int64
	Multiplier     float64
	Jitter         Jitter
}

// Normalize clamps invalid values to defaults/bounds, never panicking on
// bad input (spec.md §4.3: "all invalid overrides are clamped/rejected-to
// -default silently").
func (c Config) Normalize() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.MaxRetries > 20 {
		c.MaxRetries = 20
	}
	if c.InitialDelayMs < 1 {
		c.InitialDelayMs = 1000
	}
	if c.MaxDelayMs < c.InitialDelayMs {
		c.MaxDelayMs = c.InitialDelayMs
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2
	}
	if c.Multiplier > 10 {
		c.Multiplier = 10
	}
	return c
}

// ComputeBackoffDelay returns the delay for a 1-based attempt number,
// satisfying spec.md §8 invariant 2: result in (0, cfg.MaxDelayMs].
func ComputeBackoffDelay(attempt int, cfg Config) time.Duration {
	cfg = cfg.Normalize()
	if attempt < 1 {
		attempt = 1
	}

	base := float64(cfg.InitialDelayMs) * pow(cfg.Multiplier, attempt-1)
	if base > float64(cfg.MaxDelayMs) {
		base = float64(cfg.MaxDelayMs)
	}
	if base < 1 {
		base = 1
	}

	var delayMs float64
	switch cfg.Jitter {
	case JitterPartial:
		lo := base / 2
		delayMs = lo + rand.Float64()*(base-lo)
	case JitterFull:
		delayMs = 1 + rand.Float64()*(base-1)
	default:
		delayMs = base
	}

	if delayMs < 1 {
		delayMs = 1
	}
	if delayMs > float64(cfg.MaxDelayMs) {
		delayMs = float64(cfg.MaxDelayMs)
	}
	return time.Duration(delayMs) * time.Millisecond
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// Classification is the outcome of ClassifyError.
type Classification struct {
	Status    int
	Retryable bool
}

var retryableCodes = map[int]bool{429: true, 500: true, 502: true, 503: true, 504: true}

// statusGetter lets callers surface a numeric status/statusCode field the
// way a provider SDK error would, without this package depending on any
// concrete provider error type.
type statusGetter interface{ StatusCode() int }

var msgTokenRe = regexp.MustCompile(`\b(429|500|401|403)\b`)

// ClassifyError extracts a status code per spec.md §4.3: an explicit
// caller-supplied status wins; else a numeric status/statusCode accessor;
// else message tokens/phrases; else unknown.
func ClassifyError(err error, explicitStatus int) Classification {
	if explicitStatus != 0 {
		return Classification{Status: explicitStatus, Retryable: retryableCodes[explicitStatus]}
	}
	if err == nil {
		return Classification{}
	}

	if sg, ok := err.(statusGetter); ok {
		if code := sg.StatusCode(); code != 0 {
			return Classification{Status: code, Retryable: retryableCodes[code]}
		}
	}

	msg := strings.ToLower(err.Error())
	if m := msgTokenRe.FindString(msg); m != "" {
		code, _ := strconv.Atoi(m)
		return Classification{Status: code, Retryable: retryableCodes[code]}
	}

	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "quota exceeded") {
		return Classification{Status: 429, Retryable: true}
	}

	return Classification{}
}

// Hooks lets the caller observe retry progress without affecting control
// flow; onRetry is called before each inter-attempt sleep.
type Hooks struct {
	OnRetry func(attempt int, delay time.Duration, err error)
}

// WithBackoff calls op(attempt, ctx) and returns its result; on a
// retryable failure it sleeps per ComputeBackoffDelay and retries up to
// cfg.MaxRetries times. The sleep is cancellable via ctx: an abort before
// or during the sleep fails with KindCancelled, and op is never called if
// ctx is already done on entry (spec.md §4.3).
func WithBackoff[T any](ctx context.Context, op func(attempt int, ctx context.Context) (T, error), cfg Config, hooks Hooks, limiter *ratelimit.Limiter, provider, model string) (T, error) {
	cfg = cfg.Normalize()
	var zero T

	if ctx.Err() != nil {
		return zero, scherr.Cancelled("retry aborted")
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxRetries+1; attempt++ {
		result, err := op(attempt, ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt > cfg.MaxRetries {
			break
		}

		class := ClassifyError(err, explicitStatusOf(err))
		if !class.Retryable {
			return zero, err
		}

		delay := ComputeBackoffDelay(attempt, cfg)

		if class.Status == 429 && limiter != nil {
			snap := limiter.GateSnapshot(provider, model)
			if snap.RetryAfterUntilMs > 0 {
				gateWait := time.Duration(snap.RetryAfterUntilMs-nowMs()) * time.Millisecond
				if gateWait > delay {
					delay = gateWait
				}
			}
		}

		if hooks.OnRetry != nil {
			hooks.OnRetry(attempt, delay, err)
		}

		select {
		case <-ctx.Done():
			return zero, scherr.Cancelled("retry aborted")
		case <-time.After(delay):
		}
	}

	return zero, lastErr
}

func nowMs() int64 { return time.Now().UnixMilli() }

// explicitStatusOf extracts a caller-declared status from scherr.Error,
// if err already carries one, so repeated classification stays stable.
func explicitStatusOf(err error) int {
	if e, ok := err.(*scherr.Error); ok {
		return e.Status
	}
	return 0
}
