package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

func TestCanProceed_AdmitsWithinCapacity(t *testing.T) {
	l := New(Defaults{RPM: 600, BurstMultiplier: 2, MinIntervalMs: 0})

	if wait := l.CanProceed("openai", "gpt", 1); wait != 0 {
		t.Errorf("wait = %v, want 0", wait)
	}
}

func TestCanProceed_NeverNegative(t *testing.T) {
	l := New(Defaults{RPM: 1, BurstMultiplier: 1, MinIntervalMs: 0})
	l.Consume("p", "m", 1000) // drain far past capacity and burst

	if wait := l.CanProceed("p", "m", 1); wait < 0 {
		t.Errorf("wait = %v, must be >= 0", wait)
	}
}

func TestKeyNormalization_BlankIsGlobal(t *testing.T) {
	if got := normalizeKey("", ""); got != "global" {
		t.Errorf("normalizeKey(\"\",\"\") = %q, want global", got)
	}
	if got := normalizeKey(" OpenAI ", " GPT-4 "); got != "openai/gpt-4" {
		t.Errorf("normalizeKey trim/lowercase = %q", got)
	}
}

func TestRecord429_SetsRetryAfterAndShrinksBurst(t *testing.T) {
	l := New(Defaults{RPM: 60, BurstMultiplier: 2, MinIntervalMs: 0})
	l.CanProceed("p", "m", 1) // create bucket

	l.Record429("p", "m", 5*time.Second)

	wait := l.CanProceed("p", "m", 1)
	if wait <= 0 || wait > 5*time.Second {
		t.Errorf("wait = %v, want in (0, 5s]", wait)
	}
}

func TestRecord429_DefaultAndCapRetryAfter(t *testing.T) {
	l := New(Defaults{RPM: 60, BurstMultiplier: 2})
	l.CanProceed("p", "m", 1)

	l.Record429("p", "m", 0) // no hint -> 60s default
	snap := l.GateSnapshot("p", "m")
	now := l.now()
	if snap.RetryAfterUntilMs-now > 61_000 || snap.RetryAfterUntilMs-now < 55_000 {
		t.Errorf("default retryAfter not ~60s: %dms", snap.RetryAfterUntilMs-now)
	}

	l.Record429("p", "m", time.Hour) // must cap at 10 minutes
	snap = l.GateSnapshot("p", "m")
	now = l.now()
	if snap.RetryAfterUntilMs-now > 10*60*1000+1000 {
		t.Errorf("retryAfter not capped at 10m: %dms", snap.RetryAfterUntilMs-now)
	}
}

func TestRecordSuccess_RestoresBurst(t *testing.T) {
	l := New(Defaults{RPM: 60, BurstMultiplier: 2})
	l.CanProceed("p", "m", 1)
	l.Record429("p", "m", time.Second)

	l.mu.Lock()
	shrunk := l.buckets["p/m"].burstMultiplier
	l.mu.Unlock()

	for i := 0; i < 50; i++ {
		l.RecordSuccess("p", "m")
	}

	l.mu.Lock()
	restored := l.buckets["p/m"].burstMultiplier
	l.mu.Unlock()

	if restored <= shrunk {
		t.Errorf("burstMultiplier should recover toward default: shrunk=%v restored=%v", shrunk, restored)
	}
	if restored > 2.0001 {
		t.Errorf("burstMultiplier should not exceed configured default: %v", restored)
	}
}

func TestBucketMap_LRUBounded(t *testing.T) {
	l := New(Defaults{RPM: 60, BurstMultiplier: 2})

	for i := 0; i < maxBuckets+50; i++ {
		l.CanProceed(fmt.Sprintf("provider-%d", i), "model", 1)
	}

	if l.BucketCount() > maxBuckets {
		t.Errorf("BucketCount() = %d, want <= %d", l.BucketCount(), maxBuckets)
	}
}

func TestInvariant_TokensWithinBounds(t *testing.T) {
	l := New(Defaults{RPM: 600, BurstMultiplier: 2})

	for i := 0; i < 1000; i++ {
		l.Consume("p", "m", 3)
		l.CanProceed("p", "m", 1)
	}

	l.mu.Lock()
	b := l.buckets["p/m"]
	l.mu.Unlock()

	if b.tokensAvailable < 0 || b.tokensAvailable > b.capacity {
		t.Errorf("tokensAvailable out of bounds: %v (capacity %v)", b.tokensAvailable, b.capacity)
	}
}

func TestOverride_PerProviderModel(t *testing.T) {
	l := New(Defaults{RPM: 60, BurstMultiplier: 2, MinIntervalMs: 100})
	l.SetOverride("anthropic", "claude", Override{RPM: 6000, BurstMultiplier: 1.0, MinIntervalMs: 0})

	if wait := l.CanProceed("anthropic", "claude", 50); wait != 0 {
		t.Errorf("override rpm should admit immediately, got wait=%v", wait)
	}
}
