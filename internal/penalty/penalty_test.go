package penalty

import "testing"

func TestRaiseLower_Basic(t *testing.T) {
	c := New(Config{MaxPenalty: 5, DecayMs: 60_000})

	c.Raise("rate_limit")
	if got := c.Get(); got != 1 {
		t.Errorf("Get() = %d, want 1", got)
	}

	c.Lower()
	if got := c.Get(); got != 0 {
		t.Errorf("Get() = %d, want 0", got)
	}
}

func TestRaise_CappedAtMaxPenalty(t *testing.T) {
	c := New(Config{MaxPenalty: 3, DecayMs: 60_000})

	for i := 0; i < 10; i++ {
		c.Raise("capacity")
	}
	if got := c.Get(); got != 3 {
		t.Errorf("Get() = %d, want capped at 3", got)
	}
}

func TestLower_FlooredAtZero(t *testing.T) {
	c := New(Config{MaxPenalty: 5, DecayMs: 60_000})
	c.Lower()
	c.Lower()
	if got := c.Get(); got != 0 {
		t.Errorf("Get() = %d, want 0", got)
	}
}

func TestApplyLimit(t *testing.T) {
	c := New(Config{MaxPenalty: 10, DecayMs: 60_000})
	c.Raise("timeout")
	c.Raise("timeout")

	got := c.ApplyLimit(10)
	if got != 3 { // floor(10 / (1+2)) = 3
		t.Errorf("ApplyLimit(10) = %d, want 3", got)
	}
}

func TestApplyLimit_NeverBelowOne(t *testing.T) {
	c := New(Config{MaxPenalty: 50, DecayMs: 60_000})
	for i := 0; i < 50; i++ {
		c.Raise("capacity")
	}
	if got := c.ApplyLimit(1); got != 1 {
		t.Errorf("ApplyLimit(1) = %d, want 1", got)
	}
}

func TestStableMode_AlwaysZeroAndIdentity(t *testing.T) {
	c := New(Config{Stable: true, MaxPenalty: 5, DecayMs: 60_000})
	c.Raise("rate_limit")
	c.Raise("rate_limit")

	if got := c.Get(); got != 0 {
		t.Errorf("stable mode Get() = %d, want 0", got)
	}
	if got := c.ApplyLimit(10); got != 10 {
		t.Errorf("stable mode ApplyLimit(10) = %d, want identity 10", got)
	}
}

func TestDecay_ResetsAfterIdle(t *testing.T) {
	c := New(Config{MaxPenalty: 5, DecayMs: 1000})

	var clock int64
	c.now = func() int64 { return clock }

	c.Raise("timeout")
	if c.Get() != 1 {
		t.Fatal("expected penalty 1 right after raise")
	}

	clock += 1500 // advance past decayMs with no further raise

	if got := c.Get(); got != 0 {
		t.Errorf("Get() after idle decay = %d, want 0", got)
	}
}
