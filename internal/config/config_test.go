package config

import "testing"

func TestLoadMetrics_Defaults(t *testing.T) {
	t.Setenv("PI_METRICS_DIR", "")
	t.Setenv("PI_METRICS_INTERVAL_MS", "")
	t.Setenv("PI_METRICS_MAX_FILE_SIZE", "")
	t.Setenv("PI_METRICS_ENABLE_LOGGING", "")

	cfg := LoadMetrics()
	if cfg.IntervalMs != defaultMetricsIntervalMs {
		t.Errorf("IntervalMs = %d, want default %d", cfg.IntervalMs, defaultMetricsIntervalMs)
	}
	if cfg.EnableLogging {
		t.Error("EnableLogging should default to false")
	}
}

func TestLoadMetrics_InvalidValuesIgnored(t *testing.T) {
	t.Setenv("PI_METRICS_INTERVAL_MS", "not-a-number")
	t.Setenv("PI_METRICS_MAX_FILE_SIZE", "-5")

	cfg := LoadMetrics()
	if cfg.IntervalMs != defaultMetricsIntervalMs {
		t.Errorf("invalid interval should fall back to default, got %d", cfg.IntervalMs)
	}
	if cfg.MaxFileSizeB != defaultMetricsMaxFileSizeB {
		t.Errorf("negative size should fall back to default, got %d", cfg.MaxFileSizeB)
	}
}

func TestLoadMetrics_EnableLogging(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "yes", "on"} {
		t.Setenv("PI_METRICS_ENABLE_LOGGING", v)
		if !LoadMetrics().EnableLogging {
			t.Errorf("value %q should be truthy", v)
		}
	}
	for _, v := range []string{"0", "false", "", "nah"} {
		t.Setenv("PI_METRICS_ENABLE_LOGGING", v)
		if LoadMetrics().EnableLogging {
			t.Errorf("value %q should be falsy", v)
		}
	}
}

func TestLoadPenalty_Defaults(t *testing.T) {
	t.Setenv("PI_PENALTY_STABLE", "")
	t.Setenv("PI_PENALTY_MAX", "")
	t.Setenv("PI_PENALTY_DECAY_MS", "")

	cfg := LoadPenalty()
	if cfg.Stable {
		t.Error("Stable should default to false")
	}
	if cfg.MaxPenalty != defaultPenaltyMax {
		t.Errorf("MaxPenalty = %d, want %d", cfg.MaxPenalty, defaultPenaltyMax)
	}
}

func TestLoadRateLimitDefaults(t *testing.T) {
	t.Setenv("PI_RATE_RPM_DEFAULT", "120")
	t.Setenv("PI_RATE_BURST_MULTIPLIER_DEFAULT", "3.5")
	t.Setenv("PI_RATE_MIN_INTERVAL_MS_DEFAULT", "50")

	d := LoadRateLimitDefaults()
	if d.RPM != 120 {
		t.Errorf("RPM = %v, want 120", d.RPM)
	}
	if d.BurstMultiplier != 3.5 {
		t.Errorf("BurstMultiplier = %v, want 3.5", d.BurstMultiplier)
	}
	if d.MinIntervalMs != 50 {
		t.Errorf("MinIntervalMs = %v, want 50", d.MinIntervalMs)
	}
}

func TestLoadRateLimitDefaults_InvalidIgnored(t *testing.T) {
	t.Setenv("PI_RATE_RPM_DEFAULT", "not-a-number")
	t.Setenv("PI_RATE_BURST_MULTIPLIER_DEFAULT", "0.5") // below 1, invalid
	t.Setenv("PI_RATE_MIN_INTERVAL_MS_DEFAULT", "-1")

	d := LoadRateLimitDefaults()
	if d.RPM != defaultRPM {
		t.Errorf("RPM = %v, want default %v", d.RPM, defaultRPM)
	}
	if d.BurstMultiplier != defaultBurstMultiplier {
		t.Errorf("BurstMultiplier = %v, want default %v", d.BurstMultiplier, defaultBurstMultiplier)
	}
	if d.MinIntervalMs != defaultMinIntervalMs {
		t.Errorf("MinIntervalMs = %v, want default %v", d.MinIntervalMs, defaultMinIntervalMs)
	}
}
