// Package config reads the environment-driven configuration inputs from
// spec.md §4.8/§6: metrics, adaptive penalty, and rate-limit defaults.
// Invalid values are ignored and fall back to defaults, per spec.md §7.
// Shaped after the teacher's internal/config package (referenced from
// cmd/pause.go as config.GetSurgeDir()) but expanded to the scheduler's
// own settings.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// MetricsConfig mirrors spec.md §4.8's recognized environment variables.
type MetricsConfig struct {
	Dir            string
	IntervalMs     int
	MaxFileSizeB   int
	EnableLogging  bool
}

// PenaltyConfig mirrors spec.md §4.5's {isStable, maxPenalty, decayMs}.
type PenaltyConfig struct {
	Stable    bool
	MaxPenalty int
	DecayMs   int64
}

// RateLimitDefaults mirrors spec.md §4.2's per-(provider,model) overridable
// defaults: rpm, burstMultiplier, minIntervalMs.
type RateLimitDefaults struct {
	RPM             float64
	BurstMultiplier float64
	MinIntervalMs   int64
}

const (
	defaultMetricsIntervalMs   = 60_000
	defaultMetricsMaxFileSizeB = 10 * 1024 * 1024
	defaultPenaltyMax          = 10
	defaultPenaltyDecayMs      = 30_000
	defaultRPM                 = 60
	defaultBurstMultiplier     = 2.0
	defaultMinIntervalMs       = 100
)

// LoadMetrics reads PI_METRICS_DIR, PI_METRICS_INTERVAL_MS,
// PI_METRICS_MAX_FILE_SIZE, PI_METRICS_ENABLE_LOGGING.
func LoadMetrics() MetricsConfig {
	return MetricsConfig{
		Dir:           os.Getenv("PI_METRICS_DIR"),
		IntervalMs:    positiveIntOrDefault("PI_METRICS_INTERVAL_MS", defaultMetricsIntervalMs),
		MaxFileSizeB:  positiveIntOrDefault("PI_METRICS_MAX_FILE_SIZE", defaultMetricsMaxFileSizeB),
		EnableLogging: truthy(os.Getenv("PI_METRICS_ENABLE_LOGGING")),
	}
}

// LoadPenalty reads PI_PENALTY_STABLE, PI_PENALTY_MAX, PI_PENALTY_DECAY_MS.
func LoadPenalty() PenaltyConfig {
	return PenaltyConfig{
		Stable:     truthy(os.Getenv("PI_PENALTY_STABLE")),
		MaxPenalty: positiveIntOrDefault("PI_PENALTY_MAX", defaultPenaltyMax),
		DecayMs:    int64(positiveIntOrDefault("PI_PENALTY_DECAY_MS", defaultPenaltyDecayMs)),
	}
}

// LoadRateLimitDefaults reads PI_RATE_RPM_DEFAULT,
// PI_RATE_BURST_MULTIPLIER_DEFAULT, PI_RATE_MIN_INTERVAL_MS_DEFAULT.
func LoadRateLimitDefaults() RateLimitDefaults {
	rpm := defaultRPM
	if v, ok := os.LookupEnv("PI_RATE_RPM_DEFAULT"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			rpm = int(f)
		}
	}
	burst := defaultBurstMultiplier
	if v, ok := os.LookupEnv("PI_RATE_BURST_MULTIPLIER_DEFAULT"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 1 {
			burst = f
		}
	}
	minInterval := defaultMinIntervalMs
	if v, ok := os.LookupEnv("PI_RATE_MIN_INTERVAL_MS_DEFAULT"); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			minInterval = n
		}
	}
	return RateLimitDefaults{
		RPM:             float64(rpm),
		BurstMultiplier: burst,
		MinIntervalMs:   int64(minInterval),
	}
}

// IntervalDuration is a convenience accessor for MetricsConfig.IntervalMs.
func (m MetricsConfig) IntervalDuration() time.Duration {
	return time.Duration(m.IntervalMs) * time.Millisecond
}

func positiveIntOrDefault(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
