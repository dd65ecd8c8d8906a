// Package checks evaluates the three broad operational signals for a node
// against a comparison baseline: schema drift, volume deviation, and
// freshness lag. The combined result drives test synthesis and UI styling.
package checks

import (
	"github.com/pipewatch-io/pipewatch/internal/config"
)

// Environment variables configuring the check thresholds.
const (
	EnvVolumeThresholdPct                 = "OBS_VOLUME_THRESHOLD_PCT"
	EnvFreshnessThresholdMinutes          = "OBS_FRESHNESS_THRESHOLD_MINUTES"
	EnvReferenceFreshnessThresholdMinutes = "OBS_REFERENCE_FRESHNESS_THRESHOLD_MINUTES"
)

// Threshold defaults. Reference-like assets change slowly, so their
// freshness allowance is a week rather than three hours.
const (
	DefaultVolumeThresholdPct                 = 25.0
	DefaultFreshnessThresholdMinutes          = 180
	DefaultReferenceFreshnessThresholdMinutes = 7 * 24 * 60
)

// Thresholds are the evaluator's configured limits.
type Thresholds struct {
	// VolumeDeviationPct fails the volume check when |deviation| exceeds it.
	VolumeDeviationPct float64

	// FreshnessMinutes is the lag allowance for regular assets.
	FreshnessMinutes int

	// ReferenceFreshnessMinutes is the lag allowance for reference-like
	// assets.
	ReferenceFreshnessMinutes int
}

// DefaultThresholds returns the built-in limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		VolumeDeviationPct:        DefaultVolumeThresholdPct,
		FreshnessMinutes:          DefaultFreshnessThresholdMinutes,
		ReferenceFreshnessMinutes: DefaultReferenceFreshnessThresholdMinutes,
	}
}

// LoadThresholds reads the limits from the environment. Unset, unparseable,
// non-finite, or negative values fall back to the defaults.
func LoadThresholds() Thresholds {
	t := Thresholds{
		VolumeDeviationPct:        config.GetEnvFloat(EnvVolumeThresholdPct, DefaultVolumeThresholdPct),
		FreshnessMinutes:          config.GetEnvInt(EnvFreshnessThresholdMinutes, DefaultFreshnessThresholdMinutes),
		ReferenceFreshnessMinutes: config.GetEnvInt(EnvReferenceFreshnessThresholdMinutes, DefaultReferenceFreshnessThresholdMinutes),
	}

	if t.VolumeDeviationPct < 0 {
		t.VolumeDeviationPct = DefaultVolumeThresholdPct
	}

	if t.FreshnessMinutes < 0 {
		t.FreshnessMinutes = DefaultFreshnessThresholdMinutes
	}

	if t.ReferenceFreshnessMinutes < 0 {
		t.ReferenceFreshnessMinutes = DefaultReferenceFreshnessThresholdMinutes
	}

	return t
}
