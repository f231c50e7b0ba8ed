package quality

import (
	"math"
)

// Quality control-law constants
const (
	BytesPerTier   = 1_000_000
	MaxTier        = 3
	MinBitrate     = 500_000
	MaxBitrate     = 8_000_000
	LowHealth      = 0.2
	HighHealth     = 0.8
	DownshiftRatio = 0.7
	UpshiftRatio   = 1.2
	UpshiftMargin  = 1.5
)

// Optimizer maps bandwidth and buffer-health observations to streaming
// quality decisions. Implementations must agree on every input.
type Optimizer interface {
	// QualityTier returns a tier in [0, MaxTier]. resolution is accepted for
	// forward compatibility and does not affect the result.
	QualityTier(bandwidth int64, resolution string) int

	// AdaptiveBitrate recommends a bitrate in bytes/sec.
	AdaptiveBitrate(current int64, bufferHealth float64, observedSpeed int64) int64

	// Name identifies the implementation in logs and metrics
	Name() string
}

// tierFromFloat converts a kernel tier result to an int in [0, MaxTier]
func tierFromFloat(t float64) int {
	switch {
	case math.IsNaN(t) || t < 0:
		return 0
	case t > MaxTier:
		return MaxTier
	default:
		return int(t)
	}
}

// finishBitrate converts a kernel bitrate result back to bytes/sec. An
// unchanged result returns current exactly, so values above 2^53 survive
// the float round trip.
func finishBitrate(current int64, result float64) int64 {
	if result == float64(current) || math.IsNaN(result) {
		return current
	}
	return int64(math.Round(result))
}
