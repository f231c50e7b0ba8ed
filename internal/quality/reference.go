package quality

import (
	"math"
)

// Reference is the pure Go optimizer. It is always available.
type Reference struct{}

// NewReference returns the pure Go optimizer
func NewReference() *Reference {
	return &Reference{}
}

// Name returns "reference"
func (*Reference) Name() string { return "reference" }

// QualityTier returns clamp(floor(bandwidth / 1e6), 0, 3)
func (*Reference) QualityTier(bandwidth int64, _ string) int {
	return tierFromFloat(referenceTier(float64(bandwidth)))
}

// AdaptiveBitrate lowers the bitrate when the buffer is draining on a slow
// network and raises it when the buffer is healthy with ample headroom.
func (*Reference) AdaptiveBitrate(current int64, bufferHealth float64, observedSpeed int64) int64 {
	return finishBitrate(current, referenceBitrate(float64(current), bufferHealth, float64(observedSpeed)))
}

func referenceTier(bandwidth float64) float64 {
	t := math.Floor(bandwidth / BytesPerTier)
	return math.Min(math.Max(t, 0), MaxTier)
}

// referenceBitrate mirrors the adaptive_bitrate kernel operation for
// operation. NaN health fails both comparisons and leaves current unchanged.
func referenceBitrate(current, health, speed float64) float64 {
	if health < LowHealth && speed < current {
		return math.Max(current*DownshiftRatio, MinBitrate)
	}
	if health > HighHealth && speed > current*UpshiftMargin {
		return math.Min(current*UpshiftRatio, MaxBitrate)
	}
	return current
}
