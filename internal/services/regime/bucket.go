package regime

import "RegimeDuel/internal/domain/models"

// Learning buckets. Critical and Calibrating fold into Trend so that learning
// continues while the sensor has low confidence.
const (
	BucketBreakout      = 0
	BucketTrend         = 1
	BucketMeanReversion = 2

	NumBuckets = 3
)

// Bucket maps a regime class to its learning bucket.
func Bucket(c models.RegimeClass) int {
	switch c {
	case models.RegimeBreakout:
		return BucketBreakout
	case models.RegimeMeanReversion:
		return BucketMeanReversion
	default:
		return BucketTrend
	}
}

// IsLowConfidence reports whether the sensor has not settled on a regime.
func IsLowConfidence(c models.RegimeClass) bool {
	return c == models.RegimeCritical || c == models.RegimeCalibrating
}

// BucketName returns a stable label for metrics and logs.
func BucketName(b int) string {
	switch b {
	case BucketBreakout:
		return "breakout"
	case BucketMeanReversion:
		return "mean_reversion"
	default:
		return "trend"
	}
}
