package regime

import (
	"testing"

	"RegimeDuel/internal/domain/models"
)

func TestBucketFoldsLowConfidenceIntoTrend(t *testing.T) {
	cases := map[models.RegimeClass]int{
		models.RegimeBreakout:      BucketBreakout,
		models.RegimeTrend:         BucketTrend,
		models.RegimeMeanReversion: BucketMeanReversion,
		models.RegimeCritical:      BucketTrend,
		models.RegimeCalibrating:   BucketTrend,
	}
	for class, want := range cases {
		if got := Bucket(class); got != want {
			t.Fatalf("Bucket(%s) = %d, want %d", class, got, want)
		}
	}
}

func TestIsLowConfidence(t *testing.T) {
	if !IsLowConfidence(models.RegimeCritical) || !IsLowConfidence(models.RegimeCalibrating) {
		t.Fatalf("critical and calibrating must be low confidence")
	}
	if IsLowConfidence(models.RegimeBreakout) {
		t.Fatalf("breakout is not low confidence")
	}
}

func TestParseUnknownRegimeIsCalibrating(t *testing.T) {
	if got := models.ParseRegimeClass("???"); got != models.RegimeCalibrating {
		t.Fatalf("unexpected class %s", got)
	}
	if Bucket(models.ParseRegimeClass("Mean_Reversion")) != BucketMeanReversion {
		t.Fatalf("expected mean reversion bucket")
	}
}
