package predictor

import (
	"math"
	"testing"
)

func TestZoneBoundaries(t *testing.T) {
	cases := []struct {
		z    float64
		want int
	}{
		{-5, 0}, {-2, 0}, {-1.5, 1}, {-1, 1}, {0, 2}, {1, 2}, {1.5, 3}, {2, 3}, {2.01, 4}, {math.NaN(), 2},
		{math.Inf(1), 2}, {math.Inf(-1), 2},
	}
	for _, c := range cases {
		if got := Zone(c.z); got != c.want {
			t.Fatalf("Zone(%v) = %d, want %d", c.z, got, c.want)
		}
	}
}

func TestPredictNeutralAndClamped(t *testing.T) {
	p := New(DefaultConfig())
	if got := p.Predict(1, 0, 0, 0.5); math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("neutral prediction = %v", got)
	}
	// agent rate is clamped to 0.7 before blending
	got := p.Predict(1, 0, 0, 1.0)
	want := 0.75*0.5 + 0.25*0.7
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("Predict = %v, want %v", got, want)
	}
}

func TestPredictStaysInBounds(t *testing.T) {
	p := New(DefaultConfig())
	for i := 0; i < 500; i++ {
		p.Update(0, 3, 3, true)
	}
	if got := p.Predict(0, 3, 3, 1); got > 0.70 {
		t.Fatalf("prediction above cap: %v", got)
	}
	q := New(DefaultConfig())
	for i := 0; i < 500; i++ {
		q.Update(2, -3, -3, false)
	}
	if got := q.Predict(2, -3, -3, 0); got < 0.30 {
		t.Fatalf("prediction below floor: %v", got)
	}
}

func TestUpdateIsMonotonicAndNeverSaturates(t *testing.T) {
	p := New(DefaultConfig())
	prev := p.Tables().RegimeWinRate[1]
	for i := 0; i < 300; i++ {
		p.Update(1, 0, 0, true)
		cur := p.Tables().RegimeWinRate[1]
		if cur >= 1.0 {
			t.Fatalf("EMA saturated at step %d", i)
		}
		if cur < prev {
			t.Fatalf("win rate decreased at step %d: %v -> %v", i, prev, cur)
		}
		prev = cur
	}
	if p.Tables().RegimeCount[1] != 300 {
		t.Fatalf("unexpected count %d", p.Tables().RegimeCount[1])
	}
	if p.Tables().RegimeWinRate[0] != 0.5 {
		t.Fatalf("other regimes must be untouched")
	}
}

func TestGetOmegaSize(t *testing.T) {
	p := New(DefaultConfig())
	if got := p.GetOmegaSize(0.1, 0.6); got != 0.25 {
		t.Fatalf("expected floor, got %v", got)
	}
	if got := p.GetOmegaSize(0.5, 0.6); got != 0.5 {
		t.Fatalf("expected omega/baseline, got %v", got)
	}
	got := p.GetOmegaSize(2.0, 0.6)
	want := (1 + 1.0*0.3) * 1.1
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("GetOmegaSize = %v, want %v", got, want)
	}
	if got := p.GetOmegaSize(50, 0.7); got != 2.0 {
		t.Fatalf("expected cap, got %v", got)
	}
}

func TestSnapshotRestore(t *testing.T) {
	p := New(DefaultConfig())
	p.Update(0, 2.5, -0.3, true)
	p.Update(2, -1.5, 1.2, false)

	q := New(DefaultConfig())
	if err := q.Restore(p.Snapshot()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if q.Tables() != p.Tables() {
		t.Fatalf("tables differ after restore")
	}

	bad := p.Snapshot()
	bad.ChiWinRate = bad.ChiWinRate[:4]
	if err := q.Restore(bad); err == nil {
		t.Fatalf("expected shape error")
	}
	bad = p.Snapshot()
	bad.RegimeWinRate[1] = 1.5
	if err := New(DefaultConfig()).Restore(bad); err == nil {
		t.Fatalf("expected range error")
	}
}
