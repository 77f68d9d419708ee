package predictor

import (
	"fmt"
	"math"

	"RegimeDuel/internal/domain/models"
	"RegimeDuel/internal/services/regime"
)

// NumZones is the number of z-score zones per feature table.
const NumZones = 5

const (
	weightRegime = 0.30
	weightChi    = 0.20
	weightAccel  = 0.25
	weightAgent  = 0.25

	minProbability = 0.30
	maxProbability = 0.70
	neutralRate    = 0.5
	omegaSlope     = 0.3
)

// Config controls the EMA update and Omega sizing.
type Config struct {
	Alpha         float64
	OmegaBaseline float64
	OmegaFloor    float64
	OmegaMax      float64
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{Alpha: 0.05, OmegaBaseline: 1.0, OmegaFloor: 0.25, OmegaMax: 2.0}
}

// Tables is the learned state of the predictor.
type Tables struct {
	RegimeWinRate [regime.NumBuckets]float64
	ChiWinRate    [NumZones]float64
	AccelWinRate  [NumZones]float64
	RegimeCount   [regime.NumBuckets]int
	ChiCount      [NumZones]int
	AccelCount    [NumZones]int
}

// NewTables returns tables initialised to a neutral 0.5 win rate.
func NewTables() Tables {
	var t Tables
	for i := range t.RegimeWinRate {
		t.RegimeWinRate[i] = neutralRate
	}
	for i := 0; i < NumZones; i++ {
		t.ChiWinRate[i] = neutralRate
		t.AccelWinRate[i] = neutralRate
	}
	return t
}

// Predictor blends regime, chi-zone, accel-zone and agent win rates into P(win).
type Predictor struct {
	cfg    Config
	tables Tables
}

// New creates a predictor with neutral tables.
func New(cfg Config) *Predictor {
	return &Predictor{cfg: cfg, tables: NewTables()}
}

// Zone maps a z-score to (-inf,-2], (-2,-1], (-1,1], (1,2], (2,inf).
// Non-finite values land in the neutral zone.
func Zone(z float64) int {
	switch {
	case math.IsNaN(z) || math.IsInf(z, 0):
		return 2
	case z <= -2:
		return 0
	case z <= -1:
		return 1
	case z <= 1:
		return 2
	case z <= 2:
		return 3
	default:
		return 4
	}
}

// Predict returns P(win) in [0.30, 0.70].
func (p *Predictor) Predict(regimeIdx int, chiZ, accelZ, agentWinRate float64) float64 {
	regimeIdx = clampIndex(regimeIdx)
	if math.IsNaN(agentWinRate) {
		agentWinRate = neutralRate
	}
	prob := weightRegime*p.tables.RegimeWinRate[regimeIdx] +
		weightChi*p.tables.ChiWinRate[Zone(chiZ)] +
		weightAccel*p.tables.AccelWinRate[Zone(accelZ)] +
		weightAgent*clamp(agentWinRate, minProbability, maxProbability)
	return clamp(prob, minProbability, maxProbability)
}

// Update moves all three tables toward the observed outcome.
func (p *Predictor) Update(regimeIdx int, chiZ, accelZ float64, won bool) {
	regimeIdx = clampIndex(regimeIdx)
	target := 0.0
	if won {
		target = 1.0
	}
	a := p.cfg.Alpha
	cz, az := Zone(chiZ), Zone(accelZ)

	p.tables.RegimeWinRate[regimeIdx] += a * (target - p.tables.RegimeWinRate[regimeIdx])
	p.tables.ChiWinRate[cz] += a * (target - p.tables.ChiWinRate[cz])
	p.tables.AccelWinRate[az] += a * (target - p.tables.AccelWinRate[az])

	p.tables.RegimeCount[regimeIdx]++
	p.tables.ChiCount[cz]++
	p.tables.AccelCount[az]++
}

// GetOmegaSize converts an Omega ratio and P(win) into a position size scalar.
func (p *Predictor) GetOmegaSize(omega, pWin float64) float64 {
	base := p.cfg.OmegaBaseline
	if base <= 0 || math.IsNaN(omega) {
		return p.cfg.OmegaFloor
	}
	if omega < base {
		return math.Max(p.cfg.OmegaFloor, omega/base)
	}
	scale := (1 + (omega-base)*omegaSlope) * (0.5 + pWin)
	return math.Min(scale, p.cfg.OmegaMax)
}

// Tables returns a copy of the learned tables.
func (p *Predictor) Tables() Tables { return p.tables }

// Snapshot exports the tables for persistence.
func (p *Predictor) Snapshot() models.PredictorSnapshot {
	t := p.tables
	return models.PredictorSnapshot{
		RegimeWinRate: append([]float64(nil), t.RegimeWinRate[:]...),
		ChiWinRate:    append([]float64(nil), t.ChiWinRate[:]...),
		AccelWinRate:  append([]float64(nil), t.AccelWinRate[:]...),
		RegimeCount:   append([]int(nil), t.RegimeCount[:]...),
		ChiCount:      append([]int(nil), t.ChiCount[:]...),
		AccelCount:    append([]int(nil), t.AccelCount[:]...),
	}
}

// Restore replaces the tables. Shape or range errors leave the predictor untouched.
func (p *Predictor) Restore(s models.PredictorSnapshot) error {
	if len(s.RegimeWinRate) != regime.NumBuckets || len(s.RegimeCount) != regime.NumBuckets ||
		len(s.ChiWinRate) != NumZones || len(s.ChiCount) != NumZones ||
		len(s.AccelWinRate) != NumZones || len(s.AccelCount) != NumZones {
		return fmt.Errorf("predictor: table shape: %w", models.ErrSnapshotMismatch)
	}
	for _, tbl := range [][]float64{s.RegimeWinRate, s.ChiWinRate, s.AccelWinRate} {
		for _, v := range tbl {
			if math.IsNaN(v) || v < 0 || v > 1 {
				return fmt.Errorf("predictor: win rate %v out of range: %w", v, models.ErrSnapshotMismatch)
			}
		}
	}
	var t Tables
	copy(t.RegimeWinRate[:], s.RegimeWinRate)
	copy(t.ChiWinRate[:], s.ChiWinRate)
	copy(t.AccelWinRate[:], s.AccelWinRate)
	copy(t.RegimeCount[:], s.RegimeCount)
	copy(t.ChiCount[:], s.ChiCount)
	copy(t.AccelCount[:], s.AccelCount)
	p.tables = t
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampIndex(i int) int {
	if i < 0 || i >= regime.NumBuckets {
		return regime.BucketTrend
	}
	return i
}
