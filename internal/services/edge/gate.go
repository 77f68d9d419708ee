package edge

import "math"

// Config holds the significance thresholds of the gate.
type Config struct {
	MinTrades   int
	BaseWinRate float64
	MaxPValue   float64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{MinTrades: 30, BaseWinRate: 0.52, MaxPValue: 0.05}
}

// Gate tests whether an observed win rate is a statistically significant edge
// over a fair coin after accounting for friction. It holds no state.
type Gate struct {
	cfg Config
}

// NewGate creates a gate.
func NewGate(cfg Config) *Gate {
	return &Gate{cfg: cfg}
}

// HasEdge returns whether the sample shows an edge and the one-sided p-value
// of the observed win rate. The p-value is 1 when the sample is too small.
func (g *Gate) HasEdge(wins, total int, avgWin, avgLoss, frictionMultiplier float64) (bool, float64) {
	if total < g.cfg.MinTrades || total <= 0 {
		return false, 1
	}
	observed := float64(wins) / float64(total)

	hurdle := 0.0
	if avgWin > 0 && !math.IsInf(avgWin, 0) {
		hurdle = frictionMultiplier * math.Abs(avgLoss) / avgWin
	}
	if math.IsNaN(hurdle) || math.IsInf(hurdle, 0) {
		return false, 1
	}

	p := PValue(wins, total)
	if observed < g.cfg.BaseWinRate+hurdle {
		return false, p
	}
	if p > g.cfg.MaxPValue {
		return false, p
	}
	return true, p
}

// PValue is the one-sided p-value of wins/total against p=0.5 using the
// normal approximation to the binomial.
func PValue(wins, total int) float64 {
	if total <= 0 {
		return 1
	}
	n := float64(total)
	z := (float64(wins)/n - 0.5) / math.Sqrt(0.25/n)
	return 1 - NormalCDF(z)
}

// NormalCDF is the standard normal CDF (Abramowitz & Stegun 26.2.17,
// absolute error below 7.5e-8).
func NormalCDF(x float64) float64 {
	if x < 0 {
		return 1 - NormalCDF(-x)
	}
	const (
		p  = 0.2316419
		b1 = 0.319381530
		b2 = -0.356563782
		b3 = 1.781477937
		b4 = -1.821255978
		b5 = 1.330274429
	)
	t := 1 / (1 + p*x)
	poly := t * (b1 + t*(b2+t*(b3+t*(b4+t*b5))))
	pdf := math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
	return 1 - pdf*poly
}
