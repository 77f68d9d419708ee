package ledger

import (
	"fmt"

	"RegimeDuel/internal/domain/models"
	"RegimeDuel/internal/services/regime"
)

// Totals are the per-profile roll-ups across all regime ledgers.
type Totals struct {
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	PnL      float64 `json:"pnl"`
	Upside   float64 `json:"upside"`
	Downside float64 `json:"downside"`
}

// WinRate returns the aggregate win rate.
func (t Totals) WinRate() float64 { return WinRate(t.Wins, t.Trades) }

// ProfitFactor returns the aggregate profit factor.
func (t Totals) ProfitFactor() float64 { return ProfitFactor(t.Upside, t.Downside) }

// Omega is the upside/downside ratio used for sizing. 1.0 when there is no history.
func (t Totals) Omega() float64 {
	if t.Downside <= 0 {
		if t.Upside > 0 {
			return maxProfitFactor
		}
		return 1.0
	}
	return t.Upside / t.Downside
}

// AvgWin returns the mean winning trade.
func (t Totals) AvgWin() float64 {
	if t.Wins == 0 {
		return 0
	}
	return t.Upside / float64(t.Wins)
}

// AvgLoss returns the mean losing trade as a positive number.
func (t Totals) AvgLoss() float64 {
	losses := t.Trades - t.Wins
	if losses <= 0 {
		return 0
	}
	return t.Downside / float64(losses)
}

// Profile aggregates the three regime ledgers of one agent role.
type Profile struct {
	cfg     Config
	ledgers [regime.NumBuckets]*Ledger
	totals  Totals
}

// NewProfile creates a profile with fresh ledgers.
func NewProfile(cfg Config) *Profile {
	p := &Profile{cfg: cfg}
	for i := range p.ledgers {
		p.ledgers[i] = New(cfg)
	}
	return p
}

// Ledger returns the ledger of a bucket. Out-of-range buckets map to Trend.
func (p *Profile) Ledger(bucket int) *Ledger {
	if bucket < 0 || bucket >= regime.NumBuckets {
		bucket = regime.BucketTrend
	}
	return p.ledgers[bucket]
}

// UpdateTrade posts a trade to the bucket ledger and recomputes totals.
func (p *Profile) UpdateTrade(bucket int, netPnL, reward float64, action models.Action) error {
	if err := p.Ledger(bucket).UpdateTrade(netPnL, reward, action); err != nil {
		return err
	}
	p.recompute()
	return nil
}

func (p *Profile) recompute() {
	var t Totals
	for _, l := range p.ledgers {
		s := l.state
		t.Trades += s.Trades
		t.Wins += s.Wins
		t.PnL += s.CumulativePnL
		t.Upside += s.CumulativeUpside
		t.Downside += s.CumulativeDownside
	}
	p.totals = t
}

// Totals returns the roll-up.
func (p *Profile) Totals() Totals { return p.totals }

// Clone deep-copies the profile, session mirrors included.
func (p *Profile) Clone() *Profile {
	c := &Profile{cfg: p.cfg, totals: p.totals}
	for i, l := range p.ledgers {
		c.ledgers[i] = l.Clone()
	}
	return c
}

// SeedQFrom copies the Q-values of src into p without touching counters.
func (p *Profile) SeedQFrom(src *Profile) {
	for i, l := range p.ledgers {
		s := src.ledgers[i].state
		l.state.QBuy = s.QBuy
		l.state.QSell = s.QSell
		l.state.QHold = s.QHold
	}
}

// ResetLearningRates restores every ledger to the initial rate.
func (p *Profile) ResetLearningRates() {
	for _, l := range p.ledgers {
		l.ResetLearningRate()
	}
}

// States returns the persisted ledger values in bucket order.
func (p *Profile) States() []models.LedgerState {
	out := make([]models.LedgerState, len(p.ledgers))
	for i, l := range p.ledgers {
		out[i] = l.state
	}
	return out
}

// Restore loads ledger values and recomputes totals. Nothing is applied unless
// every ledger validates.
func (p *Profile) Restore(states []models.LedgerState) error {
	if len(states) != regime.NumBuckets {
		return fmt.Errorf("profile: %d ledgers, want %d: %w", len(states), regime.NumBuckets, models.ErrSnapshotMismatch)
	}
	for i, s := range states {
		if err := ValidState(s); err != nil {
			return fmt.Errorf("profile bucket %d: %w", i, err)
		}
	}
	for i, s := range states {
		p.ledgers[i].Restore(s)
	}
	p.recompute()
	return nil
}
