package agent

import (
	"RegimeDuel/internal/domain/models"
	"RegimeDuel/internal/services/regime"
)

// Behavior is the per-kind parameter row used when proposing a direction.
type Behavior struct {
	BaseThreshold  float64
	TrendMult      float64
	LearningMult   float64
	ReversionZ     float64
	ExtremeZ       float64
	RiskMultiplier float64
}

// Sniper waits for strong impulses; Berserker acts on weaker ones.
var behaviors = map[models.AgentKind]Behavior{
	models.AgentSniper: {
		BaseThreshold:  1.5,
		TrendMult:      1.2,
		LearningMult:   0.6,
		ReversionZ:     2.0,
		ExtremeZ:       3.0,
		RiskMultiplier: 1.0,
	},
	models.AgentBerserker: {
		BaseThreshold:  0.8,
		TrendMult:      1.0,
		LearningMult:   0.5,
		ReversionZ:     2.0,
		ExtremeZ:       3.0,
		RiskMultiplier: 1.0,
	},
}

// BehaviorFor returns the behaviour row of a kind.
func BehaviorFor(kind models.AgentKind) Behavior {
	if b, ok := behaviors[kind]; ok {
		return b
	}
	return behaviors[models.AgentSniper]
}

// Propose derives a direction for the signal's bucket using the agent's threshold.
// While in the learning phase a looser momentum rule fills in when the regime rule is silent.
func (a *Agent) Propose(sig models.RegimeSignal) models.Direction {
	thr := a.threshold
	b := a.behavior

	var dir models.Direction
	switch regime.Bucket(sig.Class) {
	case regime.BucketBreakout:
		if abs(sig.Acceleration) > thr {
			dir = sign(sig.Acceleration)
		}
	case regime.BucketTrend:
		if abs(sig.Acceleration) > thr*b.TrendMult {
			dir = sign(sig.Velocity)
		}
	case regime.BucketMeanReversion:
		z := abs(sig.PriceZ)
		decelerating := sig.Velocity*sig.Acceleration < 0
		if z >= b.ExtremeZ || (z >= b.ReversionZ && decelerating) {
			dir = -sign(sig.PriceZ)
		}
	}
	if dir != models.DirectionNone || !a.InLearningPhase() {
		return dir
	}
	if abs(sig.Acceleration) > thr*b.LearningMult && sig.Velocity*sig.Acceleration > 0 {
		return sign(sig.Velocity)
	}
	return models.DirectionNone
}

func sign(v float64) models.Direction {
	switch {
	case v > 0:
		return models.DirectionLong
	case v < 0:
		return models.DirectionShort
	default:
		return models.DirectionNone
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
