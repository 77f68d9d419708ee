package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"RegimeDuel/internal/domain/models"
	"RegimeDuel/internal/services/agent"
	"RegimeDuel/pkg/logger"
)

// Shadow exit reasons.
const (
	ExitStop    = "stop"
	ExitTarget  = "target"
	ExitTimeout = "timeout"
	ExitFill    = "fill"
)

// positionSize risks RiskPct of the agent's capital share over the stop distance.
func (e *DecisionEngine) positionSize(a *agent.Agent, spec models.InstrumentSpec, atr, pWin float64) float64 {
	stopTicks := atr * e.cfg.StopATRMult / spec.TickSize
	denom := stopTicks * spec.TickValue
	if denom <= 0 || math.IsNaN(denom) || math.IsInf(denom, 0) {
		return spec.MinVolume
	}
	risk := e.equity * e.cfg.RiskPct * a.Allocation()
	if m := a.Behavior().RiskMultiplier; m > 0 {
		risk *= m
	}
	if e.cfg.OmegaSizing {
		risk *= e.predictor.GetOmegaSize(a.Shadow().Totals().Omega(), pWin)
	}
	return NormalizeVolume(risk/denom, spec)
}

// NormalizeVolume floors raw onto the volume step and clamps it to the
// instrument's volume range. Degenerate input yields MinVolume.
func NormalizeVolume(raw float64, spec models.InstrumentSpec) float64 {
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw <= 0 || spec.VolumeStep <= 0 {
		return spec.MinVolume
	}
	step := decimal.NewFromFloat(spec.VolumeStep)
	vol := decimal.NewFromFloat(raw).Div(step).Floor().Mul(step)
	lo := decimal.NewFromFloat(spec.MinVolume)
	hi := decimal.NewFromFloat(spec.MaxVolume)
	if vol.LessThan(lo) {
		vol = lo
	}
	if vol.GreaterThan(hi) {
		vol = hi
	}
	return vol.InexactFloat64()
}

func roundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	t := decimal.NewFromFloat(tick)
	return decimal.NewFromFloat(price).Div(t).Round(0).Mul(t).InexactFloat64()
}

// manageOpen marks every open position on the instrument: shadows are closed on
// stop, target or timeout and live stops are trailed.
func (e *DecisionEngine) manageOpen(ctx context.Context, instrument string, spec models.InstrumentSpec, atr float64, now time.Time) {
	type exit struct {
		handle string
		price  float64
		reason string
	}
	var exits []exit
	var trails []*models.Position

	e.pool.Each(func(p *models.Position) {
		if p.Instrument != instrument {
			return
		}
		price := exitPrice(p.Direction, spec)
		p.Track(price)
		if !p.Shadow {
			trails = append(trails, p)
			return
		}
		if reason := e.shadowExit(p, price, now); reason != "" {
			exits = append(exits, exit{handle: p.Handle, price: price, reason: reason})
		}
	})

	for _, x := range exits {
		e.closeShadow(x.handle, x.price, x.reason, now)
	}
	for _, p := range trails {
		e.trail(ctx, p, spec, atr)
	}
}

func (e *DecisionEngine) shadowExit(p *models.Position, price float64, now time.Time) string {
	switch {
	case p.Excursion(price) <= p.Excursion(p.StopPrice):
		return ExitStop
	case p.Excursion(price) >= p.Excursion(p.TargetPrice):
		return ExitTarget
	case e.cfg.ShadowTimeout > 0 && now.Sub(p.EntryTime) >= e.cfg.ShadowTimeout:
		return ExitTimeout
	}
	return ""
}

// trail moves a live stop behind price once the favorable excursion passes the
// activation distance. Stops only ever tighten.
func (e *DecisionEngine) trail(ctx context.Context, p *models.Position, spec models.InstrumentSpec, atr float64) {
	if e.cfg.TrailActivateATR <= 0 || e.cfg.TrailDistanceATR <= 0 {
		return
	}
	if p.MaxFavorable < e.cfg.TrailActivateATR*atr {
		return
	}
	price := exitPrice(p.Direction, spec)
	stop := roundToTick(price-float64(p.Direction)*e.cfg.TrailDistanceATR*atr, spec.TickSize)
	if p.Excursion(stop) <= p.Excursion(p.StopPrice) {
		return
	}
	if err := e.gateway.UpdateStop(ctx, p.Handle, stop); err != nil {
		e.metrics.RecordError("update_stop")
		e.log.Warn("trailing stop update failed",
			logger.String("handle", p.Handle),
			logger.Float64("stop", stop),
			logger.Error(err))
		return
	}
	p.StopPrice = stop
}

// closeShadow settles a virtual position into the agent's Challenger.
func (e *DecisionEngine) closeShadow(handle string, price float64, reason string, now time.Time) {
	pos, err := e.pool.Release(handle)
	if err != nil {
		return
	}
	a := e.agentOf(pos.Agent)
	if a == nil {
		return
	}
	net := pos.GrossPnL(price) - pos.Friction
	dur := math.Max(now.Sub(pos.EntryTime).Minutes(), 0)
	l := a.Shadow().Ledger(pos.RegimeBucket)
	reward := l.CalculateReward(net, dur) + e.jitter()

	if err := a.Shadow().UpdateTrade(pos.RegimeBucket, net, reward, pos.Direction.Action()); err != nil {
		e.metrics.RecordError("ledger_update")
		e.log.Warn("shadow ledger update rejected",
			logger.String("handle", handle),
			logger.Error(err))
		return
	}
	e.predictor.Update(pos.RegimeBucket, pos.ChiZ, pos.AccelZ, net > 0)
	e.breaker.RecordShadow(net)
	a.EvaluateEdge(e.gate)

	e.metrics.RecordClose(a.Kind().String(), true, net)
	e.events.Trade(closedTrade(pos, price, net, reward, dur, reason, now))
}

// jitter is the exploration noise added to shadow rewards.
func (e *DecisionEngine) jitter() float64 {
	if e.rng == nil || e.cfg.ExplorationNoise <= 0 {
		return 0
	}
	return (e.rng.Float64()*2 - 1) * e.cfg.ExplorationNoise
}

// OnPositionClosed books a broker fill for a live position into the agent's
// Champion and runs the risk checks that depend on realised PnL.
func (e *DecisionEngine) OnPositionClosed(ctx context.Context, handle string, netPnL, durationMinutes float64) error {
	if math.IsNaN(netPnL) || math.IsInf(netPnL, 0) || math.IsNaN(durationMinutes) || math.IsInf(durationMinutes, 0) {
		e.metrics.RecordError("invalid_input")
		return fmt.Errorf("close %s pnl=%v duration=%v: %w", handle, netPnL, durationMinutes, models.ErrInvalidInput)
	}
	durationMinutes = math.Max(durationMinutes, 0)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	if p, ok := e.pool.Get(handle); !ok || p.Shadow {
		e.metrics.RecordError("unknown_handle")
		return fmt.Errorf("close %s: %w", handle, models.ErrUnknownHandle)
	}
	pos, err := e.pool.Release(handle)
	if err != nil {
		return fmt.Errorf("close %s: %w", handle, err)
	}
	a := e.agentOf(pos.Agent)
	if a == nil {
		return fmt.Errorf("close %s: agent %d: %w", handle, pos.Agent, models.ErrUnknownHandle)
	}

	reward := a.Real().Ledger(pos.RegimeBucket).CalculateReward(netPnL, durationMinutes)
	if err := a.Real().UpdateTrade(pos.RegimeBucket, netPnL, reward, pos.Direction.Action()); err != nil {
		return fmt.Errorf("close %s: %w", handle, err)
	}
	a.RecordOutcome(netPnL > 0)

	e.equity += netPnL
	e.breaker.RecordLive(now, netPnL, e.equity)
	e.liveTrades++
	if e.allocator.Due(e.liveTrades) {
		e.rebalance()
	}
	e.evaluateBreaker(now)

	exit := pos.EntryPrice
	if m, ok := e.marks[pos.Instrument]; ok {
		exit = exitPrice(pos.Direction, m.spec)
	}
	e.metrics.RecordClose(a.Kind().String(), false, netPnL)
	e.metrics.RecordEquity(e.equity)
	e.events.Trade(closedTrade(pos, exit, netPnL, reward, durationMinutes, ExitFill, now))
	e.log.Info("live position closed",
		logger.String("handle", handle),
		logger.String("agent", a.Kind().String()),
		logger.Float64("net_pnl", netPnL),
		logger.Float64("equity", e.equity))
	return nil
}

// rebalance splits capital between the agents by their Champion profit factors.
func (e *DecisionEngine) rebalance() {
	a, b := e.agents[models.AgentSniper], e.agents[models.AgentBerserker]
	allocA, allocB := e.allocator.Allocate(a.Real().Totals().ProfitFactor(), b.Real().Totals().ProfitFactor())
	a.SetAllocation(allocA)
	b.SetAllocation(allocB)
	e.metrics.RecordAllocation(a.Kind().String(), allocA)
	e.metrics.RecordAllocation(b.Kind().String(), allocB)
	e.log.Info("capital rebalanced",
		logger.Float64(a.Kind().String(), allocA),
		logger.Float64(b.Kind().String(), allocB))
}

func closedTrade(pos models.Position, exit, net, reward, dur float64, reason string, now time.Time) models.ClosedTrade {
	return models.ClosedTrade{
		Handle:          pos.Handle,
		Instrument:      pos.Instrument,
		Agent:           pos.Agent.String(),
		Shadow:          pos.Shadow,
		Direction:       pos.Direction.String(),
		RegimeBucket:    pos.RegimeBucket,
		EntryPrice:      pos.EntryPrice,
		ExitPrice:       exit,
		Size:            pos.Size,
		NetPnL:          net,
		Reward:          reward,
		DurationMinutes: dur,
		MaxAdverse:      pos.MaxAdverse,
		MaxFavorable:    pos.MaxFavorable,
		Reason:          reason,
		OpenedAt:        pos.EntryTime,
		ClosedAt:        now,
	}
}
