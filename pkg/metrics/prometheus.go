package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var circuitStates = []string{"LIVE", "HALTED", "RETRAINING", "PENDING"}

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	decisions    *prometheus.CounterVec
	opened       *prometheus.CounterVec
	closed       *prometheus.CounterVec
	pnl          *prometheus.CounterVec
	halts        *prometheus.CounterVec
	swaps        *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	circuitState *prometheus.GaugeVec
	allocation   *prometheus.GaugeVec
	equity       prometheus.Gauge
	pWin         *prometheus.HistogramVec
	latency      *prometheus.HistogramVec
}

// New creates a recorder registered on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimeduel_decisions_total",
				Help: "Directional decisions by agent, regime and routing",
			},
			[]string{"agent", "regime", "route"},
		),
		opened: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimeduel_positions_opened_total",
				Help: "Positions opened by agent and mode",
			},
			[]string{"agent", "mode"},
		),
		closed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimeduel_positions_closed_total",
				Help: "Positions closed by agent, mode and outcome",
			},
			[]string{"agent", "mode", "outcome"},
		),
		pnl: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimeduel_gross_pnl_total",
				Help: "Absolute realised PnL split by sign",
			},
			[]string{"agent", "mode", "sign"},
		),
		halts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimeduel_circuit_halts_total",
				Help: "Circuit breaker halts by trigger",
			},
			[]string{"reason"},
		),
		swaps: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimeduel_agent_swaps_total",
				Help: "Champion/Challenger promotions",
			},
			[]string{"agent"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimeduel_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		circuitState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "regimeduel_circuit_state",
				Help: "1 for the active circuit breaker state",
			},
			[]string{"state"},
		),
		allocation: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "regimeduel_capital_allocation",
				Help: "Capital fraction per agent",
			},
			[]string{"agent"},
		),
		equity: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "regimeduel_equity",
				Help: "Engine equity estimate",
			},
		),
		pWin: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "regimeduel_p_win",
				Help:    "Predicted win probability at decision time",
				Buckets: prometheus.LinearBuckets(0.30, 0.05, 9),
			},
			[]string{"agent"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "regimeduel_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordDecision(agent, regime string, live bool, pWin float64) {
	route := "shadow"
	if live {
		route = "live"
	}
	r.decisions.WithLabelValues(agent, regime, route).Inc()
	r.pWin.WithLabelValues(agent).Observe(pWin)
}

func (r *Recorder) RecordOpen(agent string, shadow bool) {
	r.opened.WithLabelValues(agent, mode(shadow)).Inc()
}

func (r *Recorder) RecordClose(agent string, shadow bool, netPnL float64) {
	outcome, sign := "loss", "negative"
	if netPnL > 0 {
		outcome, sign = "win", "positive"
	}
	r.closed.WithLabelValues(agent, mode(shadow), outcome).Inc()
	if netPnL < 0 {
		netPnL = -netPnL
	}
	r.pnl.WithLabelValues(agent, mode(shadow), sign).Add(netPnL)
}

func (r *Recorder) RecordHalt(reason string) {
	r.halts.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordSwap(agent string) {
	r.swaps.WithLabelValues(agent).Inc()
}

// RecordCircuitState sets the active state to 1 and every other state to 0.
func (r *Recorder) RecordCircuitState(state string) {
	for _, s := range circuitStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.circuitState.WithLabelValues(s).Set(v)
	}
}

func (r *Recorder) RecordAllocation(agent string, fraction float64) {
	r.allocation.WithLabelValues(agent).Set(fraction)
}

func (r *Recorder) RecordEquity(equity float64) {
	r.equity.Set(equity)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func mode(shadow bool) string {
	if shadow {
		return "shadow"
	}
	return "live"
}
