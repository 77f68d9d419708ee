package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// value returns the counter or gauge value of the series matching labels.
func value(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := true
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					match = false
				}
			}
			if !match {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("series %s %v not found", name, labels)
	return 0
}

func TestRecorderCountsAndState(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordClose("sniper", true, 12.5)
	r.RecordClose("sniper", true, -3)
	r.RecordHalt("daily_loss")
	r.RecordCircuitState("HALTED")

	if got := value(t, reg, "regimeduel_positions_closed_total", map[string]string{"agent": "sniper", "mode": "shadow", "outcome": "win"}); got != 1 {
		t.Fatalf("wins = %v", got)
	}
	if got := value(t, reg, "regimeduel_gross_pnl_total", map[string]string{"sign": "negative"}); got != 3 {
		t.Fatalf("negative pnl = %v", got)
	}
	if got := value(t, reg, "regimeduel_circuit_state", map[string]string{"state": "HALTED"}); got != 1 {
		t.Fatalf("halted gauge = %v", got)
	}
	if got := value(t, reg, "regimeduel_circuit_state", map[string]string{"state": "LIVE"}); got != 0 {
		t.Fatalf("live gauge = %v", got)
	}
	if got := value(t, reg, "regimeduel_circuit_halts_total", map[string]string{"reason": "daily_loss"}); got != 1 {
		t.Fatalf("halts = %v", got)
	}
}
