package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	ConsoleLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "regimeduel",
			Subsystem: "console",
			Name:      "latency_seconds",
			Help:      "Latency of operator console endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	ConsoleErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "regimeduel",
			Subsystem: "console",
			Name:      "errors_total",
			Help:      "Errors by operator console endpoint",
		},
		[]string{"endpoint"},
	)

	ReleaseAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "regimeduel",
			Subsystem: "console",
			Name:      "release_attempts_total",
			Help:      "Manual release attempts by result",
		},
		[]string{"result"},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(ConsoleLatency, ConsoleErrors, ReleaseAttempts)
	})
}
