package monitoring

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "userphone_queue_length",
			Help: "Endpoints currently waiting per queue",
		},
		[]string{"queue"},
	)

	activeCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "userphone_active_calls",
			Help: "Calls currently connected",
		},
	)

	callOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "userphone_call_operations_total",
			Help: "Call lifecycle operations",
		},
		[]string{"operation", "status"},
	)

	relayOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "userphone_relay_operations_total",
			Help: "Relayed messages, edits and reactions",
		},
		[]string{"kind", "status"},
	)

	callDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "userphone_call_duration_seconds",
			Help:    "Length of finished calls",
			Buckets: prometheus.ExponentialBuckets(15, 2, 10),
		},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "userphone_circuit_breaker_state",
			Help: "0 closed, 1 half-open, 2 open",
		},
		[]string{"name"},
	)

	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "userphone_goroutines",
			Help: "Current number of goroutines",
		},
	)
)

// Source is polled for gauges that are cheaper to read than to track.
type Source interface {
	Lengths() (regular, anonymous int)
	ActiveCallCount(ctx context.Context) (int, error)
}

type Monitor struct {
	source   Source
	interval time.Duration
	log      *slog.Logger
}

func NewMonitor(source Source, log *slog.Logger) *Monitor {
	return &Monitor{source: source, interval: 30 * time.Second, log: log}
}

// Run collects gauges until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collect(ctx)
		}
	}
}

func (m *Monitor) collect(ctx context.Context) {
	if m.source != nil {
		regular, anonymous := m.source.Lengths()
		queueLength.WithLabelValues("regular").Set(float64(regular))
		queueLength.WithLabelValues("anonymous").Set(float64(anonymous))

		if n, err := m.source.ActiveCallCount(ctx); err == nil {
			activeCalls.Set(float64(n))
		} else {
			m.log.Warn("active call count unavailable", "error", err)
		}
	}
	goroutineCount.Set(float64(runtime.NumGoroutine()))
}

// The tracking methods are safe on a nil Monitor so services can run without one.

func (m *Monitor) TrackCall(operation, status string) {
	if m == nil {
		return
	}
	callOperations.WithLabelValues(operation, status).Inc()
}

func (m *Monitor) TrackRelay(kind, status string) {
	if m == nil {
		return
	}
	relayOperations.WithLabelValues(kind, status).Inc()
}

func (m *Monitor) TrackCallEnded(d time.Duration) {
	if m == nil {
		return
	}
	callDuration.Observe(d.Seconds())
}

func (m *Monitor) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	breakerState.WithLabelValues(name).Set(float64(state))
}
