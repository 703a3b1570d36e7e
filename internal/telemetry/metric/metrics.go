package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veridios/quiesce-go/internal/core/domain"
)

const namespace = "quiesce"

// Options configures the metrics set.
type Options struct {
	// SubscriberCount reports the current number of live registrations.
	// Nil leaves the gauge out.
	SubscriberCount func() int

	// ProcessMetrics adds the standard Go runtime and process collectors.
	ProcessMetrics bool
}

// Metrics is the daemon's metric set. It implements the orchestrator's
// measurement contract and owns the Prometheus registry everything else
// (swap store, admin plane) hangs off.
type Metrics struct {
	registry *prometheus.Registry

	cyclesTotal       *prometheus.CounterVec
	prepareDuration   prometheus.Histogram
	suspendedDuration prometheus.Histogram
	tokenMismatches   prometheus.Counter
	abortFailures     prometheus.Counter
	powerState        prometheus.Gauge
}

// New creates the metric set and its registry.
func New(opts Options) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "finished_total",
			Help:      "Finished suspend cycles by outcome",
		}, []string{"outcome"}),

		prepareDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "prepare_duration_seconds",
			Help:      "Prepare phase duration",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}),

		suspendedDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "suspended_duration_seconds",
			Help:      "Time spent in the power transition",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms .. ~13min
		}),

		tokenMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "mismatches_total",
			Help:      "Wake claims rejected by token validation",
		}),

		abortFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "abort_delivery_failures_total",
			Help:      "Abort notifications that could not be delivered",
		}),

		powerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "power_state",
			Help:      "Current power state (0 idle, 1 preparing, 2 suspended, 3 resuming)",
		}),
	}

	registry.MustRegister(
		m.cyclesTotal,
		m.prepareDuration,
		m.suspendedDuration,
		m.tokenMismatches,
		m.abortFailures,
		m.powerState,
	)

	// Pre-create the outcome series so a dashboard sees zeros instead of
	// absent series before the first cycle.
	for o := domain.OutcomeCompleted; o <= domain.OutcomeReinit; o++ {
		m.cyclesTotal.WithLabelValues(o.String())
	}

	if opts.SubscriberCount != nil {
		count := opts.SubscriberCount
		registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Live subscriber registrations",
		}, func() float64 { return float64(count()) }))
	}

	if opts.ProcessMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return m
}

// Registry returns the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CycleFinished records a finished cycle and its phase timings.
func (m *Metrics) CycleFinished(outcome domain.Outcome, prepare, suspended time.Duration) {
	m.cyclesTotal.WithLabelValues(outcome.String()).Inc()
	if prepare > 0 {
		m.prepareDuration.Observe(prepare.Seconds())
	}
	if suspended > 0 {
		m.suspendedDuration.Observe(suspended.Seconds())
	}
}

// TokenMismatch records a rejected wake claim.
func (m *Metrics) TokenMismatch() {
	m.tokenMismatches.Inc()
}

// AbortDeliveryFailure records an undeliverable abort notification.
func (m *Metrics) AbortDeliveryFailure() {
	m.abortFailures.Inc()
}

// PowerState mirrors the orchestrator state machine into a gauge.
func (m *Metrics) PowerState(state domain.PowerState) {
	m.powerState.Set(float64(state))
}
