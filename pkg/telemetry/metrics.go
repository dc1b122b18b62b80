package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loomview/renderstate/pkg/engine"
)

// Metrics provides Prometheus metrics for the lifecycle engine.
type Metrics struct {
	config MetricsConfig

	// Frame metrics
	framesTotal   prometheus.Counter
	frameDuration prometheus.Histogram

	// Effect metrics
	createsIssued   prometheus.Counter
	destroysIssued  prometheus.Counter
	createOutcomes  *prometheus.CounterVec
	destroyConfirms prometheus.Counter

	// Tier metrics
	tierSize  *prometheus.GaugeVec
	demotions *prometheus.CounterVec

	// Backpressure metrics
	blockedNodes  prometheus.Gauge
	terminalNodes prometheus.Gauge

	// Intent metrics
	rejectedIntents prometheus.Counter

	// Capacity and pressure metrics
	pinnedOverflows prometheus.Counter
	pressureSignals *prometheus.CounterVec

	// Mapping metrics
	mappedResources prometheus.Gauge
	inFlightEffects prometheus.Gauge

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.FrameDurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		framesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_total",
				Help:      "Total number of frames executed",
			},
		),
		frameDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "frame_duration_seconds",
				Help:      "Duration of full frame execution in seconds",
				Buckets:   buckets,
			},
		),

		createsIssued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "creates_issued_total",
				Help:      "Total number of resource create effects issued",
			},
		),
		destroysIssued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "destroys_issued_total",
				Help:      "Total number of resource destroy effects issued",
			},
		),
		createOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "create_outcomes_total",
				Help:      "Total number of creation outcomes, by status",
			},
			[]string{"status"},
		),
		destroyConfirms: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "destroy_confirms_total",
				Help:      "Total number of destroy confirmations applied",
			},
		),

		tierSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tier_size",
				Help:      "Current number of nodes per lifecycle tier",
			},
			[]string{"tier"},
		),
		demotions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forced_demotions_total",
				Help:      "Total number of forced tier demotions, by cause",
			},
			[]string{"cause"},
		),

		blockedNodes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "blocked_nodes",
				Help:      "Current number of nodes in creation backoff",
			},
		),
		terminalNodes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "terminal_nodes",
				Help:      "Current number of nodes with exhausted creation retries",
			},
		),

		rejectedIntents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejected_intents_total",
				Help:      "Total number of intents rejected by the reducer",
			},
		),

		pinnedOverflows: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pinned_overflows_total",
				Help:      "Total number of capacity overflows with all candidates pinned",
			},
		),
		pressureSignals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pressure_signals_total",
				Help:      "Total number of memory pressure signals consumed, by level",
			},
			[]string{"level"},
		),

		mappedResources: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "mapped_resources",
				Help:      "Current number of nodes with a live resource attached",
			},
		),
		inFlightEffects: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_effects",
				Help:      "Current number of nodes awaiting an effect outcome",
			},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		m.framesTotal,
		m.frameDuration,
		m.createsIssued,
		m.destroysIssued,
		m.createOutcomes,
		m.destroyConfirms,
		m.tierSize,
		m.demotions,
		m.blockedNodes,
		m.terminalNodes,
		m.rejectedIntents,
		m.pinnedOverflows,
		m.pressureSignals,
		m.mappedResources,
		m.inFlightEffects,
		m.errorsByClass,
	)

	return m, nil
}

// ObserveFrame folds one frame report into the metrics. It implements
// engine.FrameObserver.
func (m *Metrics) ObserveFrame(report *engine.FrameReport) {
	if m.framesTotal == nil {
		return
	}

	m.framesTotal.Inc()
	m.frameDuration.Observe(report.Duration.Seconds())

	m.createsIssued.Add(float64(report.CreatesIssued))
	m.destroysIssued.Add(float64(report.DestroysIssued))
	m.createOutcomes.WithLabelValues("success").Add(float64(report.CreateSuccesses))
	m.createOutcomes.WithLabelValues("failure").Add(float64(report.CreateFailures))
	m.destroyConfirms.Add(float64(report.DestroyConfirms))

	for cause, n := range report.Demotions {
		m.demotions.WithLabelValues(string(cause)).Add(float64(n))
	}

	m.tierSize.WithLabelValues(string(engine.TierActive)).Set(float64(report.ActiveCount))
	m.tierSize.WithLabelValues(string(engine.TierWarm)).Set(float64(report.WarmCount))
	m.tierSize.WithLabelValues(string(engine.TierCold)).Set(float64(report.ColdCount))

	m.blockedNodes.Set(float64(report.BlockedNodes))
	m.terminalNodes.Set(float64(len(report.TerminalNodes)))
	m.rejectedIntents.Add(float64(report.RejectedIntents))
	m.pinnedOverflows.Add(float64(report.PinnedOverflows))

	if report.Pressure != engine.PressureUnknown {
		m.pressureSignals.WithLabelValues(string(report.Pressure)).Inc()
	}

	m.mappedResources.Set(float64(report.MappedCount))
	m.inFlightEffects.Set(float64(report.InFlightCount))
}

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
