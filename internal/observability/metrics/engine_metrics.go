package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics are the prometheus series scraped from /metrics.
type EngineMetrics struct {
	numberIssued     *prometheus.CounterVec
	numberRetries    prometheus.Counter
	floorViolations  prometheus.Counter
	renderDuration   *prometheus.HistogramVec
	renderPages      prometheus.Histogram
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
	transitions      *prometheus.CounterVec
}

// NewEngineMetrics registers the engine collectors on registerer. A collector
// that is already registered is reused.
func NewEngineMetrics(registerer prometheus.Registerer, cfg Config) *EngineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "invoicedesk"
	}
	environment := cfg.Environment
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &EngineMetrics{
		numberIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "invoicedesk_numbers_issued_total",
			Help:        "Invoice numbers issued by strategy.",
			ConstLabels: constLabels,
		}, []string{"strategy"}),
		numberRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "invoicedesk_number_conflict_retries_total",
			Help:        "Create transactions retried after a duplicate invoice number.",
			ConstLabels: constLabels,
		}),
		floorViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "invoicedesk_price_floor_violations_total",
			Help:        "Line batches rejected for pricing below the catalog floor.",
			ConstLabels: constLabels,
		}),
		renderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "invoicedesk_render_duration_seconds",
			Help:        "PDF render latency by mode.",
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			ConstLabels: constLabels,
		}, []string{"mode"}),
		renderPages: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "invoicedesk_render_pages",
			Help:        "Pages per rendered document.",
			Buckets:     []float64{1, 2, 3, 5, 10, 20},
			ConstLabels: constLabels,
		}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "invoicedesk_dispatch_total",
			Help:        "Send attempts by failing stage and error kind.",
			ConstLabels: constLabels,
		}, []string{"stage", "kind"}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "invoicedesk_dispatch_duration_seconds",
			Help:        "End-to-end send latency including render and SMTP.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
			ConstLabels: constLabels,
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "invoicedesk_status_transitions_total",
			Help:        "Invoice status changes.",
			ConstLabels: constLabels,
		}, []string{"from", "to", "override"}),
	}

	m.numberIssued = register(registerer, m.numberIssued)
	m.numberRetries = register(registerer, m.numberRetries)
	m.floorViolations = register(registerer, m.floorViolations)
	m.renderDuration = register(registerer, m.renderDuration)
	m.renderPages = register(registerer, m.renderPages)
	m.dispatchTotal = register(registerer, m.dispatchTotal)
	m.dispatchDuration = register(registerer, m.dispatchDuration)
	m.transitions = register(registerer, m.transitions)

	return m
}

func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return collector
}

func (m *EngineMetrics) ObserveNumberIssued(strategy string) {
	if m == nil {
		return
	}
	m.numberIssued.WithLabelValues(strategy).Inc()
}

func (m *EngineMetrics) ObserveNumberRetry() {
	if m == nil {
		return
	}
	m.numberRetries.Inc()
}

func (m *EngineMetrics) ObserveFloorViolation() {
	if m == nil {
		return
	}
	m.floorViolations.Inc()
}

func (m *EngineMetrics) ObserveRender(mode string, pages int, took time.Duration) {
	if m == nil {
		return
	}
	m.renderDuration.WithLabelValues(mode).Observe(took.Seconds())
	m.renderPages.Observe(float64(pages))
}

// ObserveDispatch records a send attempt. stage and kind are "none" on success.
func (m *EngineMetrics) ObserveDispatch(stage, kind string, took time.Duration) {
	if m == nil {
		return
	}
	if stage == "" {
		stage = "none"
	}
	if kind == "" {
		kind = "none"
	}
	m.dispatchTotal.WithLabelValues(stage, kind).Inc()
	m.dispatchDuration.Observe(took.Seconds())
}

func (m *EngineMetrics) ObserveTransition(from, to string, override bool) {
	if m == nil {
		return
	}
	flag := "false"
	if override {
		flag = "true"
	}
	m.transitions.WithLabelValues(from, to, flag).Inc()
}
