// Package metrics exports executor, multiplexer and synchronizer counters
// to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/ledgerflow/internal/correlate"
	"github.com/roach88/ledgerflow/internal/engine"
	"github.com/roach88/ledgerflow/internal/ledger"
	"github.com/roach88/ledgerflow/internal/reactive"
	"github.com/roach88/ledgerflow/internal/submux"
)

// Collector implements the metrics hooks of engine, submux and reactive.
type Collector struct {
	registry *prometheus.Registry

	// Executor
	txSubmitted     *prometheus.CounterVec
	txRejected      *prometheus.CounterVec
	txNotifications *prometheus.CounterVec
	txResolved      *prometheus.CounterVec
	txLatency       *prometheus.HistogramVec
	txInFlight      prometheus.Gauge

	// Multiplexer
	upstreams       *prometheus.GaugeVec
	upstreamOpens   *prometheus.CounterVec
	valuesDelivered *prometheus.CounterVec
	transportErrors *prometheus.CounterVec

	// Synchronizer
	evaluations    *prometheus.CounterVec
	firings        *prometheus.CounterVec
	staleWrites    *prometheus.CounterVec
	effectFailures *prometheus.CounterVec
}

var (
	_ engine.Metrics   = (*Collector)(nil)
	_ submux.Metrics   = (*Collector)(nil)
	_ reactive.Metrics = (*Collector)(nil)
)

// NewCollector creates a collector on its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "ledgerflow"
	}
	c := &Collector{registry: prometheus.NewRegistry()}

	c.txSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "tx", Name: "submitted_total",
		Help: "Transactions accepted by the ledger client",
	}, []string{"call"})
	c.txRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "tx", Name: "rejected_total",
		Help: "Transactions refused at submission",
	}, []string{"call"})
	c.txNotifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "tx", Name: "notifications_total",
		Help: "Lifecycle notifications processed",
	}, []string{"status"})
	c.txResolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "tx", Name: "resolved_total",
		Help: "Transactions that reached a terminal phase",
	}, []string{"call", "phase", "code"})
	c.txLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "tx", Name: "confirmation_seconds",
		Help:    "Time from submission to terminal phase",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 500ms to ~4m
	}, []string{"call", "phase"})
	c.txInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "tx", Name: "in_flight",
		Help: "Transactions submitted and not yet resolved",
	})

	c.upstreams = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "submux", Name: "upstreams",
		Help: "Live shared upstream subscriptions",
	}, []string{"kind"})
	c.upstreamOpens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "submux", Name: "upstream_opens_total",
		Help: "Upstream subscriptions opened",
	}, []string{"kind"})
	c.valuesDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "submux", Name: "values_delivered_total",
		Help: "Values delivered to subscribers",
	}, []string{"kind"})
	c.transportErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "submux", Name: "transport_errors_total",
		Help: "Upstreams lost to transport failure",
	}, []string{"kind"})

	c.evaluations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "reactive", Name: "evaluations_total",
		Help: "Trigger selections evaluated",
	}, []string{"trigger"})
	c.firings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "reactive", Name: "firings_total",
		Help: "Trigger effects started",
	}, []string{"trigger"})
	c.staleWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "reactive", Name: "stale_writes_total",
		Help: "Writes dropped because a newer generation fired",
	}, []string{"trigger"})
	c.effectFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "reactive", Name: "effect_failures_total",
		Help: "Effects that returned an error",
	}, []string{"trigger"})

	c.registry.MustRegister(
		c.txSubmitted, c.txRejected, c.txNotifications, c.txResolved, c.txLatency, c.txInFlight,
		c.upstreams, c.upstreamOpens, c.valuesDelivered, c.transportErrors,
		c.evaluations, c.firings, c.staleWrites, c.effectFailures,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) TxSubmitted(call string) {
	c.txSubmitted.WithLabelValues(call).Inc()
	c.txInFlight.Inc()
}

func (c *Collector) TxRejected(call string) {
	c.txRejected.WithLabelValues(call).Inc()
}

func (c *Collector) TxNotification(status ledger.Status) {
	c.txNotifications.WithLabelValues(string(status)).Inc()
}

func (c *Collector) TxResolved(call string, phase engine.Phase, code correlate.Code, latency time.Duration) {
	c.txResolved.WithLabelValues(call, string(phase), string(code)).Inc()
	c.txLatency.WithLabelValues(call, string(phase)).Observe(latency.Seconds())
	c.txInFlight.Dec()
}

func (c *Collector) UpstreamOpened(kind string) {
	c.upstreamOpens.WithLabelValues(kind).Inc()
	c.upstreams.WithLabelValues(kind).Inc()
}

func (c *Collector) UpstreamClosed(kind string) {
	c.upstreams.WithLabelValues(kind).Dec()
}

func (c *Collector) ValueDelivered(kind string) {
	c.valuesDelivered.WithLabelValues(kind).Inc()
}

// TransportFailed also drops the live gauge; a failed upstream is never
// reported as closed.
func (c *Collector) TransportFailed(kind string) {
	c.transportErrors.WithLabelValues(kind).Inc()
	c.upstreams.WithLabelValues(kind).Dec()
}

func (c *Collector) TriggerEvaluated(trigger string) {
	c.evaluations.WithLabelValues(trigger).Inc()
}

func (c *Collector) TriggerFired(trigger string) {
	c.firings.WithLabelValues(trigger).Inc()
}

func (c *Collector) StaleWrite(trigger string) {
	c.staleWrites.WithLabelValues(trigger).Inc()
}

func (c *Collector) EffectFailed(trigger string) {
	c.effectFailures.WithLabelValues(trigger).Inc()
}
