// Package metrics exposes Prometheus counters for the capture, send and
// traceroute paths. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rs_recon"

// Metrics holds all collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	framesRead    prometheus.Counter
	framesDropped prometheus.Counter
	readErrors    prometheus.Counter
	kernelDrops   prometheus.Gauge
	outcomes      *prometheus.CounterVec
	probesSent    *prometheus.CounterVec
	sendErrors    prometheus.Counter
	hops          prometheus.Counter
	scanDuration  *prometheus.HistogramVec
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.framesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "capture", Name: "frames_total",
		Help: "Frames read from the capture source.",
	})
	m.framesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "capture", Name: "frames_unparsed_total",
		Help: "Frames dropped because they did not decode to IP + transport.",
	})
	m.readErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "capture", Name: "read_errors_total",
		Help: "Transient capture read failures.",
	})
	m.kernelDrops = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "capture", Name: "kernel_drops",
		Help: "Frames the capture handle reported dropped before userspace saw them.",
	})
	m.outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "classify", Name: "outcomes_total",
		Help: "Classified observations recorded in the result set, by kind.",
	}, []string{"kind"})
	m.probesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "send", Name: "probes_total",
		Help: "Probe frames written, by scan type.",
	}, []string{"scan_type"})
	m.sendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "send", Name: "write_errors_total",
		Help: "Probe frames the writer rejected.",
	})
	m.hops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "traceroute", Name: "hops_total",
		Help: "Traceroute hop results produced.",
	})
	m.scanDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "scan", Name: "duration_seconds",
		Help:    "Wall-clock duration of scan invocations.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 300},
	}, []string{"scan_type", "status"})

	m.registry.MustRegister(
		m.framesRead, m.framesDropped, m.readErrors, m.kernelDrops, m.outcomes,
		m.probesSent, m.sendErrors, m.hops, m.scanDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FrameRead() {
	if m != nil {
		m.framesRead.Inc()
	}
}

func (m *Metrics) FrameDropped() {
	if m != nil {
		m.framesDropped.Inc()
	}
}

func (m *Metrics) ReadError() {
	if m != nil {
		m.readErrors.Inc()
	}
}

// KernelDrops records the drop count reported by the capture handle.
func (m *Metrics) KernelDrops(n uint64) {
	if m != nil {
		m.kernelDrops.Set(float64(n))
	}
}

// Outcome counts one recorded observation of the given kind.
func (m *Metrics) Outcome(kind string) {
	if m != nil {
		m.outcomes.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ProbeSent(scanType string) {
	if m != nil {
		m.probesSent.WithLabelValues(scanType).Inc()
	}
}

func (m *Metrics) SendError() {
	if m != nil {
		m.sendErrors.Inc()
	}
}

func (m *Metrics) Hop() {
	if m != nil {
		m.hops.Inc()
	}
}

// ScanFinished observes the duration of one scan invocation.
func (m *Metrics) ScanFinished(scanType, status string, seconds float64) {
	if m != nil {
		m.scanDuration.WithLabelValues(scanType, status).Observe(seconds)
	}
}
