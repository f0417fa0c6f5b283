package breakpoint

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the Prometheus collectors for the breakpoint subsystem.
// It carries its own registry so the engine can mount /metrics without
// colliding with other collectors in the process.
type Metrics struct {
	registry *prometheus.Registry

	AssignmentsTotal  *prometheus.CounterVec
	TriggersTotal     *prometheus.CounterVec
	FaultsReported    prometheus.Counter
	DiagnosticsTotal  prometheus.Counter
	ActiveBreakpoints prometheus.Gauge
}

// NewMetrics creates the collectors under the "dataflow" namespace.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		AssignmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dataflow",
			Subsystem: "breakpoint",
			Name:      "assignments_total",
			Help:      "Total breakpoint assignment attempts across workers",
		}, []string{"kind", "status"}),
		TriggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dataflow",
			Subsystem: "breakpoint",
			Name:      "triggers_total",
			Help:      "Total trigger notices accepted by the coordinator",
		}, []string{"kind"}),
		FaultsReported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dataflow",
			Subsystem: "breakpoint",
			Name:      "faults_reported_total",
			Help:      "Total fault entries drained to the controller",
		}),
		DiagnosticsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dataflow",
			Subsystem: "breakpoint",
			Name:      "diagnostics_total",
			Help:      "Total predicate evaluation failures reported by workers",
		}),
		ActiveBreakpoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dataflow",
			Subsystem: "breakpoint",
			Name:      "active_breakpoints",
			Help:      "Breakpoints currently tracked by the coordinator",
		}),
	}

	reg.MustRegister(m.AssignmentsTotal)
	reg.MustRegister(m.TriggersTotal)
	reg.MustRegister(m.FaultsReported)
	reg.MustRegister(m.DiagnosticsTotal)
	reg.MustRegister(m.ActiveBreakpoints)
	return m
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The coordinator works with or without metrics; these nil-safe helpers
// keep its call sites unconditional.

func (m *Metrics) incAssignment(kind Kind, status string) {
	if m == nil {
		return
	}
	m.AssignmentsTotal.WithLabelValues(string(kind), status).Inc()
}

func (m *Metrics) incTrigger(kind Kind) {
	if m == nil {
		return
	}
	m.TriggersTotal.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) addFaults(n int) {
	if m == nil {
		return
	}
	m.FaultsReported.Add(float64(n))
}

func (m *Metrics) incDiagnostic() {
	if m == nil {
		return
	}
	m.DiagnosticsTotal.Inc()
}

func (m *Metrics) setActive(n int) {
	if m == nil {
		return
	}
	m.ActiveBreakpoints.Set(float64(n))
}
