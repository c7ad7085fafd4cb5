package plugin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts propagation activity.
type Metrics struct {
	// CarrierWrites counts contexts attached to pending operations, by family.
	CarrierWrites *prometheus.CounterVec
	// PropagationNoop counts boundaries crossed with no active context, by family.
	PropagationNoop *prometheus.CounterVec
	// Activations counts contexts activated around listener notification.
	Activations prometheus.Counter
	// HookInstallFailures counts join points missing from the catalog.
	HookInstallFailures prometheus.Counter
}

// NewMetrics registers the plugin metrics with reg. A nil reg uses a private
// registry, so several plugins can coexist in one process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	f := promauto.With(reg)

	return &Metrics{
		CarrierWrites: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "asynctrace_carrier_writes_total",
				Help: "Trace contexts attached to pending operations",
			},
			[]string{"family"},
		),
		PropagationNoop: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "asynctrace_propagation_noop_total",
				Help: "Boundaries crossed without an active trace context",
			},
			[]string{"family"},
		),
		Activations: f.NewCounter(
			prometheus.CounterOpts{
				Name: "asynctrace_context_activations_total",
				Help: "Carried contexts activated around listener notification",
			},
		),
		HookInstallFailures: f.NewCounter(
			prometheus.CounterOpts{
				Name: "asynctrace_hook_install_failures_total",
				Help: "Join points the instrumentation catalog did not declare",
			},
		),
	}
}
