package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sizing policy counters and gauges. One resolution pass runs per
// InitializeAll call, so these mostly move at startup.

var (
	ResolutionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "genheap",
		Subsystem: "policy",
		Name:      "resolutions_total",
		Help:      "Total sizing resolution passes",
	})

	CorrectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "genheap",
		Subsystem: "policy",
		Name:      "corrections_total",
		Help:      "Total ergonomic corrections applied to requested sizes",
	}, []string{"reason"})

	FatalErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "genheap",
		Subsystem: "policy",
		Name:      "fatal_errors_total",
		Help:      "Total resolution passes rejected as unsatisfiable",
	})

	ResolvedBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "genheap",
		Subsystem: "policy",
		Name:      "resolved_bytes",
		Help:      "Resolved generation sizes from the latest pass",
	}, []string{"generation", "bound"})
)
