// Package metrics holds the Prometheus collectors for the propagation engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Deliveries counts observer refreshes by mode ("debounced", "immediate").
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cellflow_scheduler_deliveries_total",
		Help: "Observer refresh deliveries by mode",
	}, []string{"mode"})

	// DeliveryFaults counts refresh callbacks that returned an error or panicked.
	DeliveryFaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cellflow_scheduler_delivery_faults_total",
		Help: "Observer refresh callbacks that faulted",
	})

	// CoalescedRequests counts update requests merged into a pending window.
	CoalescedRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cellflow_scheduler_coalesced_requests_total",
		Help: "Update requests that restarted an already pending debounce window",
	})

	// DeliveryDuration observes how long refresh callbacks take.
	DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cellflow_scheduler_delivery_duration_seconds",
		Help:    "Observer refresh callback duration",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5},
	})

	// StatusChanges counts cells whose status changed, by new status.
	StatusChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cellflow_status_changes_total",
		Help: "Cell status changes by resulting status",
	}, []string{"status"})

	// CorrectedCells counts cells rewritten by the correction engine, by pass.
	CorrectedCells = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cellflow_correction_cells_total",
		Help: "Cells rewritten by correction rules",
	}, []string{"pass"})

	// CorrectionRuns counts correction runs by outcome.
	// Labels: "completed", "fixed_point", "cap_reached", "fault", "canceled".
	CorrectionRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cellflow_correction_runs_total",
		Help: "Correction runs by outcome",
	}, []string{"result"})

	// ValidationChunks counts committed validation chunks.
	ValidationChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cellflow_validation_chunks_total",
		Help: "Validation chunks committed",
	})
)
