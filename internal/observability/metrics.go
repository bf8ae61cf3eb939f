// Package observability holds the process metrics exposed on /metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the orchestrator's counters and gauges. One instance per
// process, registered on a caller-supplied registry so tests can use
// their own.
type Metrics struct {
	JobsCreated      prometheus.Counter
	ChunksEnqueued   prometheus.Counter
	ChunksRequeued   prometheus.Counter
	StatusUpdates    prometheus.Counter
	PackagesIngested prometheus.Counter
	MapsIndexed      prometheus.Counter
	QueueReady       prometheus.Gauge
	QueueWatchers    prometheus.Gauge
}

// NewMetrics registers the metric set on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridsim_jobs_created_total",
			Help: "Jobs accepted by the orchestrator.",
		}),
		ChunksEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridsim_chunks_enqueued_total",
			Help: "Work items placed on the queue.",
		}),
		ChunksRequeued: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridsim_chunks_requeued_total",
			Help: "Stale pending chunks re-enqueued by the requeue sweep.",
		}),
		StatusUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridsim_status_updates_total",
			Help: "Status callbacks received from workers.",
		}),
		PackagesIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridsim_packages_ingested_total",
			Help: "Result archives accepted and unpacked.",
		}),
		MapsIndexed: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridsim_maps_indexed_total",
			Help: "Map rows inserted from manifest entries.",
		}),
		QueueReady: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gridsim_queue_ready",
			Help: "Ready items on the work queue at last poll.",
		}),
		QueueWatchers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gridsim_queue_watchers",
			Help: "Connections watching the work tube at last poll.",
		}),
	}
}
