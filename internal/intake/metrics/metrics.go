package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the intake pipeline: watcher queue and per-file outcomes.
type Metrics struct {
	FilesProcessed   prometheus.Counter
	FilesDuplicated  prometheus.Counter
	FilesQuarantined prometheus.Counter
	ProcessRetries   prometheus.Counter
	QueueDepth       prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		FilesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notaria_intake_files_processed_total",
			Help: "Invoice files processed into documents",
		}),
		FilesDuplicated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notaria_intake_files_duplicated_total",
			Help: "Invoice files recognized as already-ingested protocols",
		}),
		FilesQuarantined: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notaria_intake_files_quarantined_total",
			Help: "Invoice files moved to the error tree",
		}),
		ProcessRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notaria_intake_process_retries_total",
			Help: "Processing attempts retried after a failure",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "notaria_intake_queue_depth",
			Help: "Files admitted to the queue and not yet finished",
		}),
	}
}
