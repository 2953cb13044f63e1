package async

import "github.com/prometheus/client_golang/prometheus"

const (
	MetricBatchesCommitted = "batches_committed_total"
	MetricBatchesFailed    = "batches_failed_total"
	MetricItemsCommitted   = "records_committed_total"
	MetricItemsFailed      = "records_failed_total"
	MetricCommitDuration   = "batch_commit_duration_seconds"
	MetricResident         = "resident_records"
	MetricWorkers          = "committer_workers"
)

var batchesCommittedCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "dblpix",
		Name:      MetricBatchesCommitted,
		Help:      "Batches committed atomically.",
	},
)

var batchesFailedCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "dblpix",
		Name:      MetricBatchesFailed,
		Help:      "Batches whose commit failed; all their records are failed.",
	},
)

var itemsCommittedCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "dblpix",
		Name:      MetricItemsCommitted,
		Help:      "Records persisted by committed batches.",
	},
)

var itemsFailedCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "dblpix",
		Name:      MetricItemsFailed,
		Help:      "Records lost to failed batches.",
	},
)

var commitDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "dblpix",
		Name:      MetricCommitDuration,
		Help:      "Time a committer spent on one batch.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
	},
)

var residentGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "dblpix",
		Name:      MetricResident,
		Help:      "Records held by the pipeline and not yet reaped.",
	},
)

var workersGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "dblpix",
		Name:      MetricWorkers,
		Help:      "Running committer workers.",
	},
)

func init() {
	prometheus.MustRegister(batchesCommittedCounter)
	prometheus.MustRegister(batchesFailedCounter)
	prometheus.MustRegister(itemsCommittedCounter)
	prometheus.MustRegister(itemsFailedCounter)
	prometheus.MustRegister(commitDuration)
	prometheus.MustRegister(residentGauge)
	prometheus.MustRegister(workersGauge)
}
