package extract

import (
	"github.com/0xmhha/evm-block-extractor/pkg/rpc"
	"github.com/0xmhha/evm-block-extractor/pkg/storage"
	"github.com/0xmhha/evm-block-extractor/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of an Extractor
type Metrics struct {
	// Gauges
	LatestBlock prometheus.Gauge
	TargetBlock prometheus.Gauge

	// Counters
	BlocksCollected   prometheus.Counter
	ReceiptsCollected prometheus.Counter
	Batches           *prometheus.CounterVec
	Retries           *prometheus.CounterVec

	// Histograms
	BatchDuration prometheus.Histogram
}

// NewMetrics creates the extractor metrics and registers them on reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "evm_extractor"
	}
	const subsystem = "extractor"
	factory := promauto.With(reg)

	return &Metrics{
		LatestBlock: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "latest_block",
			Help:      "Highest block persisted by the extractor",
		}),
		TargetBlock: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "target_block",
			Help:      "Chain height the current run is collecting towards",
		}),
		BlocksCollected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "blocks_collected_total",
			Help:      "Total number of blocks persisted",
		}),
		ReceiptsCollected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "receipts_collected_total",
			Help:      "Total number of receipts persisted",
		}),
		Batches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batches_total",
			Help:      "Total number of batches by outcome",
		}, []string{"result"}),
		Retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retries_total",
			Help:      "Total number of retried batch attempts by error class",
		}, []string{"reason"}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batch_duration_seconds",
			Help:      "Time to fetch and persist one batch, retries included",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
	}
}

// errorClass labels a retry reason
func errorClass(err error) string {
	switch {
	case IsGapError(err):
		return "gap"
	case rpc.IsTransportError(err):
		return "transport"
	case storage.IsStorageError(err):
		return "storage"
	case types.IsCodecError(err):
		return "codec"
	default:
		return "other"
	}
}
