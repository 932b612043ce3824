// Package metrics exposes the node's Prometheus instrumentation: block
// height, transaction outcomes, and commit latency. Grounded on the
// pack's metrics.go (manual prometheus.New*/MustRegister/promhttp.Handler
// pattern, rather than promauto's implicit global registry).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BlockHeight is the height of the most recently started block.
	BlockHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "penumbra_block_height",
		Help: "Height of the most recently started block.",
	})

	// TxsDelivered counts deliver_tx outcomes by result ("accepted",
	// "rejected", "malformed").
	TxsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "penumbra_txs_delivered_total",
		Help: "Transactions processed by FinalizeBlock, by outcome.",
	}, []string{"result"})

	// RejectsByKind counts component.Error rejections by their Kind
	// ("stateless", "stateful", "execute").
	RejectsByKind = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "penumbra_tx_rejects_total",
		Help: "Rejected transactions, by rejection kind.",
	}, []string{"kind"})

	// CommitDuration observes wall-clock time spent in Storage.Commit.
	CommitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "penumbra_commit_duration_seconds",
		Help:    "Time spent committing a block's writes to the backing store.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(BlockHeight)
	prometheus.MustRegister(TxsDelivered)
	prometheus.MustRegister(RejectsByKind)
	prometheus.MustRegister(CommitDuration)
}

// Handler returns the HTTP handler a node binary mounts to serve
// /metrics for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
