package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	marketplaceMetricsOnce sync.Once
	marketplaceRegistry    *MarketplaceMetrics

	weiPerEther = new(big.Float).SetInt(big.NewInt(1_000_000_000_000_000_000))
)

// MarketplaceMetrics wraps collectors tracking orchestrated ledger operations.
type MarketplaceMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	value      *prometheus.CounterVec
	skipped    prometheus.Counter
}

// Marketplace returns the lazily-initialised registry bound to the default
// Prometheus registerer.
func Marketplace() *MarketplaceMetrics {
	marketplaceMetricsOnce.Do(func() {
		marketplaceRegistry = NewMarketplaceMetrics(prometheus.DefaultRegisterer)
	})
	return marketplaceRegistry
}

// NewMarketplaceMetrics builds and registers the collectors on reg.
func NewMarketplaceMetrics(reg prometheus.Registerer) *MarketplaceMetrics {
	m := &MarketplaceMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "estate",
			Subsystem: "marketplace",
			Name:      "operations_total",
			Help:      "Marketplace operations segmented by operation and outcome kind.",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "estate",
			Subsystem: "marketplace",
			Name:      "operation_duration_seconds",
			Help:      "End-to-end latency of marketplace operations including ledger round-trips.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		value: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "estate",
			Subsystem: "marketplace",
			Name:      "submitted_value_ether_total",
			Help:      "Native currency attached to accepted transact calls, in ether.",
		}, []string{"operation"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "estate",
			Subsystem: "marketplace",
			Name:      "purchases_skipped_total",
			Help:      "Purchases not submitted because the buyer balance was below the ad price.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.latency, m.value, m.skipped)
	}
	return m
}

// Observe records the outcome of an operation. Outcome should be a stable
// kind label such as "success" or "rpc_failure".
func (m *MarketplaceMetrics) Observe(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	operation = label(operation)
	m.operations.WithLabelValues(operation, label(outcome)).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordValue adds the wei attached to an accepted transaction.
func (m *MarketplaceMetrics) RecordValue(operation string, wei *big.Int) {
	if m == nil || wei == nil || wei.Sign() <= 0 {
		return
	}
	m.value.WithLabelValues(label(operation)).Add(weiToEtherFloat(wei))
}

// RecordSkippedPurchase counts a purchase short-circuited by the balance
// pre-check.
func (m *MarketplaceMetrics) RecordSkippedPurchase() {
	if m == nil {
		return
	}
	m.skipped.Inc()
}

func label(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func weiToEtherFloat(wei *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerEther).Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}
