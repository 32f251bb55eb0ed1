package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// VaultMetrics records the outcome of vault triggers served over RPC.
type VaultMetrics struct {
	triggers *prometheus.CounterVec
	bounces  *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	supply   prometheus.Gauge
}

var (
	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// Vault returns the lazily-initialised metrics registry used to record vault
// trigger activity.
func Vault() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pegvault",
				Subsystem: "vault",
				Name:      "triggers_total",
				Help:      "Total vault triggers segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			bounces: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pegvault",
				Subsystem: "vault",
				Name:      "bounces_total",
				Help:      "Total bounced vault triggers segmented by operation and reason.",
			}, []string{"op", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "pegvault",
				Subsystem: "vault",
				Name:      "trigger_duration_seconds",
				Help:      "Latency distribution for vault trigger handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			supply: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "pegvault",
				Subsystem: "vault",
				Name:      "circulating_supply",
				Help:      "Pegged tokens currently in circulation, in smallest units.",
			}),
		}
		prometheus.MustRegister(
			vaultRegistry.triggers,
			vaultRegistry.bounces,
			vaultRegistry.latency,
			vaultRegistry.supply,
		)
	})
	return vaultRegistry
}

// ObserveTrigger records one processed trigger. A bounce reason marks the
// trigger as bounced; an empty reason marks it successful.
func (m *VaultMetrics) ObserveTrigger(op, bounceReason string, duration time.Duration) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if bounceReason != "" {
		outcome = "bounce"
		m.bounces.WithLabelValues(op, bounceReason).Inc()
	}
	m.triggers.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// SetSupply updates the circulating supply gauge.
func (m *VaultMetrics) SetSupply(supply float64) {
	if m == nil {
		return
	}
	m.supply.Set(supply)
}

// OracleMetrics records price feed lookups performed by the vault.
type OracleMetrics struct {
	fetches *prometheus.CounterVec
}

// Oracle returns the lazily-initialised oracle metrics registry.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pegvault",
				Subsystem: "oracle",
				Name:      "fetches_total",
				Help:      "Total price feed lookups segmented by feed and outcome.",
			}, []string{"feed", "outcome"}),
		}
		prometheus.MustRegister(oracleRegistry.fetches)
	})
	return oracleRegistry
}

// ObserveFetch records one feed lookup.
func (m *OracleMetrics) ObserveFetch(feed string, err error) {
	if m == nil {
		return
	}
	if feed == "" {
		feed = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.fetches.WithLabelValues(feed, outcome).Inc()
}
