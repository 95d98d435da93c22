package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// --- Engine operations ---
	EngineOps         *prometheus.CounterVec
	EngineOpErrors    *prometheus.CounterVec
	EngineOpDuration  *prometheus.HistogramVec
	OpenPositions     prometheus.Gauge
	OpenInterestLong  prometheus.Gauge
	OpenInterestShort prometheus.Gauge

	// --- Liquidation ---
	LiquidationsTotal prometheus.Counter
	KeeperRewardsPaid prometheus.Counter
	BadDebtTotal      prometheus.Counter

	// --- Funding ---
	FundingApplied prometheus.Counter
	FundingRateBps prometheus.Gauge

	// --- Pool ---
	PoolAUM         prometheus.Gauge
	PoolSharePrice  prometheus.Gauge
	PoolDeposits    prometheus.Counter
	PoolWithdrawals prometheus.Counter

	// --- Channel & backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	PublishDrops       prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Engine operations
		EngineOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_engine_ops_total",
			Help: "Engine operations completed",
		}, []string{"op"}),

		EngineOpErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_engine_op_errors_total",
			Help: "Engine operations rejected",
		}, []string{"op", "reason"}),

		EngineOpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_engine_op_duration_seconds",
			Help:    "Time to execute one engine operation",
			Buckets: opBuckets,
		}, []string{"op"}),

		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perp_open_positions",
			Help: "Currently open positions",
		}),

		OpenInterestLong: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perp_open_interest_long",
			Help: "Total long notional size",
		}),

		OpenInterestShort: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perp_open_interest_short",
			Help: "Total short notional size",
		}),

		// Liquidation
		LiquidationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_liquidations_total",
			Help: "Positions liquidated",
		}),

		KeeperRewardsPaid: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_keeper_rewards_paid_total",
			Help: "Total keeper rewards paid out",
		}),

		BadDebtTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_bad_debt_total",
			Help: "Total bad debt absorbed by the pool",
		}),

		// Funding
		FundingApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_funding_applied_total",
			Help: "Funding rate applications",
		}),

		FundingRateBps: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perp_funding_rate_bps",
			Help: "Current hourly funding rate in basis points",
		}),

		// Pool
		PoolAUM: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perp_pool_aum",
			Help: "Pool assets under management",
		}),

		PoolSharePrice: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perp_pool_share_price",
			Help: "Current pool share price (fixed point)",
		}),

		PoolDeposits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_pool_deposits_total",
			Help: "LP deposits",
		}),

		PoolWithdrawals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_pool_withdrawals_total",
			Help: "LP withdrawals",
		}),

		// Channel & backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		// Persistence
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_persist_retry_total",
			Help: "Persistence retries",
		}),

		// HTTP API
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_http_requests_total",
			Help: "HTTP API requests",
		}, []string{"route", "status"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_http_request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"route"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
