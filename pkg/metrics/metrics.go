package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AutoNATv2 client metrics
	AutoNATv2DialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "natcore_autonatv2_dials_total",
			Help: "Total number of AutoNATv2 client reachability checks by verdict",
		},
		[]string{"verdict"},
	)

	AutoNATv2DialDataBytesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "natcore_autonatv2_dial_data_bytes_sent_total",
			Help: "Total bytes of dial-data streamed to AutoNATv2 servers",
		},
	)

	// AutoNATv2 server metrics
	AutoNATv2RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "natcore_autonatv2_requests_total",
			Help: "Total number of AutoNATv2 dial-request messages served, by outcome",
		},
		[]string{"status"},
	)

	AutoNATv2RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "natcore_autonatv2_rate_limited_total",
			Help: "Total number of AutoNATv2 requests rejected by the rate limiter, by reason",
		},
		[]string{"reason"},
	)

	AutoNATv2DialBackDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "natcore_autonatv2_dial_back_duration_seconds",
			Help:    "Time from receiving a dial-request to completing the dial-back attempt",
			Buckets: prometheus.DefBuckets,
		},
	)

	// DCUtR metrics
	DCUtRAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "natcore_dcutr_attempts_total",
			Help: "Total number of DCUtR hole-punch attempts, by role",
		},
		[]string{"role"},
	)

	DCUtRSuccessTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "natcore_dcutr_success_total",
			Help: "Total number of DCUtR hole-punch attempts that established a direct connection",
		},
		[]string{"role"},
	)

	DCUtRRTTSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "natcore_dcutr_rtt_seconds",
			Help:    "Measured round-trip time of the DCUtR CONNECT/CONNECT exchange",
			Buckets: prometheus.DefBuckets,
		},
	)

	// NAT behavior discovery metrics
	NATBehaviorChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "natcore_nat_behavior_changes_total",
			Help: "Total number of observed NAT behavior changes, by field",
		},
		[]string{"field"},
	)

	NATBehaviorCurrent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "natcore_nat_behavior_current",
			Help: "Current NAT mapping/filtering classification (1 = active value for that label set)",
		},
		[]string{"mapping", "filtering"},
	)

	// Traversal coordinator metrics
	TraversalStrategyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "natcore_traversal_strategy_total",
			Help: "Total number of dial-by-peer-id operations, by chosen strategy",
		},
		[]string{"strategy"},
	)

	ObservedAddressesActivatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "natcore_observed_addresses_activated_total",
			Help: "Total number of external addresses that crossed the activation threshold",
		},
	)

	ObservationQueueDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "natcore_observation_queue_dropped_total",
			Help: "Total number of address observations dropped because the aggregator's queue was full",
		},
	)

	// Multistream metrics
	MultistreamNegotiationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "natcore_multistream_negotiations_total",
			Help: "Total number of multistream-select negotiations, by outcome",
		},
		[]string{"outcome"},
	)

	MultistreamNegotiationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "natcore_multistream_negotiation_duration_seconds",
			Help:    "Time to complete a multistream-select negotiation",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(AutoNATv2DialsTotal)
	prometheus.MustRegister(AutoNATv2DialDataBytesSent)
	prometheus.MustRegister(AutoNATv2RequestsTotal)
	prometheus.MustRegister(AutoNATv2RateLimitedTotal)
	prometheus.MustRegister(AutoNATv2DialBackDuration)
	prometheus.MustRegister(DCUtRAttemptsTotal)
	prometheus.MustRegister(DCUtRSuccessTotal)
	prometheus.MustRegister(DCUtRRTTSeconds)
	prometheus.MustRegister(NATBehaviorChangesTotal)
	prometheus.MustRegister(NATBehaviorCurrent)
	prometheus.MustRegister(TraversalStrategyTotal)
	prometheus.MustRegister(ObservedAddressesActivatedTotal)
	prometheus.MustRegister(ObservationQueueDroppedTotal)
	prometheus.MustRegister(MultistreamNegotiationsTotal)
	prometheus.MustRegister(MultistreamNegotiationDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
