package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "parish_rides", Name: "requests_created_total", Help: "Total ride requests created"})
	ClaimsTotal     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "parish_rides", Name: "claims_total", Help: "Total successful request claims"})
	ClaimConflicts  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "parish_rides", Name: "claim_conflicts_total", Help: "Total claims lost to a concurrent winner"})
	RidesCompleted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "parish_rides", Name: "rides_completed_total", Help: "Total rides reaching completed"})
	RidesCancelled  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "parish_rides", Name: "rides_cancelled_total", Help: "Total rides reaching cancelled"})
	IntentsCreated  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "parish_rides", Name: "donation_intents_created_total", Help: "Total donation intents created"})
	AutoPrompts     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "parish_rides", Name: "donation_auto_prompts_total", Help: "Total auto-donation prompts fired"})
	ReviewsTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "parish_rides", Name: "reviews_total", Help: "Total reviews submitted"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "parish_rides", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "parish_rides",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
