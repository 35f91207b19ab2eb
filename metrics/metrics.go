package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FixesAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zholda_location_fixes_accepted_total",
		Help: "Position fixes accepted by the tracker, by source",
	}, []string{"source"})

	FixesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zholda_location_fixes_rejected_total",
		Help: "Position fixes discarded by the tracker, by source",
	}, []string{"source"})

	FixErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zholda_location_fix_errors_total",
		Help: "Failed fix acquisitions, by source",
	}, []string{"source"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zholda_tracking_sessions_active",
		Help: "Currently connected tracking sessions",
	})

	RouteResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zholda_route_results_total",
		Help: "Route computations, by outcome (routed, straight)",
	}, []string{"outcome"})

	GeocodeFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zholda_geocode_fallbacks_total",
		Help: "Geocoding lookups that fell back to raw coordinates",
	})

	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zholda_requests_submitted_total",
		Help: "Marketplace requests stored, by role",
	}, []string{"role"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zholda_http_request_duration_seconds",
		Help:    "Time spent serving API requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)
