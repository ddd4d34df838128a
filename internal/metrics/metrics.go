// Package metrics exposes Prometheus instrumentation for backend traffic.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Backend API metrics
var (
	// BackendRequests tracks outgoing backend calls, refresh calls included
	BackendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketctl_backend_requests_total",
			Help: "Total backend requests by method, route, and status code",
		},
		[]string{"method", "route", "status"},
	)

	// BackendDuration tracks backend call latency
	BackendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "ticketctl_backend_request_duration_ms",
			Help:                            "Backend request duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"method", "route"},
	)

	// BackendErrors tracks failed backend calls by error class
	BackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketctl_backend_errors_total",
			Help: "Total backend errors by route and error type",
		},
		[]string{"route", "error_type"},
	)
)

// Session metrics
var (
	// TokenRefreshes tracks refresh attempts by outcome (success, failed, no_refresh_token)
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketctl_token_refreshes_total",
			Help: "Total access token refresh attempts by outcome",
		},
		[]string{"outcome"},
	)

	// SessionExpirations tracks requests that stayed unauthorized after the refresh path
	SessionExpirations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketctl_session_expirations_total",
			Help: "Total requests left unauthorized after best-effort refresh, by reason",
		},
		[]string{"reason"},
	)
)
