package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by method (otp|password) and result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otpauth_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"method", "result"},
	)

	// OTPIssued counts codes generated per purpose and channel.
	OTPIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otpauth_otp_issued_total",
			Help: "Total number of one-time codes issued",
		},
		[]string{"purpose", "channel"},
	)

	// OTPVerifications counts verification attempts by purpose and result (valid|invalid).
	OTPVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otpauth_otp_verifications_total",
			Help: "Total number of one-time code verifications",
		},
		[]string{"purpose", "result"},
	)

	// OTPDeliveries counts notification gateway outcomes by channel and result (sent|failed).
	OTPDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otpauth_otp_deliveries_total",
			Help: "Total number of one-time code delivery attempts",
		},
		[]string{"channel", "result"},
	)

	// ActiveSessions tracks sessions created minus sessions removed since start.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "otpauth_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// CleanupRemoved counts rows purged by the maintenance job per table.
	CleanupRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otpauth_cleanup_removed_total",
			Help: "Total number of expired rows removed by maintenance",
		},
		[]string{"table"},
	)

	// APILatency measures HTTP request latencies per route group (otp, auth,
	// health, metrics) and route template.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "otpauth_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"group", "method", "route", "status"},
	)
)
