package monitor

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// FeedUpdates raw balance updates seen by feeds, by outcome.
	FeedUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_feed_updates_total",
			Help: "Balance updates received from the chain transport, by outcome (applied, suppressed, baseline).",
		},
		[]string{"outcome"},
	)
	FeedReconnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_feed_reconnect_attempts_total",
			Help: "Reconnection attempts made by balance feeds, by result.",
		},
		[]string{"result"},
	)
	FeedStatusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_feed_status_transitions_total",
			Help: "Connection status transitions of balance feeds, by target status.",
		},
		[]string{"status"},
	)

	// TransferSubmissions transfer submissions, by result kind.
	TransferSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_transfer_submissions_total",
			Help: "Transfer submissions, by result (ok or error kind).",
		},
		[]string{"result"},
	)
	TransferDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wallet_transfer_request_duration_seconds",
			Help:    "Time spent waiting for the transfer endpoint.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
	)

	BackendRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_backend_requests_total",
			Help: "Requests sent to the wallet backend, by path and status class.",
		},
		[]string{"path", "status"},
	)
)

// Register registers all wallet collectors with reg. Already registered
// collectors are skipped so that tests and the CLI can both call it.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		FeedUpdates,
		FeedReconnectAttempts,
		FeedStatusTransitions,
		TransferSubmissions,
		TransferDuration,
		BackendRequests,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}
