// Package metrics holds the Prometheus collectors for the triage client.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	NotificationsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_notifications_ingested_total",
			Help: "Classified emails applied to the notification store, by dedup action",
		},
		[]string{"action"},
	)

	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_transitions_total",
			Help: "Notification lifecycle transitions, by event and outcome",
		},
		[]string{"event", "outcome"},
	)

	ClaimOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_claim_outcomes_total",
			Help: "Claim attempts against the shared store, by result",
		},
		[]string{"result"},
	)

	ClassificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_classification_failures_total",
			Help: "Emails whose classification failed, by reason",
		},
		[]string{"reason"},
	)

	ClassificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triage_classification_duration_seconds",
			Help:    "Duration of classification oracle calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		},
		[]string{"category"},
	)

	ActiveNotifications = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "triage_active_notifications",
			Help: "Active notifications in the local store, by status",
		},
		[]string{"status"},
	)
)

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
