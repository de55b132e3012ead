// Package observability exposes the Prometheus metrics recorded by the sync
// worker, the webhook ingestor and the token manager.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rowpledge"

var (
	syncRunsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "runs_total",
		Help:      "Number of completed batch sync runs.",
	})

	syncAccountsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "accounts_total",
		Help:      "Accounts processed by batch sync grouped by result.",
	}, []string{"result"})

	syncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "run_duration_seconds",
		Help:      "Wall time of a batch sync run.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	lastSyncGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completed batch sync.",
	})

	webhookCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Webhook events grouped by outcome.",
	}, []string{"outcome"})

	tokenRefreshCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "token",
		Name:      "refreshes_total",
		Help:      "Token refresh attempts grouped by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		syncRunsCounter,
		syncAccountsCounter,
		syncDuration,
		lastSyncGauge,
		webhookCounter,
		tokenRefreshCounter,
	)
}

// RecordSyncRun records a finished batch sync
func RecordSyncRun(synced, failed int, elapsed time.Duration) {
	syncRunsCounter.Inc()
	syncAccountsCounter.WithLabelValues("synced").Add(float64(synced))
	syncAccountsCounter.WithLabelValues("failed").Add(float64(failed))
	syncDuration.Observe(elapsed.Seconds())
	lastSyncGauge.Set(float64(time.Now().Unix()))
}

// RecordWebhook counts a webhook event by outcome
func RecordWebhook(outcome string) {
	webhookCounter.WithLabelValues(outcome).Inc()
}

// RecordTokenRefresh counts a refresh attempt
func RecordTokenRefresh(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	tokenRefreshCounter.WithLabelValues(result).Inc()
}
