// Package metrics reports per-stage batch outcomes to a Prometheus
// Pushgateway. This is a batch job, not a long-lived server, so the push
// model (as opposed to a scrape endpoint) fits — the same reasoning the
// teacher's dropped internal/metrics package used for its gauges, here
// wired to run-record batch counts instead of alert counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// BatchRecorder pushes one summary per processed batch: attempted,
// succeeded, failed run counts for a named stage.
type BatchRecorder struct {
	pushgatewayURL string
	jobName        string

	attempted prometheus.Gauge
	succeeded prometheus.Gauge
	failed    prometheus.Gauge
	registry  *prometheus.Registry
}

// NewBatchRecorder builds a recorder targeting pushgatewayURL. An empty
// URL disables pushing entirely — Push becomes a no-op — so callers don't
// need to special-case "metrics not configured".
func NewBatchRecorder(pushgatewayURL, jobName string) *BatchRecorder {
	registry := prometheus.NewRegistry()
	r := &BatchRecorder{
		pushgatewayURL: pushgatewayURL,
		jobName:        jobName,
		attempted:      prometheus.NewGauge(prometheus.GaugeOpts{Name: "archiver_batch_attempted_runs"}),
		succeeded:      prometheus.NewGauge(prometheus.GaugeOpts{Name: "archiver_batch_succeeded_runs"}),
		failed:         prometheus.NewGauge(prometheus.GaugeOpts{Name: "archiver_batch_failed_runs"}),
		registry:       registry,
	}
	registry.MustRegister(r.attempted, r.succeeded, r.failed)
	return r
}

// Push records the batch outcome and pushes it, grouped by stage name.
// Push failures are intentionally not fatal — metrics delivery sits
// alongside reporting in spec §7's non-retryable, swallowed-and-logged
// error kind.
func (r *BatchRecorder) Push(stage string, attempted, succeeded, failed int) error {
	if r.pushgatewayURL == "" {
		return nil
	}
	r.attempted.Set(float64(attempted))
	r.succeeded.Set(float64(succeeded))
	r.failed.Set(float64(failed))

	return push.New(r.pushgatewayURL, r.jobName).
		Grouping("stage", stage).
		Gatherer(r.registry).
		Push()
}
