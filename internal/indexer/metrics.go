package indexer

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the indexer's Prometheus collectors.
type Metrics struct {
	eventsHandled   *prometheus.CounterVec
	logsSkipped     *prometheus.CounterVec
	handlerFailures prometheus.Counter
	checkpoint      prometheus.Gauge
	resubscriptions prometheus.Counter
	backfillBatches prometheus.Counter
	retryReplays    *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them with reg. A nil reg
// keeps them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsHandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "node_indexer_events_total", Help: "Decoded events by kind and outcome"},
			[]string{"kind", "outcome"},
		),
		logsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "node_indexer_logs_skipped_total", Help: "Logs skipped before handling"},
			[]string{"reason"},
		),
		handlerFailures: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "node_indexer_handler_failures_total", Help: "Logs queued for retry after a failed write"},
		),
		checkpoint: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "node_indexer_checkpoint_block", Help: "Highest block written to the checkpoint"},
		),
		resubscriptions: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "node_indexer_resubscriptions_total", Help: "Log subscription reconnects"},
		),
		backfillBatches: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "node_indexer_backfill_batches_total", Help: "Completed backfill batches"},
		),
		retryReplays: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "node_indexer_retry_replays_total", Help: "Failed-log replays by result"},
			[]string{"result"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.eventsHandled,
			m.logsSkipped,
			m.handlerFailures,
			m.checkpoint,
			m.resubscriptions,
			m.backfillBatches,
			m.retryReplays,
		)
	}
	return m
}
