// Package metrics exposes Prometheus collectors for the ledger client and the
// event reconciler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the collectors below.
const (
	OutcomeOK        = "ok"
	OutcomeReverted  = "reverted"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
	OutcomeOrphaned  = "orphaned"
	OutcomeRetried   = "retried"
)

var (
	// Registry holds every collector of the service. A private registry keeps
	// tests free of duplicate-registration panics.
	Registry = prometheus.NewRegistry()

	ledgerSubmissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_submissions_total",
		Help: "Ledger transactions by operation and outcome.",
	}, []string{"op", "outcome"})
	ledgerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_submission_duration_seconds",
		Help:    "Time from submission to confirmation of ledger transactions.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"op"})
	reconcilerEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_events_total",
		Help: "Ledger events handled by the reconciler by kind and outcome.",
	}, []string{"kind", "outcome"})
	reconcilerOrphans = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reconciler_orphaned_events",
		Help: "Ledger events currently waiting for repair.",
	})
	reconcilerCursor = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reconciler_cursor_block",
		Help: "Block number the reconciler resumes from after a restart.",
	})
	repairJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "repair_jobs_total",
		Help: "Orphan repair jobs by outcome.",
	}, []string{"outcome"})
	repairQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "repair_queue_jobs",
		Help: "Repair jobs in the Redis queue by list.",
	}, []string{"list"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ledgerSubmissions,
		ledgerDuration,
		reconcilerEvents,
		reconcilerOrphans,
		reconcilerCursor,
		repairJobs,
		repairQueueDepth,
	)
}

// ObserveLedgerSubmission records one mutating ledger call.
func ObserveLedgerSubmission(op, outcome string, took time.Duration) {
	ledgerSubmissions.WithLabelValues(op, outcome).Inc()
	ledgerDuration.WithLabelValues(op).Observe(took.Seconds())
}

// ObserveReconcilerEvent records the outcome of one handled ledger event.
func ObserveReconcilerEvent(kind, outcome string) {
	reconcilerEvents.WithLabelValues(kind, outcome).Inc()
}

func SetOrphanedEvents(n int64) {
	reconcilerOrphans.Set(float64(n))
}

func SetCursorBlock(block uint64) {
	reconcilerCursor.Set(float64(block))
}

func ObserveRepairJob(outcome string) {
	repairJobs.WithLabelValues(outcome).Inc()
}

// SetRepairQueueDepth records the length of the pending and processing lists.
func SetRepairQueueDepth(pending, processing int64) {
	repairQueueDepth.WithLabelValues("pending").Set(float64(pending))
	repairQueueDepth.WithLabelValues("processing").Set(float64(processing))
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
