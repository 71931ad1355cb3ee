package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_events_emitted_total",
		Help: "Domain events accepted by the event bus.",
	}, []string{"trigger"})

	Firings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_firings_total",
		Help: "Rule firing attempts by outcome.",
	}, []string{"trigger", "outcome"})

	FiringDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "automation_firing_duration_seconds",
		Help:    "Time spent inside one firing transaction.",
		Buckets: prometheus.DefBuckets,
	}, []string{"trigger"})

	LedgerChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_ledger_changes_total",
		Help: "Credit ledger change attempts by type and result.",
	}, []string{"type", "result"})

	CronRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_cron_runs_total",
		Help: "Scheduled rule runs by result.",
	}, []string{"result"})

	CronJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "automation_cron_jobs",
		Help: "CRON rules currently registered with the scheduler.",
	})

	DispatchQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "automation_dispatch_queue_depth",
		Help: "Events waiting for a dispatcher worker.",
	})

	ArchiveRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_ledger_archive_runs_total",
		Help: "Ledger archive uploads by result.",
	}, []string{"result"})
)
