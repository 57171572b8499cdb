package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrorsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_errors_total",
			Help: "Total number of logged errors by type.",
		},
		[]string{"type"},
	)
	SourceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_source_errors_total",
			Help: "Total number of logged errors attributed to a source.",
		},
		[]string{"source"},
	)
	RunsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_runs_total",
			Help: "Total number of finished crawl runs.",
		},
		[]string{"source", "result"},
	)
	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_run_duration_seconds",
			Help:    "Duration of each crawl run in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"source"},
	)
	PageFetchDuration = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "crawler_page_fetch_duration_seconds",
			Help:       "Duration of a single page fetch.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"source"},
	)
	DealsReconciled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_deals_reconciled_total",
			Help: "Total number of reconciled deals by outcome.",
		},
		[]string{"source", "outcome"},
	)
	TriggersDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_triggers_dropped_total",
			Help: "Scheduled triggers dropped because the job was still running.",
		},
		[]string{"job_id"},
	)
	DealsPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_deals_purged_total",
			Help: "Deals removed by the retention cleaner.",
		},
	)
	ProgressEventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_progress_events_dropped_total",
			Help: "Progress events dropped for slow subscribers.",
		},
	)
)

var registerOnce sync.Once

// Register adds the collectors to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ErrorsCounter)
		prometheus.MustRegister(SourceErrors)
		prometheus.MustRegister(RunsCounter)
		prometheus.MustRegister(RunDuration)
		prometheus.MustRegister(PageFetchDuration)
		prometheus.MustRegister(DealsReconciled)
		prometheus.MustRegister(TriggersDropped)
		prometheus.MustRegister(DealsPurged)
		prometheus.MustRegister(ProgressEventsDropped)
	})
}
