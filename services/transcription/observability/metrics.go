package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for uploads, pipeline runs and live sessions.
type Metrics struct {
	// Ingest
	UploadsTotal        *prometheus.CounterVec
	UploadsRejected     *prometheus.CounterVec
	UploadBytes         *prometheus.HistogramVec
	StaleUploadsDeleted prometheus.Counter

	// Pipeline
	StageTransitions *prometheus.CounterVec
	StageSeconds     *prometheus.HistogramVec
	RunsFinished     *prometheus.CounterVec
	RunQueueDepth    prometheus.Gauge
	TasksCreated     prometheus.Counter
	TaskFailures     prometheus.Counter
	CalendarEvents   *prometheus.CounterVec

	// Live
	LiveSessions      prometheus.Gauge
	LiveSessionsTotal *prometheus.CounterVec
	LiveChunks        *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		UploadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workmate_uploads_total",
				Help: "Accepted audio uploads",
			},
			[]string{"tier", "format"},
		),
		UploadsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workmate_uploads_rejected_total",
				Help: "Rejected audio uploads by reason",
			},
			[]string{"tier", "reason"},
		),
		UploadBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workmate_upload_bytes",
				Help:    "Size of accepted uploads",
				Buckets: prometheus.ExponentialBuckets(1<<20, 2, 10),
			},
			[]string{"tier"},
		),
		StaleUploadsDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "workmate_stale_uploads_deleted_total",
				Help: "Orphaned upload directories removed by the sweeper",
			},
		),

		StageTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workmate_pipeline_transitions_total",
				Help: "Persisted meeting status transitions",
			},
			[]string{"status", "tier"},
		),
		StageSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workmate_pipeline_stage_seconds",
				Help:    "Time spent in provider calls per stage",
				Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"stage", "tier"},
		),
		RunsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workmate_pipeline_runs_total",
				Help: "Pipeline runs by outcome",
			},
			[]string{"outcome", "tier"},
		),
		RunQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "workmate_pipeline_queue_depth",
				Help: "Runs waiting for a worker",
			},
		),
		TasksCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "workmate_tasks_created_total",
				Help: "Tasks created from action items",
			},
		),
		TaskFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "workmate_task_failures_total",
				Help: "Task batches that failed to persist",
			},
		),
		CalendarEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workmate_calendar_events_total",
				Help: "Calendar events dispatched by result",
			},
			[]string{"result"},
		),

		LiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "workmate_live_sessions",
				Help: "Live sessions currently active",
			},
		),
		LiveSessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workmate_live_sessions_total",
				Help: "Live sessions by final state",
			},
			[]string{"state"},
		),
		LiveChunks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workmate_live_chunks_total",
				Help: "Live audio chunks by result",
			},
			[]string{"result"},
		),
	}
}

// NewNopMetrics registers on a throwaway registry. Used by tests and tools.
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
