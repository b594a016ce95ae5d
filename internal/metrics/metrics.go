package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's instrumentation. All collectors register on
// the registry passed to New, so tests can use isolated registries.
type Metrics struct {
	RecordsNormalized  *prometheus.CounterVec
	RecordsCleaned     prometheus.Counter
	RecordsQuarantined *prometheus.CounterVec
	RecordsMerged      prometheus.Counter
	KpisComputed       prometheus.Counter
	RunsTotal          *prometheus.CounterVec
	StageRetries       *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RecordsNormalized: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_records_normalized_total",
			Help: "Raw rows normalized into the unified schema, by source.",
		}, []string{"source"}),
		RecordsCleaned: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_records_cleaned_total",
			Help: "Records that passed validation and dedup.",
		}),
		RecordsQuarantined: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_records_quarantined_total",
			Help: "Records routed to the quarantine area, by stage.",
		}, []string{"stage"}),
		RecordsMerged: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_records_merged_total",
			Help: "Records in the cross-source merged dataset.",
		}),
		KpisComputed: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_kpis_computed_total",
			Help: "KPI records computed across all windows.",
		}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Completed pipeline runs, by terminal state.",
		}, []string{"state"}),
		StageRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_stage_retries_total",
			Help: "Stage attempt retries, by stage.",
		}, []string{"stage"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Wall-clock duration of each stage attempt.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
	}
}

// NewDefault registers on the global prometheus registry.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}
