package model

import "time"

// KpiName identifies one of the computed aggregate indicators.
type KpiName string

const (
	KpiEngagementRate   KpiName = "engagement_rate"
	KpiCompletionRate   KpiName = "completion_rate"
	KpiAvgTimeSpent     KpiName = "avg_time_spent"
	KpiRetentionRate    KpiName = "retention_rate"
	KpiPopularityScore  KpiName = "popularity_score"
	KpiTemporalActivity KpiName = "temporal_activity_bucket"
)

// WindowAllTime is the sentinel window start/end for the all-time granularity.
const WindowAllTime = "all-time"

// KpiRecord is one aggregate value for a (course, window, kpi) cell.
// Value is nil when the indicator is undefined for the window
// (zero denominator, or retention on the first observed window).
type KpiRecord struct {
	CourseID    string    `json:"course_id"`
	WindowStart string    `json:"window_start"` // YYYY-MM-DD or "all-time"
	WindowEnd   string    `json:"window_end"`
	KpiName     KpiName   `json:"kpi_name"`
	// Bucket qualifies temporal_activity_bucket records, e.g. "hour_14" or
	// "weekday_2"; empty for all other KPIs.
	Bucket     string   `json:"bucket,omitempty"`
	Value      *float64 `json:"value"`
	SampleSize int      `json:"sample_size"`
	ComputedAt time.Time `json:"computed_at"`
}

// Key returns the uniqueness key within the curated zone.
func (k KpiRecord) Key() string {
	key := k.CourseID + "|" + k.WindowStart + "|" + k.WindowEnd + "|" + string(k.KpiName)
	if k.Bucket != "" {
		key += "|" + k.Bucket
	}
	return key
}
