package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learner-analytics-pipeline/internal/model"
)

func kpiEvent(learner, course string, event model.EventType, value float64, ts time.Time) model.LearnerActivityRecord {
	return model.LearnerActivityRecord{
		RecordID:  learner + "-" + course + "-" + ts.Format("150405"),
		Source:    model.SourceSimulated,
		LearnerID: learner,
		CourseID:  course,
		EventType: event,
		Value:     value,
		Timestamp: ts,
	}
}

func findKpi(t *testing.T, kpis []model.KpiRecord, course, window string, name model.KpiName) model.KpiRecord {
	t.Helper()
	for _, k := range kpis {
		if k.CourseID == course && k.WindowStart == window && k.KpiName == name && k.Bucket == "" {
			return k
		}
	}
	t.Fatalf("kpi %s for %s in window %s not found", name, course, window)
	return model.KpiRecord{}
}

func TestKpiEngineRates(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	records := []model.LearnerActivityRecord{
		// three starters, one completer, one engagement-only learner
		kpiEvent("a", "algebra", model.EventView, 1, day.Add(9*time.Hour)),
		kpiEvent("b", "algebra", model.EventView, 1, day.Add(10*time.Hour)),
		kpiEvent("c", "algebra", model.EventEngagementSignal, 600, day.Add(11*time.Hour)),
		kpiEvent("a", "algebra", model.EventCompletion, 1, day.Add(12*time.Hour)),
		// a scored learner with no activity events
		kpiEvent("d", "algebra", model.EventScore, 15, day.Add(13*time.Hour)),
	}

	engine := &KpiEngine{Now: func() time.Time { return day }}
	kpis, err := engine.Compute(records, "2026-03-02")
	require.NoError(t, err)

	engagement := findKpi(t, kpis, "algebra", "2026-03-02", model.KpiEngagementRate)
	require.NotNil(t, engagement.Value)
	assert.InDelta(t, 3.0/4.0, *engagement.Value, 1e-9)
	assert.Equal(t, 4, engagement.SampleSize)

	completion := findKpi(t, kpis, "algebra", "2026-03-02", model.KpiCompletionRate)
	require.NotNil(t, completion.Value)
	assert.InDelta(t, 1.0/3.0, *completion.Value, 1e-9)
	assert.Equal(t, 3, completion.SampleSize)

	avgTime := findKpi(t, kpis, "algebra", "2026-03-02", model.KpiAvgTimeSpent)
	assert.Nil(t, avgTime.Value) // engagement value lacks a time unit
}

func TestKpiEngineAvgTimeSpent(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	timed := kpiEvent("a", "algebra", model.EventEngagementSignal, 300, day.Add(9*time.Hour))
	timed.TimeUnit = true
	alsoTimed := kpiEvent("b", "algebra", model.EventEngagementSignal, 900, day.Add(10*time.Hour))
	alsoTimed.TimeUnit = true
	unitless := kpiEvent("c", "algebra", model.EventEngagementSignal, 77, day.Add(11*time.Hour))

	engine := &KpiEngine{Now: func() time.Time { return day }}
	kpis, err := engine.Compute([]model.LearnerActivityRecord{timed, alsoTimed, unitless}, "2026-03-02")
	require.NoError(t, err)

	avgTime := findKpi(t, kpis, "algebra", "2026-03-02", model.KpiAvgTimeSpent)
	require.NotNil(t, avgTime.Value)
	assert.InDelta(t, 600.0, *avgTime.Value, 1e-9)
	assert.Equal(t, 2, avgTime.SampleSize)
}

func TestKpiEngineZeroDenominatorIsNull(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	// scores only: no starters, so completion rate has a zero denominator
	records := []model.LearnerActivityRecord{
		kpiEvent("a", "algebra", model.EventScore, 12, day.Add(9*time.Hour)),
	}

	engine := &KpiEngine{Now: func() time.Time { return day }}
	kpis, err := engine.Compute(records, "2026-03-02")
	require.NoError(t, err)

	completion := findKpi(t, kpis, "algebra", "2026-03-02", model.KpiCompletionRate)
	assert.Nil(t, completion.Value)
	assert.Zero(t, completion.SampleSize)
}

func TestKpiEngineRetention(t *testing.T) {
	prev := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	records := []model.LearnerActivityRecord{
		// two learners active yesterday, one of them returns today
		kpiEvent("a", "algebra", model.EventView, 1, prev.Add(9*time.Hour)),
		kpiEvent("b", "algebra", model.EventView, 1, prev.Add(10*time.Hour)),
		kpiEvent("a", "algebra", model.EventView, 1, day.Add(9*time.Hour)),
	}

	engine := &KpiEngine{Now: func() time.Time { return day }}
	kpis, err := engine.Compute(records, "2026-03-02")
	require.NoError(t, err)

	retention := findKpi(t, kpis, "algebra", "2026-03-02", model.KpiRetentionRate)
	require.NotNil(t, retention.Value)
	assert.InDelta(t, 0.5, *retention.Value, 1e-9)
	assert.Equal(t, 2, retention.SampleSize)

	// the all-time granularity never defines retention
	allTime := findKpi(t, kpis, "algebra", model.WindowAllTime, model.KpiRetentionRate)
	assert.Nil(t, allTime.Value)
}

func TestKpiEngineRetentionNullForFirstWindow(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	records := []model.LearnerActivityRecord{
		kpiEvent("a", "algebra", model.EventView, 1, day.Add(9*time.Hour)),
	}

	engine := &KpiEngine{Now: func() time.Time { return day }}
	kpis, err := engine.Compute(records, "2026-03-02")
	require.NoError(t, err)

	retention := findKpi(t, kpis, "algebra", "2026-03-02", model.KpiRetentionRate)
	assert.Nil(t, retention.Value)
	assert.Zero(t, retention.SampleSize)
}

func TestKpiEnginePopularityNormalized(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	records := []model.LearnerActivityRecord{
		kpiEvent("a", "busy", model.EventView, 1, day.Add(9*time.Hour)),
		kpiEvent("b", "busy", model.EventView, 1, day.Add(10*time.Hour)),
		kpiEvent("c", "busy", model.EventEngagementSignal, 60, day.Add(11*time.Hour)),
		kpiEvent("d", "quiet", model.EventView, 1, day.Add(12*time.Hour)),
	}

	engine := &KpiEngine{Now: func() time.Time { return day }}
	kpis, err := engine.Compute(records, "2026-03-02")
	require.NoError(t, err)

	busy := findKpi(t, kpis, "busy", "2026-03-02", model.KpiPopularityScore)
	require.NotNil(t, busy.Value)
	assert.InDelta(t, 1.0, *busy.Value, 1e-9)

	quiet := findKpi(t, kpis, "quiet", "2026-03-02", model.KpiPopularityScore)
	require.NotNil(t, quiet.Value)
	assert.InDelta(t, 1.0/3.0, *quiet.Value, 1e-9)
}

func TestKpiEngineTemporalBuckets(t *testing.T) {
	// 2026-03-02 is a Monday
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	records := []model.LearnerActivityRecord{
		kpiEvent("a", "algebra", model.EventView, 1, day.Add(9*time.Hour)),
		kpiEvent("b", "algebra", model.EventView, 1, day.Add(9*time.Hour+30*time.Minute)),
		kpiEvent("c", "algebra", model.EventView, 1, day.Add(14*time.Hour)),
	}

	engine := &KpiEngine{Now: func() time.Time { return day }}
	kpis, err := engine.Compute(records, "2026-03-02")
	require.NoError(t, err)

	buckets := map[string]float64{}
	for _, k := range kpis {
		if k.KpiName == model.KpiTemporalActivity && k.WindowStart == "2026-03-02" {
			require.NotNil(t, k.Value)
			buckets[k.Bucket] = *k.Value
		}
	}

	assert.Equal(t, 2.0, buckets["hour_09"])
	assert.Equal(t, 1.0, buckets["hour_14"])
	assert.Equal(t, 3.0, buckets["weekday_1"])
}

func TestKpiEngineBadDate(t *testing.T) {
	engine := &KpiEngine{}
	_, err := engine.Compute(nil, "03/02/2026")
	assert.Error(t, err)
}
