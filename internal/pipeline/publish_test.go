package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learner-analytics-pipeline/internal/model"
	"learner-analytics-pipeline/internal/zones"
	"learner-analytics-pipeline/pkg/utils"
)

func sampleKpis(computedAt time.Time) []model.KpiRecord {
	rate := 0.75
	return []model.KpiRecord{
		{
			CourseID:    "algebra-101",
			WindowStart: "2026-03-02",
			WindowEnd:   "2026-03-02",
			KpiName:     model.KpiEngagementRate,
			Value:       &rate,
			SampleSize:  4,
			ComputedAt:  computedAt,
		},
		{
			CourseID:    "algebra-101",
			WindowStart: model.WindowAllTime,
			WindowEnd:   model.WindowAllTime,
			KpiName:     model.KpiRetentionRate,
			ComputedAt:  computedAt,
		},
	}
}

func TestPublisherRoundTrip(t *testing.T) {
	store, err := zones.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	publisher := &Publisher{Store: store}
	ctx := context.Background()

	kpis := sampleKpis(time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC))
	res, err := publisher.Run(ctx, "2026-03-02", "run-1", kpis)
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.Manifest.RunID)
	assert.Equal(t, []string{"2026-03-02", model.WindowAllTime}, res.Manifest.Windows)
	assert.Equal(t, 2, res.Manifest.RecordCount)

	manifest, got, err := publisher.ReadPublished(ctx, "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, "run-1", manifest.RunID)
	assert.Equal(t, kpis, got)
}

func TestPublisherPointerSwap(t *testing.T) {
	store, err := zones.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	publisher := &Publisher{Store: store}
	ctx := context.Background()

	kpis := sampleKpis(time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC))
	_, err = publisher.Run(ctx, "2026-03-02", "run-1", kpis)
	require.NoError(t, err)
	_, err = publisher.Run(ctx, "2026-03-02", "run-2", kpis)
	require.NoError(t, err)

	manifest, _, err := publisher.ReadPublished(ctx, "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, "run-2", manifest.RunID)

	// the superseded run's objects are still present under its own prefix
	paths, err := store.List(ctx, zones.ZoneCurated, utils.CuratedRunPrefix("2026-03-02", "run-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, paths)
}

func TestPublisherCSVNullValues(t *testing.T) {
	store, err := zones.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	publisher := &Publisher{Store: store}
	ctx := context.Background()

	_, err = publisher.Run(ctx, "2026-03-02", "run-1", sampleKpis(time.Now().UTC()))
	require.NoError(t, err)

	data, err := store.Get(ctx, zones.ZoneCurated, utils.CuratedRunPrefix("2026-03-02", "run-1")+"kpis.csv")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "0.75")
	// a null KPI value renders as an empty cell, not zero
	assert.Contains(t, lines[2], "retention_rate,,")
}

func TestPublisherSummary(t *testing.T) {
	store, err := zones.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	publisher := &Publisher{Store: store}
	ctx := context.Background()

	_, err = publisher.Run(ctx, "2026-03-02", "run-1", sampleKpis(time.Now().UTC()))
	require.NoError(t, err)

	data, err := store.Get(ctx, zones.ZoneCurated, utils.CuratedRunPrefix("2026-03-02", "run-1")+"kpi_summary.json")
	require.NoError(t, err)

	var summary map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, "2026-03-02", summary["logical_date"])
	assert.Equal(t, float64(2), summary["total_kpis"])
	assert.Equal(t, float64(1), summary["defined_kpis"])
	assert.Equal(t, float64(1), summary["courses"])
}
