package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learner-analytics-pipeline/internal/model"
	"learner-analytics-pipeline/internal/zones"
	"learner-analytics-pipeline/pkg/utils"
)

func mergeRecord(source model.Source, learner, course string, event model.EventType, ts time.Time) model.LearnerActivityRecord {
	rec := model.LearnerActivityRecord{
		Source:    source,
		LearnerID: learner,
		CourseID:  course,
		EventType: event,
		Value:     1,
		Timestamp: ts,
	}
	rec.RecordID = string(source) + "-" + learner + "-" + course
	return rec
}

func TestMergeRecordsCommutative(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := mergeRecord(model.SourceKaggle, "l1", "algebra", model.EventScore, ts)
	b := mergeRecord(model.SourceSimulated, "l2", "algebra", model.EventView, ts)
	c := mergeRecord(model.SourceYouTube, "", "vid-1", model.EventView, ts)

	forward := MergeRecords([]model.LearnerActivityRecord{a, b, c})
	backward := MergeRecords([]model.LearnerActivityRecord{c, b, a})

	assert.Equal(t, forward, backward)
	assert.Len(t, forward, 3)
}

func TestMergeRecordsNaturalKeyDedupPrefersPriority(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	// identical natural key (learner, course, event, timestamp) in two sources
	kaggle := mergeRecord(model.SourceKaggle, "l1", "algebra", model.EventScore, ts)
	simulated := mergeRecord(model.SourceSimulated, "l1", "algebra", model.EventScore, ts)

	merged := MergeRecords([]model.LearnerActivityRecord{simulated, kaggle})
	require.Len(t, merged, 1)
	assert.Equal(t, model.SourceKaggle, merged[0].Source)

	// same outcome regardless of order
	merged = MergeRecords([]model.LearnerActivityRecord{kaggle, simulated})
	require.Len(t, merged, 1)
	assert.Equal(t, model.SourceKaggle, merged[0].Source)
}

func TestMergeRecordsLaterTimestampBeatsPriority(t *testing.T) {
	early := mergeRecord(model.SourceKaggle, "l1", "algebra", model.EventScore,
		time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	late := mergeRecord(model.SourceSimulated, "l1", "algebra", model.EventScore,
		time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC))

	// different timestamps mean different natural keys; both survive
	merged := MergeRecords([]model.LearnerActivityRecord{early, late})
	assert.Len(t, merged, 2)
}

func TestMergeRecordsKeylessPassThrough(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := mergeRecord(model.SourceYouTube, "", "vid-1", model.EventView, ts)
	b := mergeRecord(model.SourceYouTube, "", "vid-2", model.EventView, ts)

	merged := MergeRecords([]model.LearnerActivityRecord{a, b})
	assert.Len(t, merged, 2)
}

func TestMergerRunSkipsAbsentSources(t *testing.T) {
	store, err := zones.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	recs := []model.LearnerActivityRecord{
		mergeRecord(model.SourceSimulated, "l1", "algebra", model.EventView, ts),
	}
	data, err := encodeJSONL(recs)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, zones.ZoneClean, utils.CleanPath("2026-03-01", "run-1", "simulated"), data))

	merger := &Merger{Store: store}
	res, err := merger.Run(ctx, "2026-03-01", "run-1")
	require.NoError(t, err)
	assert.Len(t, res.Records, 1)

	// merged object landed in the processed zone
	mergedData, err := store.Get(ctx, zones.ZoneProcessed, utils.MergedPath("2026-03-01", "run-1"))
	require.NoError(t, err)
	decoded, err := decodeRecords(mergedData)
	require.NoError(t, err)
	assert.Equal(t, res.Records, decoded)
}
