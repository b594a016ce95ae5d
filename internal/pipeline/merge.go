package pipeline

import (
	"context"
	"fmt"
	"sort"

	"learner-analytics-pipeline/internal/model"
	"learner-analytics-pipeline/internal/zones"
	"learner-analytics-pipeline/pkg/utils"
)

// MergeResult is the unioned cross-source dataset landed in the processed zone.
type MergeResult struct {
	Records    []model.LearnerActivityRecord
	OutputRefs []string
}

// Merger unions the per-source cleaned datasets into one collection.
type Merger struct {
	Store zones.Store
}

// Run reads every cleaned per-source object for the run and merges them.
// The merge is commutative and associative: the output is independent of the
// order sources are processed in.
func (m *Merger) Run(ctx context.Context, date, runID string) (*MergeResult, error) {
	var all []model.LearnerActivityRecord
	for _, source := range model.AllSources() {
		path := utils.CleanPath(date, runID, string(source))
		data, err := m.Store.Get(ctx, zones.ZoneClean, path)
		if err != nil {
			if isNotFound(err) {
				// a source may legitimately have produced nothing this run
				continue
			}
			return nil, fmt.Errorf("read clean %s: %w", source, err)
		}
		recs, err := decodeRecords(data)
		if err != nil {
			return nil, fmt.Errorf("decode clean %s: %w", source, err)
		}
		all = append(all, recs...)
	}

	merged := MergeRecords(all)

	path := utils.MergedPath(date, runID)
	data, err := encodeJSONL(merged)
	if err != nil {
		return nil, fmt.Errorf("encode merged: %w", err)
	}
	if err := m.Store.Put(ctx, zones.ZoneProcessed, path, data); err != nil {
		return nil, fmt.Errorf("write merged: %w", err)
	}

	return &MergeResult{
		Records:    merged,
		OutputRefs: []string{string(zones.ZoneProcessed) + "/" + path},
	}, nil
}

// MergeRecords performs the full outer union with cross-source dedup.
// Records sharing a natural key collapse to one winner: latest timestamp
// first, then source priority (kaggle > simulated > youtube). Records without
// a natural key are always distinct across sources. The result is sorted so
// that any processing order of the inputs yields an identical dataset.
func MergeRecords(records []model.LearnerActivityRecord) []model.LearnerActivityRecord {
	byNatural := make(map[string]model.LearnerActivityRecord)
	var keyless []model.LearnerActivityRecord

	for _, rec := range records {
		key := rec.NaturalKey()
		if key == "" {
			keyless = append(keyless, rec)
			continue
		}
		prev, seen := byNatural[key]
		if !seen || rec.Supersedes(prev) {
			byNatural[key] = rec
		}
	}

	out := make([]model.LearnerActivityRecord, 0, len(byNatural)+len(keyless))
	for _, rec := range byNatural {
		out = append(out, rec)
	}
	out = append(out, keyless...)

	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source.Priority() < out[j].Source.Priority()
		}
		if out[i].RecordID != out[j].RecordID {
			return out[i].RecordID < out[j].RecordID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
