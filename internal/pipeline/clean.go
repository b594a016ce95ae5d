package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"learner-analytics-pipeline/internal/model"
	"learner-analytics-pipeline/internal/zones"
	"learner-analytics-pipeline/pkg/utils"
)

// scoreDomain is the declared valid score range per source. Scores outside
// the domain are rejected, never clamped.
type scoreDomain struct {
	Min float64
	Max float64
}

var scoreDomains = map[model.Source]scoreDomain{
	model.SourceKaggle:    {Min: 0, Max: 100},
	model.SourceSimulated: {Min: 0, Max: 20},
}

// CleanResult carries the surviving records, everything quarantined (both
// normalization and validation rejections), and the audit counts.
type CleanResult struct {
	Records     []model.LearnerActivityRecord
	Quarantined []model.QuarantinedRecord
	// InputCount is what the conservation invariant balances against:
	// len(Records) + len(Quarantined) == InputCount.
	InputCount int
	OutputRefs []string
}

// Cleaner validates normalized records, suppresses in-batch duplicates, and
// lands survivors plus quarantine files in the clean zone.
type Cleaner struct {
	Store   zones.Store
	Workers int
}

// Run applies, in order: required-field checks, range checks, then duplicate
// suppression keyed by (record_id, source) keeping the latest timestamp.
// Rejections join the normalizer's rejections in quarantine — never dropped.
func (c *Cleaner) Run(ctx context.Context, date, runID string, normalized *NormalizeResult) (*CleanResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	workers := c.Workers
	if workers <= 0 {
		workers = 4
	}

	result := &CleanResult{
		InputCount:  normalized.InputRows,
		Quarantined: append([]model.QuarantinedRecord(nil), normalized.Rejections...),
	}

	type verdict struct {
		record model.LearnerActivityRecord
		reject *model.QuarantinedRecord
	}

	in := make(chan model.LearnerActivityRecord, 256)
	out := make(chan verdict, 256)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for rec := range in {
				if vErr := validateRecord(rec); vErr != nil {
					out <- verdict{reject: &model.QuarantinedRecord{
						Source:        rec.Source,
						ScheduledFor:  date,
						Stage:         model.StageClean,
						Reason:        vErr.Error(),
						RawRef:        rec.RawRef,
						QuarantinedAt: time.Now().UTC(),
					}}
					continue
				}
				out <- verdict{record: rec}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	go func() {
		for _, rec := range normalized.Records {
			select {
			case <-ctx.Done():
				close(in)
				return
			case in <- rec:
			}
		}
		close(in)
	}()

	var valid []model.LearnerActivityRecord
	for v := range out {
		if v.reject != nil {
			result.Quarantined = append(result.Quarantined, *v.reject)
			continue
		}
		valid = append(valid, v.record)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// In-batch duplicate suppression: keep the record with the latest
	// timestamp for each (record_id, source) key; losers are quarantined so
	// the conservation invariant still balances.
	kept := make(map[string]model.LearnerActivityRecord, len(valid))
	order := make([]string, 0, len(valid))
	for _, rec := range valid {
		key := rec.DedupKey()
		prev, seen := kept[key]
		if !seen {
			kept[key] = rec
			order = append(order, key)
			continue
		}
		loser := rec
		if rec.Supersedes(prev) {
			kept[key] = rec
			loser = prev
		}
		result.Quarantined = append(result.Quarantined, model.QuarantinedRecord{
			Source:        loser.Source,
			ScheduledFor:  date,
			Stage:         model.StageClean,
			Reason:        fmt.Sprintf("duplicate of %s, superseded by later timestamp", key),
			RawRef:        loser.RawRef,
			QuarantinedAt: time.Now().UTC(),
		})
	}
	for _, key := range order {
		result.Records = append(result.Records, kept[key])
	}

	now := time.Now().UTC()
	for i := range result.Quarantined {
		result.Quarantined[i].ScheduledFor = date
		if result.Quarantined[i].QuarantinedAt.IsZero() {
			result.Quarantined[i].QuarantinedAt = now
		}
	}

	refs, err := c.land(ctx, date, runID, result)
	if err != nil {
		return nil, err
	}
	result.OutputRefs = refs
	return result, nil
}

// validateRecord enforces the field-level constraints on one record.
func validateRecord(rec model.LearnerActivityRecord) error {
	if rec.Timestamp.IsZero() {
		return &model.ValidationError{Field: "timestamp", Reason: "missing"}
	}
	if rec.CourseID == "" {
		return &model.ValidationError{Field: "course_or_content_id", Reason: "missing"}
	}
	// learner-scoped events require a learner; video metadata does not
	if rec.LearnerID == "" && rec.Source != model.SourceYouTube {
		return &model.ValidationError{Field: "learner_id", Reason: "missing for learner-scoped event"}
	}
	if !rec.EventType.IsValid() {
		return &model.ValidationError{Field: "event_type", Reason: fmt.Sprintf("unknown event type %q", rec.EventType)}
	}
	if rec.EventType == model.EventScore {
		if domain, ok := scoreDomains[rec.Source]; ok {
			if rec.Value < domain.Min || rec.Value > domain.Max {
				return &model.ValidationError{
					Field:  "value",
					Reason: fmt.Sprintf("score %v outside declared domain [%v, %v]", rec.Value, domain.Min, domain.Max),
				}
			}
		}
	}
	if rec.Value < 0 {
		return &model.ValidationError{Field: "value", Reason: fmt.Sprintf("negative value %v", rec.Value)}
	}
	return nil
}

// land writes per-source cleaned records and quarantine files to the clean
// zone. Cleaned output is run-scoped; quarantine is keyed by (source, date)
// for the audit interface.
func (c *Cleaner) land(ctx context.Context, date, runID string, result *CleanResult) ([]string, error) {
	bySource := make(map[model.Source][]model.LearnerActivityRecord)
	for _, rec := range result.Records {
		bySource[rec.Source] = append(bySource[rec.Source], rec)
	}
	quarantineBySource := make(map[model.Source][]model.QuarantinedRecord)
	for _, q := range result.Quarantined {
		quarantineBySource[q.Source] = append(quarantineBySource[q.Source], q)
	}

	var refs []string
	for _, source := range model.AllSources() {
		recs := bySource[source]
		if len(recs) > 0 {
			sort.Slice(recs, func(i, j int) bool { return recs[i].RecordID < recs[j].RecordID })
			path := utils.CleanPath(date, runID, string(source))
			data, err := encodeJSONL(recs)
			if err != nil {
				return nil, fmt.Errorf("encode clean %s: %w", source, err)
			}
			if err := c.Store.Put(ctx, zones.ZoneClean, path, data); err != nil {
				return nil, fmt.Errorf("write clean %s: %w", source, err)
			}
			refs = append(refs, string(zones.ZoneClean)+"/"+path)
		}

		quarantined := quarantineBySource[source]
		if len(quarantined) > 0 {
			path := utils.QuarantinePath(date, string(source))
			data, err := encodeJSONL(quarantined)
			if err != nil {
				return nil, fmt.Errorf("encode quarantine %s: %w", source, err)
			}
			if err := c.Store.Put(ctx, zones.ZoneClean, path, data); err != nil {
				return nil, fmt.Errorf("write quarantine %s: %w", source, err)
			}
			refs = append(refs, string(zones.ZoneClean)+"/"+path)
		}
	}
	return refs, nil
}
