package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"learner-analytics-pipeline/internal/model"
	"learner-analytics-pipeline/internal/zones"
	"learner-analytics-pipeline/pkg/utils"
)

// RawRow is a schema-agnostic row read from a raw batch, before mapping.
type RawRow struct {
	Source model.Source
	Ref    model.RawRef
	Fields map[string]interface{}
}

// NormalizeResult carries one stage's output: canonical records plus the
// rejections to be quarantined, and the raw listings consumed.
type NormalizeResult struct {
	Records    []model.LearnerActivityRecord
	Rejections []model.QuarantinedRecord
	InputRefs  []string
	InputRows  int
}

// fieldMapping maps one canonical field to the raw column variants that feed
// it. Every source column is either listed in a mapping or in the source's
// dropped set; nothing is coerced silently.
type fieldMapping struct {
	Canonical string
	Variants  []string
	Required  bool
}

// sourceMappings is the explicit, total field-mapping table per source.
// Column-name matching is case-insensitive on trimmed headers.
var sourceMappings = map[model.Source][]fieldMapping{
	model.SourceKaggle: {
		{Canonical: "learner_id", Variants: []string{"student_id", "user_id", "id"}, Required: false},
		{Canonical: "course_id", Variants: []string{"course_id", "course", "course_name", "title"}, Required: true},
		{Canonical: "timestamp", Variants: []string{"timestamp", "date", "datetime"}, Required: true},
		{Canonical: "math_score", Variants: []string{"math score", "math_score"}, Required: false},
		{Canonical: "reading_score", Variants: []string{"reading score", "reading_score"}, Required: false},
		{Canonical: "writing_score", Variants: []string{"writing score", "writing_score"}, Required: false},
		{Canonical: "score", Variants: []string{"score"}, Required: false},
	},
	model.SourceSimulated: {
		{Canonical: "record_id", Variants: []string{"record_id"}, Required: false},
		{Canonical: "learner_id", Variants: []string{"student_id", "learner_id"}, Required: false},
		{Canonical: "course_id", Variants: []string{"course", "course_id"}, Required: true},
		{Canonical: "event_type", Variants: []string{"event_type"}, Required: true},
		{Canonical: "value", Variants: []string{"value", "score"}, Required: true},
		{Canonical: "timestamp", Variants: []string{"timestamp"}, Required: true},
		{Canonical: "time_unit", Variants: []string{"time_unit"}, Required: false},
	},
	model.SourceYouTube: {
		{Canonical: "record_id", Variants: []string{"video_id"}, Required: true},
		{Canonical: "course_id", Variants: []string{"video_id"}, Required: true},
		{Canonical: "timestamp", Variants: []string{"published_at"}, Required: true},
		{Canonical: "value", Variants: []string{"views", "view_count"}, Required: true},
		{Canonical: "duration", Variants: []string{"duration"}, Required: false},
	},
}

// droppedFields lists source columns that are deliberately discarded. They
// exist so the mapping stays total: a column in neither table is a schema
// drift worth noticing in review, not a runtime error.
var droppedFields = map[model.Source][]string{
	model.SourceKaggle:    {"gender", "race/ethnicity", "parental level of education", "lunch", "test preparation course", "education level", "age"},
	model.SourceSimulated: {"first_name", "last_name", "age", "gender", "hours_studied", "assignments_completed", "participation"},
	model.SourceYouTube:   {"title", "description", "tags", "channel", "likes", "comments", "transcript"},
}

// Normalizer maps raw batches into canonical LearnerActivityRecords.
type Normalizer struct {
	Store   zones.Store
	Workers int
}

// Run reads every batch under each source's raw prefix and normalizes rows in
// parallel. Per-record failures become quarantine entries; an unknown source
// tag fails the whole stage.
func (n *Normalizer) Run(ctx context.Context, sources []model.Source) (*NormalizeResult, error) {
	for _, source := range sources {
		if !source.IsValid() {
			return nil, &model.UnsupportedSourceError{Source: string(source)}
		}
	}

	workers := n.Workers
	if workers <= 0 {
		workers = 4
	}

	result := &NormalizeResult{}
	rows := make(chan RawRow, 256)

	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for row := range rows {
				rec, normErr := NormalizeRow(row)
				mu.Lock()
				if normErr != nil {
					result.Rejections = append(result.Rejections, model.QuarantinedRecord{
						Source: row.Source,
						Stage:  model.StageNormalize,
						Reason: normErr.Error(),
						RawRef: row.Ref,
						Fields: row.Fields,
					})
				} else {
					result.Records = append(result.Records, rec)
				}
				mu.Unlock()
			}
		}()
	}

	var feedErr error
	for _, source := range sources {
		refs, rowCount, err := n.feedSource(ctx, source, rows)
		result.InputRefs = append(result.InputRefs, refs...)
		result.InputRows += rowCount
		if err != nil {
			feedErr = err
			break
		}
	}
	close(rows)
	wg.Wait()

	if feedErr != nil {
		return nil, feedErr
	}
	return result, nil
}

// feedSource lists a source's raw prefix and streams its rows to the workers.
// The raw zone is append-only; whatever batches exist at run time are the
// input snapshot.
func (n *Normalizer) feedSource(ctx context.Context, source model.Source, rows chan<- RawRow) ([]string, int, error) {
	paths, err := n.Store.List(ctx, zones.ZoneRaw, utils.RawSourcePrefix(string(source)))
	if err != nil {
		return nil, 0, fmt.Errorf("list raw %s: %w", source, err)
	}

	count := 0
	refs := make([]string, 0, len(paths))
	for _, path := range paths {
		refs = append(refs, string(zones.ZoneRaw)+"/"+path)
		data, err := n.Store.Get(ctx, zones.ZoneRaw, path)
		if err != nil {
			return refs, count, fmt.Errorf("read raw %s: %w", path, err)
		}
		batchRows, err := parseBatch(source, path, data)
		if err != nil {
			return refs, count, fmt.Errorf("parse raw %s: %w", path, err)
		}
		for _, row := range batchRows {
			select {
			case <-ctx.Done():
				return refs, count, ctx.Err()
			case rows <- row:
				count++
			}
		}
	}
	return refs, count, nil
}

// parseBatch decodes one raw object into rows. Kaggle and simulated deposit
// CSV; youtube deposits a JSON array of collected video items.
func parseBatch(source model.Source, path string, data []byte) ([]RawRow, error) {
	switch source {
	case model.SourceKaggle, model.SourceSimulated:
		return parseCSVBatch(source, path, data)
	case model.SourceYouTube:
		return parseYouTubeBatch(path, data)
	default:
		return nil, &model.UnsupportedSourceError{Source: string(source)}
	}
}

func parseCSVBatch(source model.Source, path string, data []byte) ([]RawRow, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}
	for i, h := range headers {
		headers[i] = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(h), `"`, ""))
	}

	var rows []RawRow
	rowNum := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV row: %w", err)
		}
		fields := make(map[string]interface{}, len(headers))
		for i, h := range headers {
			if i < len(record) {
				fields[h] = utils.ParseValue(record[i])
			}
		}
		rows = append(rows, RawRow{
			Source: source,
			Ref:    model.RawRef{Zone: string(zones.ZoneRaw), Path: path, Row: rowNum},
			Fields: fields,
		})
		rowNum++
	}
	return rows, nil
}

func parseYouTubeBatch(path string, data []byte) ([]RawRow, error) {
	var items []map[string]interface{}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}

	rows := make([]RawRow, 0, len(items))
	for i, item := range items {
		fields := item
		// collector wraps video fields under "metadata"
		if meta, ok := item["metadata"].(map[string]interface{}); ok {
			fields = meta
		}
		rows = append(rows, RawRow{
			Source: model.SourceYouTube,
			Ref:    model.RawRef{Zone: string(zones.ZoneRaw), Path: path, Row: i},
			Fields: fields,
		})
	}
	return rows, nil
}

// NormalizeRow maps one raw row through its source's mapping table into a
// canonical record, or returns the NormalizationError to quarantine it with.
func NormalizeRow(row RawRow) (model.LearnerActivityRecord, error) {
	mappings, ok := sourceMappings[row.Source]
	if !ok {
		return model.LearnerActivityRecord{}, &model.UnsupportedSourceError{Source: string(row.Source)}
	}

	mapped := make(map[string]interface{}, len(mappings))
	for _, m := range mappings {
		val, found := lookupVariant(row.Fields, m.Variants)
		if !found || val == nil || val == "" {
			if m.Required {
				return model.LearnerActivityRecord{}, &model.NormalizationError{
					Source: row.Source, Field: m.Canonical, Reason: "required field missing",
				}
			}
			continue
		}
		mapped[m.Canonical] = val
	}

	switch row.Source {
	case model.SourceKaggle:
		return normalizeKaggle(row, mapped)
	case model.SourceSimulated:
		return normalizeSimulated(row, mapped)
	case model.SourceYouTube:
		return normalizeYouTube(row, mapped)
	}
	return model.LearnerActivityRecord{}, &model.UnsupportedSourceError{Source: string(row.Source)}
}

func lookupVariant(fields map[string]interface{}, variants []string) (interface{}, bool) {
	for _, v := range variants {
		if val, ok := fields[v]; ok {
			return val, true
		}
	}
	return nil, false
}

// normalizeKaggle emits one score event per row; the value is the mean of the
// subject scores present (math/reading/writing), or the single score column.
func normalizeKaggle(row RawRow, mapped map[string]interface{}) (model.LearnerActivityRecord, error) {
	ts, err := parseMappedTimestamp(row.Source, mapped)
	if err != nil {
		return model.LearnerActivityRecord{}, err
	}

	var sum float64
	var count int
	for _, col := range []string{"math_score", "reading_score", "writing_score", "score"} {
		val, ok := mapped[col]
		if !ok {
			continue
		}
		num, numOK := utils.Numeric(val)
		if !numOK {
			return model.LearnerActivityRecord{}, &model.NormalizationError{
				Source: row.Source, Field: col, Reason: fmt.Sprintf("non-numeric value %v", val),
			}
		}
		sum += num
		count++
	}
	if count == 0 {
		return model.LearnerActivityRecord{}, &model.NormalizationError{
			Source: row.Source, Field: "score", Reason: "no score column present",
		}
	}

	rec := model.LearnerActivityRecord{
		Source:    model.SourceKaggle,
		LearnerID: stringify(mapped["learner_id"]),
		CourseID:  stringify(mapped["course_id"]),
		EventType: model.EventScore,
		Value:     sum / float64(count),
		Timestamp: ts,
		RawRef:    row.Ref,
	}
	rec.RecordID = synthesizeRecordID(rec)
	return rec, nil
}

// normalizeSimulated passes event rows through; the generator already writes
// canonical-ish columns.
func normalizeSimulated(row RawRow, mapped map[string]interface{}) (model.LearnerActivityRecord, error) {
	ts, err := parseMappedTimestamp(row.Source, mapped)
	if err != nil {
		return model.LearnerActivityRecord{}, err
	}

	eventType := model.EventType(stringify(mapped["event_type"]))
	if !eventType.IsValid() {
		return model.LearnerActivityRecord{}, &model.NormalizationError{
			Source: row.Source, Field: "event_type", Reason: fmt.Sprintf("unknown event type %q", stringify(mapped["event_type"])),
		}
	}

	value, ok := utils.Numeric(mapped["value"])
	if !ok {
		return model.LearnerActivityRecord{}, &model.NormalizationError{
			Source: row.Source, Field: "value", Reason: fmt.Sprintf("non-numeric value %v", mapped["value"]),
		}
	}

	rec := model.LearnerActivityRecord{
		RecordID:  stringify(mapped["record_id"]),
		Source:    model.SourceSimulated,
		LearnerID: stringify(mapped["learner_id"]),
		CourseID:  stringify(mapped["course_id"]),
		EventType: eventType,
		Value:     value,
		Timestamp: ts,
		RawRef:    row.Ref,
		TimeUnit:  stringify(mapped["time_unit"]) == "seconds",
	}
	if rec.RecordID == "" {
		rec.RecordID = synthesizeRecordID(rec)
	}
	return rec, nil
}

// normalizeYouTube emits one view event per video with the view count as the
// value. Video metadata has no learner attached. A malformed ISO-8601
// duration rejects the row rather than being guessed at.
func normalizeYouTube(row RawRow, mapped map[string]interface{}) (model.LearnerActivityRecord, error) {
	ts, err := parseMappedTimestamp(row.Source, mapped)
	if err != nil {
		return model.LearnerActivityRecord{}, err
	}

	views, ok := utils.Numeric(mapped["value"])
	if !ok {
		return model.LearnerActivityRecord{}, &model.NormalizationError{
			Source: row.Source, Field: "views", Reason: fmt.Sprintf("non-numeric view count %v", mapped["value"]),
		}
	}

	if raw, present := mapped["duration"]; present {
		if _, err := utils.ParseISO8601Duration(stringify(raw)); err != nil {
			return model.LearnerActivityRecord{}, &model.NormalizationError{
				Source: row.Source, Field: "duration", Reason: err.Error(),
			}
		}
	}

	return model.LearnerActivityRecord{
		RecordID:  "yt-" + stringify(mapped["record_id"]),
		Source:    model.SourceYouTube,
		CourseID:  stringify(mapped["course_id"]),
		EventType: model.EventView,
		Value:     views,
		Timestamp: ts,
		RawRef:    row.Ref,
	}, nil
}

func parseMappedTimestamp(source model.Source, mapped map[string]interface{}) (time.Time, error) {
	raw, ok := mapped["timestamp"]
	if !ok {
		return time.Time{}, &model.NormalizationError{Source: source, Field: "timestamp", Reason: "required field missing"}
	}
	ts, parseErr := utils.ParseTimestamp(stringify(raw))
	if parseErr != nil {
		return time.Time{}, &model.NormalizationError{Source: source, Field: "timestamp", Reason: parseErr.Error()}
	}
	return ts, nil
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", val))
	}
}

// synthesizeRecordID derives a stable id for rows whose source assigns none:
// the short SHA-256 of the natural key.
func synthesizeRecordID(rec model.LearnerActivityRecord) string {
	key := rec.NaturalKey()
	if key == "" {
		key = rec.CourseID + "|" + string(rec.EventType) + "|" + rec.Timestamp.UTC().Format("2006-01-02T15:04:05Z") + "|" + rec.RawRef.String()
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}
