package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"learner-analytics-pipeline/internal/model"
	"learner-analytics-pipeline/internal/zones"
	"learner-analytics-pipeline/pkg/utils"
)

// CuratedManifest is the per-date pointer object the dashboard resolves
// through. Publishing a run rewrites this object last, atomically swapping
// readers onto the new outputs; until then the prior run's outputs stay
// fully readable.
type CuratedManifest struct {
	RunID       string    `json:"run_id"`
	LogicalDate string    `json:"logical_date"`
	Windows     []string  `json:"windows"`
	Objects     []string  `json:"objects"`
	RecordCount int       `json:"record_count"`
	PublishedAt time.Time `json:"published_at"`
}

// PublishResult reports what landed in the curated zone.
type PublishResult struct {
	Manifest   CuratedManifest
	OutputRefs []string
}

// Publisher lands KpiRecords in the curated zone as a flat, append-free
// table per logical period (JSON and CSV encodings plus a summary).
type Publisher struct {
	Store zones.Store
}

// Run stages the curated objects under the run's own prefix, then swaps the
// per-date manifest pointer. Recomputation for a window overwrites — the
// manifest only ever references one run.
func (p *Publisher) Run(ctx context.Context, date, runID string, kpis []model.KpiRecord) (*PublishResult, error) {
	prefix := utils.CuratedRunPrefix(date, runID)

	windows := map[string]struct{}{}
	for _, kpi := range kpis {
		windows[kpi.WindowStart] = struct{}{}
	}
	windowList := make([]string, 0, len(windows))
	for w := range windows {
		windowList = append(windowList, w)
	}
	sort.Strings(windowList)

	jsonPath := prefix + "kpis.jsonl"
	jsonData, err := encodeJSONL(kpis)
	if err != nil {
		return nil, fmt.Errorf("encode kpis: %w", err)
	}
	if err := p.Store.Put(ctx, zones.ZoneCurated, jsonPath, jsonData); err != nil {
		return nil, fmt.Errorf("write kpis jsonl: %w", err)
	}

	csvPath := prefix + "kpis.csv"
	csvData, err := encodeKpiCSV(kpis)
	if err != nil {
		return nil, fmt.Errorf("encode kpi csv: %w", err)
	}
	if err := p.Store.Put(ctx, zones.ZoneCurated, csvPath, csvData); err != nil {
		return nil, fmt.Errorf("write kpis csv: %w", err)
	}

	summaryPath := prefix + "kpi_summary.json"
	summaryData, err := encodeKpiSummary(date, kpis)
	if err != nil {
		return nil, fmt.Errorf("encode kpi summary: %w", err)
	}
	if err := p.Store.Put(ctx, zones.ZoneCurated, summaryPath, summaryData); err != nil {
		return nil, fmt.Errorf("write kpi summary: %w", err)
	}

	manifest := CuratedManifest{
		RunID:       runID,
		LogicalDate: date,
		Windows:     windowList,
		Objects:     []string{jsonPath, csvPath, summaryPath},
		RecordCount: len(kpis),
		PublishedAt: time.Now().UTC(),
	}
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode curated manifest: %w", err)
	}
	// the pointer swap: readers switch to the new run's outputs here
	if err := p.Store.Put(ctx, zones.ZoneCurated, utils.CuratedManifestPath(date), manifestData); err != nil {
		return nil, fmt.Errorf("publish curated manifest: %w", err)
	}

	refs := make([]string, 0, len(manifest.Objects)+1)
	for _, obj := range manifest.Objects {
		refs = append(refs, string(zones.ZoneCurated)+"/"+obj)
	}
	refs = append(refs, string(zones.ZoneCurated)+"/"+utils.CuratedManifestPath(date))

	return &PublishResult{Manifest: manifest, OutputRefs: refs}, nil
}

// ReadPublished resolves the per-date manifest and returns the KPI records
// it points at. Used by the control API and the no-op rerun check.
func (p *Publisher) ReadPublished(ctx context.Context, date string) (*CuratedManifest, []model.KpiRecord, error) {
	data, err := p.Store.Get(ctx, zones.ZoneCurated, utils.CuratedManifestPath(date))
	if err != nil {
		return nil, nil, err
	}
	var manifest CuratedManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, nil, fmt.Errorf("decode curated manifest: %w", err)
	}

	jsonPath := utils.CuratedRunPrefix(date, manifest.RunID) + "kpis.jsonl"
	kpiData, err := p.Store.Get(ctx, zones.ZoneCurated, jsonPath)
	if err != nil {
		return nil, nil, err
	}
	kpis, err := decodeJSONL[model.KpiRecord](kpiData)
	if err != nil {
		return nil, nil, fmt.Errorf("decode published kpis: %w", err)
	}
	return &manifest, kpis, nil
}

func encodeKpiCSV(kpis []model.KpiRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"course_id", "window_start", "window_end", "kpi_name", "bucket", "value", "sample_size", "computed_at"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, kpi := range kpis {
		value := ""
		if kpi.Value != nil {
			value = strconv.FormatFloat(*kpi.Value, 'g', -1, 64)
		}
		row := []string{
			kpi.CourseID,
			kpi.WindowStart,
			kpi.WindowEnd,
			string(kpi.KpiName),
			kpi.Bucket,
			value,
			strconv.Itoa(kpi.SampleSize),
			kpi.ComputedAt.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// encodeKpiSummary emits the per-date quick stats the dashboard's landing
// view reads: counts per KPI and courses covered.
func encodeKpiSummary(date string, kpis []model.KpiRecord) ([]byte, error) {
	courses := map[string]struct{}{}
	perKpi := map[string]int{}
	defined := 0
	for _, kpi := range kpis {
		courses[kpi.CourseID] = struct{}{}
		perKpi[string(kpi.KpiName)]++
		if kpi.Value != nil {
			defined++
		}
	}
	summary := map[string]interface{}{
		"logical_date":   date,
		"total_kpis":     len(kpis),
		"defined_kpis":   defined,
		"courses":        len(courses),
		"records_by_kpi": perKpi,
	}
	return json.MarshalIndent(summary, "", "  ")
}
