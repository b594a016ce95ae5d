package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learner-analytics-pipeline/internal/metrics"
	"learner-analytics-pipeline/internal/model"
	"learner-analytics-pipeline/internal/pipeline"
	"learner-analytics-pipeline/internal/store"
	"learner-analytics-pipeline/internal/zones"
	"learner-analytics-pipeline/pkg/logger"
	"learner-analytics-pipeline/pkg/utils"
)

func newTestHandler(t *testing.T) (*Handler, zones.Store) {
	t.Helper()

	zoneStore, err := zones.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	runs, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { runs.Close() })

	log := logger.NewNop()
	orch := pipeline.NewOrchestrator(zoneStore, runs, log, metrics.New(prometheus.NewRegistry()))
	orch.Retry = model.RetryPolicy{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}

	return &Handler{Orchestrator: orch, Runs: runs, Zones: zoneStore, Log: log}, zoneStore
}

func seedRaw(t *testing.T, zoneStore zones.Store) {
	t.Helper()
	simCSV := "record_id,student_id,course,event_type,value,timestamp,time_unit\n" +
		"r1,sim-1,algebra,view,1,2026-03-02T09:00:00Z,\n"
	require.NoError(t, zoneStore.Put(context.Background(), zones.ZoneRaw,
		utils.RawSourcePrefix("simulated")+"batch.csv", []byte(simCSV)))
}

func postRuns(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	h.TriggerRun(w, req)
	return w
}

func TestTriggerRunValidation(t *testing.T) {
	h, _ := newTestHandler(t)

	assert.Equal(t, http.StatusBadRequest, postRuns(h, "{not json").Code)
	assert.Equal(t, http.StatusBadRequest, postRuns(h, `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, postRuns(h, `{"logical_date":"yesterday"}`).Code)
}

func TestTriggerRunAcceptedThenSatisfied(t *testing.T) {
	h, zoneStore := newTestHandler(t)
	seedRaw(t, zoneStore)

	w := postRuns(h, `{"logical_date":"2026-03-02"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var accepted model.RunManifest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	assert.Equal(t, "2026-03-02", accepted.ScheduledFor)

	// the run executes in the background; wait for it to land
	require.Eventually(t, func() bool {
		m, err := h.Runs.GetRun(context.Background(), accepted.RunID)
		return err == nil && m.State == model.RunSucceeded
	}, 5*time.Second, 20*time.Millisecond)

	// a repeat trigger without force is satisfied by the existing run
	w = postRuns(h, `{"logical_date":"2026-03-02"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var satisfied model.RunManifest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &satisfied))
	assert.Equal(t, accepted.RunID, satisfied.RunID)
	assert.Equal(t, model.RunSucceeded, satisfied.State)
}

func TestTriggerRunConflict(t *testing.T) {
	h, _ := newTestHandler(t)

	pending := model.NewRunManifest("held", "2026-03-02", false)
	require.NoError(t, h.Runs.CreateRun(context.Background(), pending))

	w := postRuns(h, `{"logical_date":"2026-03-02"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetRun(t *testing.T) {
	h, _ := newTestHandler(t)

	m := model.NewRunManifest("run-1", "2026-03-02", false)
	require.NoError(t, h.Runs.CreateRun(context.Background(), m))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1", nil)
	w := httptest.NewRecorder()
	h.GetRun(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got model.RunManifest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "run-1", got.RunID)
}

func TestGetRunNotFound(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/ghost", nil)
	w := httptest.NewRecorder()
	h.GetRun(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListRuns(t *testing.T) {
	h, _ := newTestHandler(t)
	require.NoError(t, h.Runs.CreateRun(context.Background(), model.NewRunManifest("run-1", "2026-03-02", false)))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs?date=2026-03-02", nil)
	w := httptest.NewRecorder()
	h.ListRuns(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var runs []model.RunManifest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)
}

func TestGetQuarantine(t *testing.T) {
	h, zoneStore := newTestHandler(t)
	ctx := context.Background()

	q := []model.QuarantinedRecord{{
		Source:        model.SourceKaggle,
		ScheduledFor:  "2026-03-02",
		Stage:         model.StageNormalize,
		Reason:        "required field missing",
		QuarantinedAt: time.Now().UTC(),
	}}
	data, err := json.Marshal(q[0])
	require.NoError(t, err)
	require.NoError(t, zoneStore.Put(ctx, zones.ZoneClean,
		utils.QuarantinePath("2026-03-02", "kaggle"), append(data, '\n')))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dates/2026-03-02/quarantine", nil)
	w := httptest.NewRecorder()
	h.GetQuarantine(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got []model.QuarantinedRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "required field missing", got[0].Reason)
}

func TestGetQuarantineEmpty(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dates/2026-03-02/quarantine", nil)
	w := httptest.NewRecorder()
	h.GetQuarantine(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestGetKpisNotPublished(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dates/2026-03-02/kpis", nil)
	w := httptest.NewRecorder()
	h.GetKpis(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthz(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.Healthz(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
