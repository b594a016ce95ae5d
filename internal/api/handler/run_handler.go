package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"learner-analytics-pipeline/internal/model"
	"learner-analytics-pipeline/internal/pipeline"
	"learner-analytics-pipeline/internal/store"
	"learner-analytics-pipeline/internal/zones"
	"learner-analytics-pipeline/pkg/utils"
)

// Handler serves the run-control and read-side endpoints.
type Handler struct {
	Orchestrator *pipeline.Orchestrator
	Runs         *store.RunStore
	Zones        zones.Store
	Log          *zap.SugaredLogger
}

// TriggerRequest is the POST /runs payload.
type TriggerRequest struct {
	LogicalDate string `json:"logical_date"`
	Force       bool   `json:"force"`
}

// TriggerRun starts a pipeline run for a logical date
// @Summary Trigger a pipeline run
// @Description Start a run for the given logical date. A date whose latest run already succeeded is a no-op unless force is set.
// @Tags runs
// @Accept json
// @Produce json
// @Param run body TriggerRequest true "Run request"
// @Success 202 {object} model.RunManifest "Run accepted"
// @Success 200 {object} model.RunManifest "Already satisfied"
// @Failure 400 {object} map[string]string "Invalid request payload"
// @Failure 409 {object} map[string]string "A run for this date is already in progress"
// @Router /runs [post]
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.LogicalDate == "" {
		writeError(w, http.StatusBadRequest, "logical_date is required")
		return
	}

	manifest, err := h.Orchestrator.Start(r.Context(), req.LogicalDate, req.Force)
	if err != nil {
		var vErr *model.ValidationError
		switch {
		case errors.Is(err, model.ErrRunInProgress):
			writeError(w, http.StatusConflict, "a run for this date is already in progress")
		case errors.As(err, &vErr):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.Log.Errorw("trigger failed", "logical_date", req.LogicalDate, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to start run")
		}
		return
	}

	// an already-succeeded date comes back satisfied, not re-executed
	if manifest.State == model.RunSucceeded {
		writeJSON(w, http.StatusOK, manifest)
		return
	}
	writeJSON(w, http.StatusAccepted, manifest)
}

// ListRuns lists pipeline runs
// @Summary List runs
// @Description List run manifests, newest first, optionally filtered by logical date
// @Tags runs
// @Produce json
// @Param date query string false "Logical date filter (YYYY-MM-DD)"
// @Success 200 {array} model.RunManifest
// @Failure 500 {object} map[string]string
// @Router /runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Runs.ListRuns(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		h.Log.Errorw("list runs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*model.RunManifest{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun fetches one run manifest
// @Summary Get run
// @Description Retrieve the manifest of a specific run
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} model.RunManifest
// @Failure 404 {object} map[string]string
// @Router /runs/{id} [get]
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := pathSegment(r.URL.Path, "/api/v1/runs/", "")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run ID is required")
		return
	}
	manifest, err := h.Runs.GetRun(r.Context(), runID)
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.Log.Errorw("get run failed", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch run")
		return
	}
	writeJSON(w, http.StatusOK, manifest)
}

// GetRunEvents returns a run's event log
// @Summary Get run events
// @Description Retrieve the ordered event log of a run
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {array} store.RunEvent
// @Failure 500 {object} map[string]string
// @Router /runs/{id}/events [get]
func (h *Handler) GetRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := pathSegment(r.URL.Path, "/api/v1/runs/", "/events")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run ID is required")
		return
	}
	events, err := h.Runs.ListEvents(r.Context(), runID)
	if err != nil {
		h.Log.Errorw("list events failed", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch events")
		return
	}
	if events == nil {
		events = []store.RunEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetQuarantine returns quarantined records for a date
// @Summary Get quarantined records
// @Description Retrieve every record quarantined for a logical date, across all sources
// @Tags quarantine
// @Produce json
// @Param date path string true "Logical date (YYYY-MM-DD)"
// @Success 200 {array} model.QuarantinedRecord
// @Failure 500 {object} map[string]string
// @Router /dates/{date}/quarantine [get]
func (h *Handler) GetQuarantine(w http.ResponseWriter, r *http.Request) {
	date := pathSegment(r.URL.Path, "/api/v1/dates/", "/quarantine")
	if date == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}

	quarantined := []model.QuarantinedRecord{}
	for _, source := range model.AllSources() {
		data, err := h.Zones.Get(r.Context(), zones.ZoneClean, utils.QuarantinePath(date, string(source)))
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			h.Log.Errorw("read quarantine failed", "date", date, "source", source, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to read quarantine")
			return
		}
		records, err := pipeline.DecodeQuarantine(data)
		if err != nil {
			h.Log.Errorw("decode quarantine failed", "date", date, "source", source, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to decode quarantine")
			return
		}
		quarantined = append(quarantined, records...)
	}
	writeJSON(w, http.StatusOK, quarantined)
}

// GetKpis returns the published KPIs for a date
// @Summary Get published KPIs
// @Description Resolve the curated manifest for a logical date and return the KPI records it points at
// @Tags kpis
// @Produce json
// @Param date path string true "Logical date (YYYY-MM-DD)"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string "Nothing published for this date"
// @Router /dates/{date}/kpis [get]
func (h *Handler) GetKpis(w http.ResponseWriter, r *http.Request) {
	date := pathSegment(r.URL.Path, "/api/v1/dates/", "/kpis")
	if date == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}

	publisher := &pipeline.Publisher{Store: h.Zones}
	manifest, kpis, err := publisher.ReadPublished(r.Context(), date)
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusNotFound, "nothing published for this date")
		return
	}
	if err != nil {
		h.Log.Errorw("read published kpis failed", "date", date, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read kpis")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"manifest": manifest,
		"kpis":     kpis,
	})
}

// Healthz reports liveness
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /healthz [get]
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// pathSegment extracts the wildcard segment between a known prefix and
// suffix. Returns "" when the path does not carry one.
func pathSegment(path, prefix, suffix string) string {
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return ""
	}
	seg := strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix)
	if strings.Contains(seg, "/") {
		return ""
	}
	return seg
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
