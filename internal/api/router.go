package api

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"learner-analytics-pipeline/internal/api/handler"
	"learner-analytics-pipeline/pkg/router"
)

// RegisterRoutes mounts the control and read-side endpoints.
func RegisterRoutes(r *router.Router, h *handler.Handler) {
	r.POST("/api/v1/runs", h.TriggerRun)
	r.GET("/api/v1/runs", h.ListRuns)
	// More specific routes first
	r.GET("/api/v1/runs/*/events", h.GetRunEvents)
	r.GET("/api/v1/runs/*", h.GetRun)

	r.GET("/api/v1/dates/*/quarantine", h.GetQuarantine)
	r.GET("/api/v1/dates/*/kpis", h.GetKpis)

	r.GET("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())
	r.GET("/swagger/*", router.HandlerFunc(httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	)))
}
