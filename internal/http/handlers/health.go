package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/distconv/distconv/internal/database"
)

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	version string
	db      *database.DB
	started time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{version: version, started: time.Now()}
}

// WithDB attaches a database for connectivity checks.
func (h *HealthHandler) WithDB(db *database.DB) *HealthHandler {
	h.db = db
	return h
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/api/v1/health",
		Summary:     "Health check",
		Tags:        []string{"Health"},
	}, h.Get)
}

// HealthInput is the input for the health check.
type HealthInput struct{}

// HealthOutput is the output for the health check.
type HealthOutput struct {
	Body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			Status        string  `json:"status"`
			Version       string  `json:"version"`
			UptimeSeconds float64 `json:"uptime_seconds"`
			Database      string  `json:"database"`
		} `json:"data"`
	}
}

// Get reports coordinator and store health.
func (h *HealthHandler) Get(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	resp := &HealthOutput{}
	resp.Body.Code = 200
	resp.Body.Message = "ok"
	resp.Body.Data.Status = "healthy"
	resp.Body.Data.Version = h.version
	resp.Body.Data.UptimeSeconds = time.Since(h.started).Seconds()
	resp.Body.Data.Database = "ok"

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			resp.Body.Data.Status = "degraded"
			resp.Body.Data.Database = err.Error()
		}
	}
	return resp, nil
}
