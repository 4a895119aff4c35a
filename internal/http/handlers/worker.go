package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/distconv/distconv/internal/models"
	"github.com/distconv/distconv/internal/registry"
)

// WorkerHandler handles worker API endpoints.
type WorkerHandler struct {
	registry *registry.Registry
}

// NewWorkerHandler creates a new worker handler.
func NewWorkerHandler(reg *registry.Registry) *WorkerHandler {
	return &WorkerHandler{registry: reg}
}

// Register registers the worker routes with the API.
func (h *WorkerHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "registerWorker",
		Method:        "POST",
		Path:          "/api/v1/workers",
		Summary:       "Register worker",
		Description:   "Creates or revives a worker. A name held by a live instance is rejected.",
		Tags:          []string{"Workers"},
		DefaultStatus: 201,
	}, h.RegisterWorker)

	huma.Register(api, huma.Operation{
		OperationID: "listWorkers",
		Method:      "GET",
		Path:        "/api/v1/workers",
		Summary:     "List workers",
		Tags:        []string{"Workers"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getWorker",
		Method:      "GET",
		Path:        "/api/v1/workers/{id}",
		Summary:     "Get worker",
		Tags:        []string{"Workers"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "updateWorker",
		Method:      "PUT",
		Path:        "/api/v1/workers/{id}",
		Summary:     "Update worker",
		Tags:        []string{"Workers"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "deleteWorker",
		Method:      "DELETE",
		Path:        "/api/v1/workers/{id}",
		Summary:     "Delete worker",
		Tags:        []string{"Workers"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "workerHeartbeat",
		Method:      "POST",
		Path:        "/api/v1/workers/heartbeat",
		Summary:     "Worker heartbeat",
		Tags:        []string{"Workers"},
	}, h.Heartbeat)

	huma.Register(api, huma.Operation{
		OperationID: "requestWorkerOffline",
		Method:      "POST",
		Path:        "/api/v1/workers/{id}/offline",
		Summary:     "Request worker offline",
		Description: "Marks the worker so the dispatcher refuses it new assignments.",
		Tags:        []string{"Workers"},
	}, h.RequestOffline)

	huma.Register(api, huma.Operation{
		OperationID: "cancelWorkerOffline",
		Method:      "DELETE",
		Path:        "/api/v1/workers/{id}/offline",
		Summary:     "Cancel worker offline request",
		Tags:        []string{"Workers"},
	}, h.CancelOffline)
}

// RegisterWorkerInput is the input for registering a worker.
type RegisterWorkerInput struct {
	Body struct {
		WorkerName string `json:"worker_name" doc:"Unique worker name" minLength:"1" maxLength:"255"`
		WorkerType int    `json:"worker_type" doc:"Encoder class: 0=cpu, 1=nvenc, 2=qsv, 3=vpu" minimum:"0" maximum:"3"`
		SupportVR  bool   `json:"support_vr" doc:"VR capability; only honored for CPU workers"`
	}
}

// RegisterWorkerOutput is the output for registering a worker.
type RegisterWorkerOutput struct {
	Body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			WorkerID string `json:"worker_id"`
		} `json:"data"`
	}
}

// RegisterWorker creates or revives a worker row.
func (h *WorkerHandler) RegisterWorker(ctx context.Context, input *RegisterWorkerInput) (*RegisterWorkerOutput, error) {
	kind := models.WorkerKind(input.Body.WorkerType)
	if !kind.IsValid() {
		return nil, huma.Error400BadRequest(fmt.Sprintf("invalid worker_type %d", input.Body.WorkerType))
	}

	id, err := h.registry.Register(ctx, input.Body.WorkerName, kind, input.Body.SupportVR)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrWorkerNameRequired):
			return nil, huma.Error400BadRequest(err.Error())
		case errors.Is(err, models.ErrWorkerNameTaken):
			return nil, huma.Error409Conflict(err.Error())
		default:
			return nil, huma.Error500InternalServerError("failed to register worker", err)
		}
	}

	resp := &RegisterWorkerOutput{}
	resp.Body.Code = 201
	resp.Body.Message = "registered"
	resp.Body.Data.WorkerID = id.String()
	return resp, nil
}

// ListWorkersInput is the input for listing workers.
type ListWorkersInput struct {
	Page     int `query:"page" default:"1" minimum:"1" doc:"Page number"`
	PageSize int `query:"page_size" default:"50" minimum:"1" maximum:"1000" doc:"Page size"`
}

// ListWorkersOutput is the output for listing workers.
type ListWorkersOutput struct {
	Body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			Workers    []WorkerResponse `json:"workers"`
			Pagination PaginationMeta   `json:"pagination"`
		} `json:"data"`
	}
}

// List returns a worker page with derived statuses.
func (h *WorkerHandler) List(ctx context.Context, input *ListWorkersInput) (*ListWorkersOutput, error) {
	offset := (input.Page - 1) * input.PageSize

	workers, total, err := h.registry.List(ctx, offset, input.PageSize)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list workers", err)
	}

	now := models.Now()
	resp := &ListWorkersOutput{}
	resp.Body.Code = 200
	resp.Body.Message = "ok"
	resp.Body.Data.Workers = make([]WorkerResponse, 0, len(workers))
	for _, w := range workers {
		resp.Body.Data.Workers = append(resp.Body.Data.Workers, WorkerFromModel(w, h.registry.DerivedStatus(w, now)))
	}
	resp.Body.Data.Pagination = NewPaginationMeta(offset, input.PageSize, total)
	return resp, nil
}

// GetWorkerInput is the input for getting a worker.
type GetWorkerInput struct {
	ID string `path:"id" doc:"Worker ID (ULID)"`
}

// GetWorkerOutput is the output for getting a worker.
type GetWorkerOutput struct {
	Body struct {
		Code    int            `json:"code"`
		Message string         `json:"message"`
		Data    WorkerResponse `json:"data"`
	}
}

// Get returns a worker by ID.
func (h *WorkerHandler) Get(ctx context.Context, input *GetWorkerInput) (*GetWorkerOutput, error) {
	worker, err := h.loadWorker(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	resp := &GetWorkerOutput{}
	resp.Body.Code = 200
	resp.Body.Message = "ok"
	resp.Body.Data = WorkerFromModel(worker, h.registry.DerivedStatus(worker, models.Now()))
	return resp, nil
}

// UpdateWorkerInput is the input for updating a worker.
type UpdateWorkerInput struct {
	ID   string `path:"id" doc:"Worker ID (ULID)"`
	Body struct {
		WorkerName *string `json:"worker_name,omitempty" maxLength:"255"`
		WorkerType *int    `json:"worker_type,omitempty" minimum:"0" maximum:"3"`
		SupportVR  *bool   `json:"support_vr,omitempty"`
	}
}

// UpdateWorkerOutput is the output for updating a worker.
type UpdateWorkerOutput struct {
	Body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
}

// Update applies administrative changes to a worker.
func (h *WorkerHandler) Update(ctx context.Context, input *UpdateWorkerInput) (*UpdateWorkerOutput, error) {
	worker, err := h.loadWorker(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	if input.Body.WorkerName != nil {
		worker.Name = *input.Body.WorkerName
	}
	if input.Body.WorkerType != nil {
		kind := models.WorkerKind(*input.Body.WorkerType)
		if !kind.IsValid() {
			return nil, huma.Error400BadRequest(fmt.Sprintf("invalid worker_type %d", *input.Body.WorkerType))
		}
		worker.Kind = kind
	}
	if input.Body.SupportVR != nil {
		worker.SupportsVR = *input.Body.SupportVR
	}

	if err := h.registry.Update(ctx, worker); err != nil {
		return nil, huma.Error500InternalServerError("failed to update worker", err)
	}

	resp := &UpdateWorkerOutput{}
	resp.Body.Code = 200
	resp.Body.Message = "updated"
	return resp, nil
}

// DeleteWorkerInput is the input for deleting a worker.
type DeleteWorkerInput struct {
	ID string `path:"id" doc:"Worker ID (ULID)"`
}

// DeleteWorkerOutput is the output for deleting a worker.
type DeleteWorkerOutput struct {
	Body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
}

// Delete removes a worker row.
func (h *WorkerHandler) Delete(ctx context.Context, input *DeleteWorkerInput) (*DeleteWorkerOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid worker ID", err)
	}

	if err := h.registry.Delete(ctx, id); err != nil {
		if errors.Is(err, models.ErrWorkerNotFound) {
			return nil, huma.Error404NotFound("worker not found")
		}
		return nil, huma.Error500InternalServerError("failed to delete worker", err)
	}

	resp := &DeleteWorkerOutput{}
	resp.Body.Code = 200
	resp.Body.Message = "deleted"
	return resp, nil
}

// HeartbeatInput is the input for a worker heartbeat.
type HeartbeatInput struct {
	Body struct {
		WorkerID   string `json:"worker_id" doc:"Worker ID (ULID)" minLength:"1"`
		WorkerName string `json:"worker_name" doc:"Worker name, verified against the row" minLength:"1"`
	}
}

// HeartbeatOutput is the output for a worker heartbeat.
type HeartbeatOutput struct {
	Body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
}

// Heartbeat stamps a worker's liveness.
func (h *WorkerHandler) Heartbeat(ctx context.Context, input *HeartbeatInput) (*HeartbeatOutput, error) {
	id, err := models.ParseULID(input.Body.WorkerID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid worker ID", err)
	}

	if err := h.registry.Heartbeat(ctx, id, input.Body.WorkerName); err != nil {
		switch {
		case errors.Is(err, models.ErrWorkerNotFound), errors.Is(err, models.ErrWorkerNameMismatch):
			return nil, huma.Error404NotFound("worker not found")
		default:
			return nil, huma.Error500InternalServerError("failed to update heartbeat", err)
		}
	}

	resp := &HeartbeatOutput{}
	resp.Body.Code = 200
	resp.Body.Message = "ok"
	return resp, nil
}

// OfflineRequestInput is the input for requesting a worker offline.
type OfflineRequestInput struct {
	ID   string `path:"id" doc:"Worker ID (ULID)"`
	Body struct {
		Action string `json:"action" doc:"offline = stop taking work, shutdown = exit" enum:"offline,shutdown"`
	}
}

// OfflineRequestOutput is the output for offline requests.
type OfflineRequestOutput struct {
	Body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
}

// RequestOffline records an operator retirement request.
func (h *WorkerHandler) RequestOffline(ctx context.Context, input *OfflineRequestInput) (*OfflineRequestOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid worker ID", err)
	}

	mode := models.OfflineModeSoft
	if input.Body.Action == "shutdown" {
		mode = models.OfflineModeShutdown
	}

	if err := h.registry.RequestOffline(ctx, id, mode); err != nil {
		if errors.Is(err, models.ErrWorkerNotFound) {
			return nil, huma.Error404NotFound("worker not found")
		}
		return nil, huma.Error500InternalServerError("failed to request offline", err)
	}

	resp := &OfflineRequestOutput{}
	resp.Body.Code = 200
	resp.Body.Message = "offline requested"
	return resp, nil
}

// CancelOfflineInput is the input for canceling an offline request.
type CancelOfflineInput struct {
	ID string `path:"id" doc:"Worker ID (ULID)"`
}

// CancelOffline clears a pending offline request.
func (h *WorkerHandler) CancelOffline(ctx context.Context, input *CancelOfflineInput) (*OfflineRequestOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid worker ID", err)
	}

	if err := h.registry.CancelOffline(ctx, id); err != nil {
		if errors.Is(err, models.ErrWorkerNotFound) {
			return nil, huma.Error404NotFound("worker not found")
		}
		return nil, huma.Error500InternalServerError("failed to cancel offline request", err)
	}

	resp := &OfflineRequestOutput{}
	resp.Body.Code = 200
	resp.Body.Message = "offline request cancelled"
	return resp, nil
}

// loadWorker resolves a path ID to a worker row or the matching huma error.
func (h *WorkerHandler) loadWorker(ctx context.Context, rawID string) (*models.Worker, error) {
	id, err := models.ParseULID(rawID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid worker ID", err)
	}
	worker, err := h.registry.Get(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load worker", err)
	}
	if worker == nil {
		return nil, huma.Error404NotFound("worker not found")
	}
	return worker, nil
}
