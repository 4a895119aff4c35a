package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"
	"gorm.io/gorm"

	"github.com/distconv/distconv/internal/dispatch"
	"github.com/distconv/distconv/internal/models"
	"github.com/distconv/distconv/internal/repository"
	"github.com/distconv/distconv/internal/tracker"
)

// TaskHandler handles task API endpoints.
type TaskHandler struct {
	db         *gorm.DB
	dispatcher *dispatch.Dispatcher
	tracker    *tracker.Tracker
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(db *gorm.DB, dispatcher *dispatch.Dispatcher, tr *tracker.Tracker) *TaskHandler {
	return &TaskHandler{db: db, dispatcher: dispatcher, tracker: tr}
}

// Register registers the task routes with the API.
func (h *TaskHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "createTask",
		Method:        "POST",
		Path:          "/api/v1/tasks",
		Summary:       "Request a task",
		Description:   "Assigns the next candidate video to the requesting worker. Responds 205 when the worker should go offline instead.",
		Tags:          []string{"Tasks"},
		DefaultStatus: 201,
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "listTasks",
		Method:      "GET",
		Path:        "/api/v1/tasks",
		Summary:     "List tasks",
		Tags:        []string{"Tasks"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getTask",
		Method:      "GET",
		Path:        "/api/v1/tasks/{task_id}",
		Summary:     "Get task",
		Tags:        []string{"Tasks"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "updateTask",
		Method:      "PATCH",
		Path:        "/api/v1/tasks/{task_id}",
		Summary:     "Report task progress",
		Description: "Applies a worker progress update to the task state machine.",
		Tags:        []string{"Tasks"},
	}, h.Patch)
}

// CreateTaskInput is the input for requesting a task.
type CreateTaskInput struct {
	Body struct {
		WorkerID   string `json:"worker_id" doc:"Worker ID (ULID)" minLength:"1"`
		WorkerType int    `json:"worker_type" doc:"Declared encoder class: 0=cpu, 1=nvenc, 2=qsv, 3=vpu" minimum:"0" maximum:"3"`
		SupportVR  bool   `json:"support_vr" doc:"Declared VR capability"`
		DestPath   string `json:"dest_path,omitempty" doc:"Optional destination directory" maxLength:"1024"`
	}
}

// CreateTaskData is the assignment payload; Action is set on 205 responses.
type CreateTaskData struct {
	TaskID    string `json:"task_id,omitempty"`
	VideoPath string `json:"video_path,omitempty"`
	Action    string `json:"action,omitempty"`
}

// CreateTaskOutput is the output for requesting a task.
type CreateTaskOutput struct {
	Status int
	Body   struct {
		Code    int            `json:"code"`
		Message string         `json:"message"`
		Data    CreateTaskData `json:"data"`
	}
}

// Create dispatches the next candidate video to the worker.
func (h *TaskHandler) Create(ctx context.Context, input *CreateTaskInput) (*CreateTaskOutput, error) {
	workerID, err := models.ParseULID(input.Body.WorkerID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid worker ID", err)
	}
	kind := models.WorkerKind(input.Body.WorkerType)
	if !kind.IsValid() {
		return nil, huma.Error400BadRequest(fmt.Sprintf("invalid worker_type %d", input.Body.WorkerType))
	}

	assignment, err := h.dispatcher.Dispatch(ctx, dispatch.Request{
		WorkerID:   workerID,
		Kind:       kind,
		SupportsVR: input.Body.SupportVR,
		DestPath:   input.Body.DestPath,
	})
	if err != nil {
		var offline *dispatch.OfflineError
		switch {
		case errors.As(err, &offline):
			resp := &CreateTaskOutput{Status: 205}
			resp.Body.Code = 205
			resp.Body.Message = "worker should go offline"
			resp.Body.Data.Action = offline.Mode.String()
			return resp, nil
		case errors.Is(err, models.ErrWorkerNotFound):
			return nil, huma.Error404NotFound("worker not found")
		case errors.Is(err, models.ErrNoCandidate):
			return nil, huma.Error404NotFound("no videos waiting for transcode")
		default:
			return nil, huma.Error500InternalServerError("failed to dispatch task", err)
		}
	}

	resp := &CreateTaskOutput{Status: 201}
	resp.Body.Code = 201
	resp.Body.Message = "task created"
	resp.Body.Data.TaskID = assignment.TaskUUID
	resp.Body.Data.VideoPath = assignment.SourcePath
	return resp, nil
}

// ListTasksInput is the input for listing tasks.
type ListTasksInput struct {
	Status   []int  `query:"status" doc:"Task status codes to include"`
	WorkerID string `query:"worker_id" doc:"Filter by worker ID (ULID)"`
	Page     int    `query:"page" default:"1" minimum:"1" doc:"Page number"`
	PageSize int    `query:"page_size" default:"50" minimum:"1" maximum:"1000" doc:"Page size"`
	SortBy   string `query:"sort_by" default:"created_at" enum:"created_at,start_time,progress,status" doc:"Sort column"`
	Order    string `query:"order" default:"desc" enum:"asc,desc" doc:"Sort direction"`
}

// ListTasksOutput is the output for listing tasks.
type ListTasksOutput struct {
	Body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			Tasks      []TaskResponse `json:"tasks"`
			Pagination PaginationMeta `json:"pagination"`
		} `json:"data"`
	}
}

// List returns tasks matching the filters.
func (h *TaskHandler) List(ctx context.Context, input *ListTasksInput) (*ListTasksOutput, error) {
	filter := repository.TaskFilter{
		SortBy: input.SortBy,
		Order:  input.Order,
		Offset: (input.Page - 1) * input.PageSize,
		Limit:  input.PageSize,
	}
	for _, code := range input.Status {
		status := models.TaskStatus(code)
		if !status.IsValid() {
			return nil, huma.Error400BadRequest(fmt.Sprintf("invalid status %d", code))
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if input.WorkerID != "" {
		id, err := models.ParseULID(input.WorkerID)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid worker ID", err)
		}
		filter.WorkerID = &id
	}

	tasks, total, err := repository.NewTaskRepository(h.db).List(ctx, filter)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list tasks", err)
	}

	resp := &ListTasksOutput{}
	resp.Body.Code = 200
	resp.Body.Message = "ok"
	resp.Body.Data.Tasks = make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		resp.Body.Data.Tasks = append(resp.Body.Data.Tasks, TaskFromModel(t))
	}
	resp.Body.Data.Pagination = NewPaginationMeta(filter.Offset, input.PageSize, total)
	return resp, nil
}

// GetTaskInput is the input for getting a task.
type GetTaskInput struct {
	TaskID string `path:"task_id" doc:"External task identifier (UUID)"`
}

// GetTaskOutput is the output for getting a task.
type GetTaskOutput struct {
	Body struct {
		Code    int          `json:"code"`
		Message string       `json:"message"`
		Data    TaskResponse `json:"data"`
	}
}

// Get returns a task by its external identifier.
func (h *TaskHandler) Get(ctx context.Context, input *GetTaskInput) (*GetTaskOutput, error) {
	task, err := repository.NewTaskRepository(h.db).GetByUUID(ctx, input.TaskID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load task", err)
	}
	if task == nil {
		return nil, huma.Error404NotFound("task not found")
	}

	resp := &GetTaskOutput{}
	resp.Body.Code = 200
	resp.Body.Message = "ok"
	resp.Body.Data = TaskFromModel(task)
	return resp, nil
}

// PatchTaskInput is the input for a progress update.
type PatchTaskInput struct {
	TaskID string `path:"task_id" doc:"External task identifier (UUID)"`
	Body   struct {
		WorkerID      string  `json:"worker_id" doc:"Reporting worker ID (ULID)" minLength:"1"`
		Progress      float64 `json:"progress" doc:"Completion percentage" minimum:"0" maximum:"100"`
		Status        int     `json:"status" doc:"Task status code: 0=created, 1=running, 2=completed, 3=failed" minimum:"0" maximum:"3"`
		ElapsedTime   *int    `json:"elapsed_time,omitempty" doc:"Elapsed transcode seconds"`
		RemainingTime *int    `json:"remaining_time,omitempty" doc:"Estimated remaining seconds"`
		ErrorMessage  string  `json:"error_message,omitempty" doc:"Failure description" maxLength:"1023"`
	}
}

// PatchTaskOutput is the output for a progress update.
type PatchTaskOutput struct {
	Body struct {
		Code    int          `json:"code"`
		Message string       `json:"message"`
		Data    TaskResponse `json:"data"`
	}
}

// Patch applies a worker progress update.
func (h *TaskHandler) Patch(ctx context.Context, input *PatchTaskInput) (*PatchTaskOutput, error) {
	workerID, err := models.ParseULID(input.Body.WorkerID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid worker ID", err)
	}

	task, err := h.tracker.HandleUpdate(ctx, tracker.UpdateRequest{
		TaskUUID:         input.TaskID,
		WorkerID:         workerID,
		Progress:         input.Body.Progress,
		Status:           models.TaskStatus(input.Body.Status),
		ElapsedSeconds:   input.Body.ElapsedTime,
		RemainingSeconds: input.Body.RemainingTime,
		ErrorMessage:     input.Body.ErrorMessage,
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrTaskNotFound):
			return nil, huma.Error404NotFound("task not found")
		case errors.Is(err, models.ErrTaskWorkerMismatch):
			return nil, huma.Error409Conflict(err.Error())
		case errors.Is(err, models.ErrIllegalTransition):
			return nil, huma.Error400BadRequest(err.Error())
		default:
			return nil, huma.Error500InternalServerError("failed to update task", err)
		}
	}

	resp := &PatchTaskOutput{}
	resp.Body.Code = 200
	resp.Body.Message = "updated"
	resp.Body.Data = TaskFromModel(task)
	return resp, nil
}
