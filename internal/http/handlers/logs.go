package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"gorm.io/gorm"

	"github.com/distconv/distconv/internal/models"
	"github.com/distconv/distconv/internal/repository"
)

// LogsHandler handles audit log API endpoints.
type LogsHandler struct {
	db *gorm.DB
}

// NewLogsHandler creates a new logs handler.
func NewLogsHandler(db *gorm.DB) *LogsHandler {
	return &LogsHandler{db: db}
}

// Register registers the log routes with the API.
func (h *LogsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listLogs",
		Method:      "GET",
		Path:        "/api/v1/logs",
		Summary:     "List log entries",
		Tags:        []string{"Logs"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID:   "createLog",
		Method:        "POST",
		Path:          "/api/v1/logs",
		Summary:       "Append log entry",
		Description:   "Lets workers attach audit records to their tasks.",
		Tags:          []string{"Logs"},
		DefaultStatus: 201,
	}, h.Create)
}

// ListLogsInput is the input for listing log entries.
type ListLogsInput struct {
	LogLevel  []int  `query:"log_level" doc:"Log level codes to include: 0=debug, 1=info, 2=warn, 3=error"`
	TaskID    string `query:"task_id" doc:"Filter by external task identifier (UUID)"`
	StartTime string `query:"start_time" doc:"Inclusive lower bound (RFC 3339)"`
	EndTime   string `query:"end_time" doc:"Inclusive upper bound (RFC 3339)"`
	Page      int    `query:"page" default:"1" minimum:"1" doc:"Page number"`
	PageSize  int    `query:"page_size" default:"50" minimum:"1" maximum:"1000" doc:"Page size"`
	Order     string `query:"order" default:"desc" enum:"asc,desc" doc:"Sort direction by time"`
}

// ListLogsOutput is the output for listing log entries.
type ListLogsOutput struct {
	Body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			Logs       []LogResponse  `json:"logs"`
			Pagination PaginationMeta `json:"pagination"`
		} `json:"data"`
	}
}

// List returns audit records matching the filters.
func (h *LogsHandler) List(ctx context.Context, input *ListLogsInput) (*ListLogsOutput, error) {
	filter := repository.LogFilter{
		Order:  input.Order,
		Offset: (input.Page - 1) * input.PageSize,
		Limit:  input.PageSize,
	}
	for _, code := range input.LogLevel {
		level := models.LogLevel(code)
		if !level.IsValid() {
			return nil, huma.Error400BadRequest(fmt.Sprintf("invalid log_level %d", code))
		}
		filter.Levels = append(filter.Levels, level)
	}
	if input.TaskID != "" {
		task, err := repository.NewTaskRepository(h.db).GetByUUID(ctx, input.TaskID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to resolve task", err)
		}
		if task == nil {
			return nil, huma.Error404NotFound("task not found")
		}
		filter.TaskID = &task.ID
	}
	if input.StartTime != "" {
		t, err := time.Parse(time.RFC3339, input.StartTime)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid start_time", err)
		}
		filter.StartTime = &t
	}
	if input.EndTime != "" {
		t, err := time.Parse(time.RFC3339, input.EndTime)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid end_time", err)
		}
		filter.EndTime = &t
	}

	entries, total, err := repository.NewTaskLogRepository(h.db).List(ctx, filter)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list logs", err)
	}

	resp := &ListLogsOutput{}
	resp.Body.Code = 200
	resp.Body.Message = "ok"
	resp.Body.Data.Logs = make([]LogResponse, 0, len(entries))
	for _, e := range entries {
		resp.Body.Data.Logs = append(resp.Body.Data.Logs, LogFromModel(e))
	}
	resp.Body.Data.Pagination = NewPaginationMeta(filter.Offset, input.PageSize, total)
	return resp, nil
}

// CreateLogInput is the input for appending a log entry.
type CreateLogInput struct {
	Body struct {
		TaskID     string `json:"task_id,omitempty" doc:"External task identifier (UUID); omit for coordinator-level entries"`
		LogLevel   int    `json:"log_level" doc:"Log level code: 0=debug, 1=info, 2=warn, 3=error" minimum:"0" maximum:"3"`
		LogMessage string `json:"log_message" doc:"Message text" minLength:"1" maxLength:"1023"`
	}
}

// CreateLogOutput is the output for appending a log entry.
type CreateLogOutput struct {
	Body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
}

// Create appends an audit record.
func (h *LogsHandler) Create(ctx context.Context, input *CreateLogInput) (*CreateLogOutput, error) {
	level := models.LogLevel(input.Body.LogLevel)
	if !level.IsValid() {
		return nil, huma.Error400BadRequest(fmt.Sprintf("invalid log_level %d", input.Body.LogLevel))
	}

	entry := &models.TaskLog{
		Level:   level,
		Message: input.Body.LogMessage,
	}
	if input.Body.TaskID != "" {
		task, err := repository.NewTaskRepository(h.db).GetByUUID(ctx, input.Body.TaskID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to resolve task", err)
		}
		if task == nil {
			return nil, huma.Error404NotFound("task not found")
		}
		entry.TaskID = &task.ID
	}

	if err := repository.NewTaskLogRepository(h.db).Create(ctx, entry); err != nil {
		return nil, huma.Error500InternalServerError("failed to create log entry", err)
	}

	resp := &CreateLogOutput{}
	resp.Body.Code = 201
	resp.Body.Message = "created"
	return resp, nil
}
