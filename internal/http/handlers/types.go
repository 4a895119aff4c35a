// Package handlers provides the HTTP API handlers for distconv.
package handlers

import (
	"time"

	"github.com/distconv/distconv/internal/models"
)

// PaginationMeta contains pagination metadata in responses.
type PaginationMeta struct {
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
	TotalItems  int64 `json:"total_items"`
	TotalPages  int64 `json:"total_pages"`
}

// NewPaginationMeta derives page metadata from offset/limit and a total.
func NewPaginationMeta(offset, limit int, total int64) PaginationMeta {
	if limit < 1 {
		limit = 1
	}
	totalPages := total / int64(limit)
	if total%int64(limit) > 0 {
		totalPages++
	}
	return PaginationMeta{
		CurrentPage: (offset / limit) + 1,
		PageSize:    limit,
		TotalItems:  total,
		TotalPages:  totalPages,
	}
}

// WorkerResponse represents a worker in API responses. Status is the
// derived value: a stale heartbeat shows as OFFLINE before the sweep runs.
type WorkerResponse struct {
	WorkerID       string     `json:"worker_id"`
	WorkerName     string     `json:"worker_name"`
	WorkerType     int        `json:"worker_type"`
	SupportVR      bool       `json:"support_vr"`
	Status         int        `json:"status"`
	LastHeartbeat  *time.Time `json:"last_heartbeat,omitempty"`
	CurrentTaskID  string     `json:"current_task_id,omitempty"`
	OfflineRequest int        `json:"offline_request"`
	CreatedAt      time.Time  `json:"created_at"`
}

// WorkerFromModel converts a model to a response with the given derived status.
func WorkerFromModel(w *models.Worker, derived models.WorkerStatus) WorkerResponse {
	resp := WorkerResponse{
		WorkerID:       w.ID.String(),
		WorkerName:     w.Name,
		WorkerType:     int(w.Kind),
		SupportVR:      w.SupportsVR,
		Status:         int(derived),
		LastHeartbeat:  w.LastHeartbeat,
		OfflineRequest: int(w.OfflineRequest),
		CreatedAt:      w.CreatedAt,
	}
	if w.CurrentTaskID != nil {
		resp.CurrentTaskID = w.CurrentTaskID.String()
	}
	return resp
}

// TaskResponse represents a task in API responses.
type TaskResponse struct {
	TaskID           string     `json:"task_id"`
	VideoID          string     `json:"video_id"`
	VideoPath        string     `json:"video_path"`
	DestPath         string     `json:"dest_path,omitempty"`
	WorkerID         string     `json:"worker_id"`
	WorkerName       string     `json:"worker_name"`
	Progress         float64    `json:"progress"`
	Status           int        `json:"status"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	ElapsedTime      int        `json:"elapsed_time"`
	RemainingTime    *int       `json:"remaining_time"`
	StartTime        *time.Time `json:"start_time,omitempty"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	LastUpdateTime   *time.Time `json:"last_update_time,omitempty"`
}

// TaskFromModel converts a model to a response.
func TaskFromModel(t *models.Task) TaskResponse {
	return TaskResponse{
		TaskID:         t.TaskUUID,
		VideoID:        t.VideoID.String(),
		VideoPath:      t.SourcePath,
		DestPath:       t.DestPath,
		WorkerID:       t.WorkerID.String(),
		WorkerName:     t.WorkerName,
		Progress:       t.Progress,
		Status:         int(t.Status),
		ErrorMessage:   t.ErrorMessage,
		ElapsedTime:    t.ElapsedSeconds,
		RemainingTime:  t.RemainingSeconds,
		StartTime:      t.StartTime,
		EndTime:        t.EndTime,
		LastUpdateTime: t.LastUpdateTime,
	}
}

// VideoResponse represents a catalog entry in API responses.
type VideoResponse struct {
	VideoID         string     `json:"video_id"`
	Path            string     `json:"path"`
	Codec           string     `json:"codec"`
	BitrateKbps     int        `json:"bitrate_kbps"`
	Width           int        `json:"width"`
	Height          int        `json:"height"`
	TotalPixels     int        `json:"total_pixels"`
	FPS             float64    `json:"fps"`
	SizeMB          float64    `json:"size_mb"`
	IsVR            bool       `json:"is_vr"`
	FileMtime       *time.Time `json:"file_mtime,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Exists          bool       `json:"exists"`
	TranscodeStatus int        `json:"transcode_status"`
	CurrentTaskID   string     `json:"current_task_id,omitempty"`
}

// VideoFromModel converts a model to a response.
func VideoFromModel(v *models.Video) VideoResponse {
	resp := VideoResponse{
		VideoID:         v.ID.String(),
		Path:            v.Path,
		Codec:           v.Codec,
		BitrateKbps:     v.BitrateKbps,
		Width:           v.Width,
		Height:          v.Height,
		TotalPixels:     v.TotalPixels,
		FPS:             v.FPS,
		SizeMB:          v.SizeMB,
		IsVR:            v.IsVR,
		FileMtime:       v.FileMtime,
		UpdatedAt:       v.UpdatedAt,
		Exists:          v.Exists,
		TranscodeStatus: int(v.TranscodeStatus),
	}
	if v.CurrentTaskID != nil {
		resp.CurrentTaskID = v.CurrentTaskID.String()
	}
	return resp
}

// LogResponse represents an audit record in API responses.
type LogResponse struct {
	LogID      string    `json:"log_id"`
	TaskID     string    `json:"task_id,omitempty"`
	LogTime    time.Time `json:"log_time"`
	LogLevel   int       `json:"log_level"`
	LogMessage string    `json:"log_message"`
}

// LogFromModel converts a model to a response.
func LogFromModel(l *models.TaskLog) LogResponse {
	resp := LogResponse{
		LogID:      l.ID.String(),
		LogTime:    l.CreatedAt,
		LogLevel:   int(l.Level),
		LogMessage: l.Message,
	}
	if l.TaskID != nil {
		resp.TaskID = l.TaskID.String()
	}
	return resp
}
