package models

import (
	"time"
)

// TaskStatus is the lifecycle state of a transcode task.
// The numeric values are part of the API contract.
type TaskStatus int

const (
	// TaskStatusCreated indicates the task exists but the worker has not
	// reported progress yet.
	TaskStatusCreated TaskStatus = 0
	// TaskStatusRunning indicates the worker is transcoding.
	TaskStatusRunning TaskStatus = 1
	// TaskStatusCompleted indicates the transcode finished successfully.
	TaskStatusCompleted TaskStatus = 2
	// TaskStatusFailed indicates the transcode failed or was terminated.
	TaskStatusFailed TaskStatus = 3
)

// String returns the human-readable name of the status.
func (s TaskStatus) String() string {
	switch s {
	case TaskStatusCreated:
		return "created"
	case TaskStatusRunning:
		return "running"
	case TaskStatusCompleted:
		return "completed"
	case TaskStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsValid reports whether s is a known task status code.
func (s TaskStatus) IsValid() bool {
	return s >= TaskStatusCreated && s <= TaskStatusFailed
}

// IsTerminal reports whether the status is sticky.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransitionTo reports whether moving from s to next is a legal task
// transition: CREATED→RUNNING, RUNNING→{COMPLETED,FAILED}, and
// CREATED→FAILED for workers that abort before the first progress report.
// Re-reporting the current non-terminal status is allowed.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case TaskStatusCreated:
		return next == TaskStatusCreated || next == TaskStatusRunning || next == TaskStatusFailed
	case TaskStatusRunning:
		return next == TaskStatusRunning || next == TaskStatusCompleted || next == TaskStatusFailed
	default:
		return false
	}
}

// Task is one attempt to transcode one video by one worker.
type Task struct {
	BaseModel

	// TaskUUID is the external task identifier handed to workers.
	TaskUUID string `gorm:"not null;size:36;uniqueIndex" json:"task_uuid"`

	VideoID  ULID `gorm:"not null;type:varchar(26);index" json:"video_id"`
	WorkerID ULID `gorm:"not null;type:varchar(26);index" json:"worker_id"`

	// WorkerName is a snapshot of the worker name at dispatch time; it
	// survives worker renames and deletions.
	WorkerName string `gorm:"size:255" json:"worker_name"`

	// SourcePath is a snapshot of the video path at dispatch time.
	SourcePath string `gorm:"size:1024" json:"source_path"`

	// DestPath is the output location chosen by the worker, if any.
	DestPath string `gorm:"size:1024" json:"dest_path,omitempty"`

	Status TaskStatus `gorm:"default:0;index" json:"status"`

	// Progress is the transcode completion percentage in [0,100].
	Progress float64 `gorm:"default:0" json:"progress"`

	StartTime *time.Time `json:"start_time,omitempty"`

	// EndTime is set iff the task is in a terminal status.
	EndTime *time.Time `json:"end_time,omitempty"`

	// ElapsedSeconds is the worker-reported transcode wall time.
	ElapsedSeconds int `gorm:"default:0" json:"elapsed_seconds"`

	// RemainingSeconds is the worker's estimate; nil when unknown or failed,
	// zero on completion.
	RemainingSeconds *int `json:"remaining_seconds,omitempty"`

	// LastUpdateTime advances on every accepted progress update; the task
	// sweep fails tasks whose LastUpdateTime has gone stale.
	LastUpdateTime *time.Time `gorm:"index" json:"last_update_time,omitempty"`

	ErrorMessage string `gorm:"size:1023" json:"error_message,omitempty"`
}

// TableName returns the table name for Task.
func (Task) TableName() string {
	return "tasks"
}

// IsFinished reports whether the task reached a terminal status.
func (t *Task) IsFinished() bool {
	return t.Status.IsTerminal()
}

// MarkCompleted stamps the terminal completed state.
func (t *Task) MarkCompleted() {
	now := Now()
	zero := 0
	t.Status = TaskStatusCompleted
	t.Progress = 100
	t.EndTime = &now
	t.RemainingSeconds = &zero
	t.LastUpdateTime = &now
}

// MarkFailed stamps the terminal failed state with the given message.
func (t *Task) MarkFailed(message string) {
	now := Now()
	t.Status = TaskStatusFailed
	t.EndTime = &now
	t.RemainingSeconds = nil
	t.ErrorMessage = message
	t.LastUpdateTime = &now
}
