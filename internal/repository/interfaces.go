// Package repository provides data access layers for distconv entities.
package repository

import (
	"context"
	"time"

	"github.com/distconv/distconv/internal/models"
)

// CandidateFilter narrows the dispatcher's video selection.
type CandidateFilter struct {
	// Statuses are the transcode statuses a worker may pick up.
	Statuses []models.VideoStatus

	// IsVR selects the VR or the flat pool; the pools never mix.
	IsVR bool

	// HardwareOnly restricts to h264 at or below 1080p31, the only
	// candidates hardware encoders take.
	HardwareOnly bool
}

// VideoFilter narrows video listings.
type VideoFilter struct {
	Statuses   []models.VideoStatus
	IsVR       *bool
	Codecs     []string
	MinBitrate *int
	MaxBitrate *int
	MinSizeMB  *float64
	MaxSizeMB  *float64
	SortBy     string
	Order      string
	Offset     int
	Limit      int
}

// TaskFilter narrows task listings.
type TaskFilter struct {
	Statuses []models.TaskStatus
	WorkerID *models.ULID
	SortBy   string
	Order    string
	Offset   int
	Limit    int
}

// LogFilter narrows task log listings.
type LogFilter struct {
	Levels    []models.LogLevel
	TaskID    *models.ULID
	StartTime *time.Time
	EndTime   *time.Time
	Order     string
	Offset    int
	Limit     int
}

// VideoRepository manages catalog entries.
type VideoRepository interface {
	Create(ctx context.Context, video *models.Video) error
	GetByID(ctx context.Context, id models.ULID) (*models.Video, error)
	GetByPath(ctx context.Context, path string) (*models.Video, error)
	List(ctx context.Context, filter VideoFilter) ([]*models.Video, int64, error)
	Update(ctx context.Context, video *models.Video) error

	// MarkAllMissing tentatively flips every row's existence flag off at the
	// start of a scan; the walk flips back the rows it still finds.
	MarkAllMissing(ctx context.Context) error

	// AcquireCandidate selects the highest-bitrate candidate under a row
	// lock. Must run inside a transaction; returns nil when no row matches.
	AcquireCandidate(ctx context.Context, filter CandidateFilter) (*models.Video, error)
}

// TaskRepository manages transcode task rows.
type TaskRepository interface {
	Create(ctx context.Context, task *models.Task) error
	GetByID(ctx context.Context, id models.ULID) (*models.Task, error)
	GetByUUID(ctx context.Context, taskUUID string) (*models.Task, error)

	// GetByUUIDForUpdate locks the task row for the current transaction.
	GetByUUIDForUpdate(ctx context.Context, taskUUID string) (*models.Task, error)

	List(ctx context.Context, filter TaskFilter) ([]*models.Task, int64, error)
	Update(ctx context.Context, task *models.Task) error

	// ListStalled returns RUNNING tasks whose last update is older than the
	// stall timeout at the given instant.
	ListStalled(ctx context.Context, now time.Time, stallTimeout time.Duration) ([]*models.Task, error)
}

// WorkerRepository manages fleet member rows.
type WorkerRepository interface {
	Create(ctx context.Context, worker *models.Worker) error
	GetByID(ctx context.Context, id models.ULID) (*models.Worker, error)

	// GetByIDForUpdate locks the worker row for the current transaction.
	GetByIDForUpdate(ctx context.Context, id models.ULID) (*models.Worker, error)

	GetByName(ctx context.Context, name string) (*models.Worker, error)
	List(ctx context.Context, offset, limit int) ([]*models.Worker, int64, error)
	Update(ctx context.Context, worker *models.Worker) error
	Delete(ctx context.Context, id models.ULID) error

	// ListExpired returns non-OFFLINE workers whose heartbeat is older than
	// the timeout at the given instant.
	ListExpired(ctx context.Context, now time.Time, timeout time.Duration) ([]*models.Worker, error)
}

// TaskLogRepository manages append-only audit records.
type TaskLogRepository interface {
	Create(ctx context.Context, entry *models.TaskLog) error
	List(ctx context.Context, filter LogFilter) ([]*models.TaskLog, int64, error)
}
