// Package dispatch matches pending videos to requesting workers under
// capability and quality constraints.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/distconv/distconv/internal/events"
	"github.com/distconv/distconv/internal/models"
	"github.com/distconv/distconv/internal/repository"
)

// Request is a worker's ask for its next task.
type Request struct {
	WorkerID models.ULID

	// Kind and SupportsVR are the worker's declared capabilities for this
	// request; they may differ from the registered row after a re-register.
	Kind       models.WorkerKind
	SupportsVR bool

	// DestPath is an optional destination directory chosen by the worker.
	DestPath string
}

// Assignment is a successful dispatch result.
type Assignment struct {
	TaskUUID   string
	SourcePath string
	DestPath   string
}

// OfflineError signals that the worker must retire instead of taking work.
type OfflineError struct {
	Mode models.OfflineMode
}

func (e *OfflineError) Error() string {
	return "worker must go " + e.Mode.String()
}

// Dispatcher assigns candidate videos to workers.
type Dispatcher struct {
	db     *gorm.DB
	bus    *events.Bus
	logger *slog.Logger
}

// New creates a Dispatcher.
func New(db *gorm.DB, bus *events.Bus, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{db: db, bus: bus, logger: logger}
}

// Dispatch assigns the next candidate in a single transaction: load and
// verify the worker, select the highest-bitrate candidate the declared
// capabilities allow, create the task, and flip video and worker onto it.
//
// Returns models.ErrWorkerNotFound, *OfflineError, or models.ErrNoCandidate
// on the empty paths.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Assignment, error) {
	// Asking for work proves liveness regardless of the outcome, so the
	// heartbeat stamp commits on its own before the assignment transaction.
	workers := repository.NewWorkerRepository(d.db)
	worker, err := workers.GetByID(ctx, req.WorkerID)
	if err != nil {
		return nil, err
	}
	if worker == nil {
		return nil, models.ErrWorkerNotFound
	}
	now := models.Now()
	worker.LastHeartbeat = &now
	if err := workers.Update(ctx, worker); err != nil {
		return nil, err
	}

	if worker.OfflineRequest != models.OfflineModeNone {
		return nil, &OfflineError{Mode: worker.OfflineRequest}
	}

	var created *models.Task

	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		workers := repository.NewWorkerRepository(tx)
		videos := repository.NewVideoRepository(tx)
		tasks := repository.NewTaskRepository(tx)

		worker, err := workers.GetByIDForUpdate(ctx, req.WorkerID)
		if err != nil {
			return err
		}
		if worker == nil {
			return models.ErrWorkerNotFound
		}
		now := models.Now()

		statuses := []models.VideoStatus{models.VideoStatusWait}
		if req.Kind.RetriesFailures() {
			statuses = append(statuses, models.VideoStatusFailed)
		}

		filter := repository.CandidateFilter{
			Statuses:     statuses,
			IsVR:         req.Kind == models.WorkerKindCPU && req.SupportsVR,
			HardwareOnly: req.Kind != models.WorkerKindCPU,
		}

		video, err := videos.AcquireCandidate(ctx, filter)
		if err != nil {
			return err
		}
		if video == nil {
			return models.ErrNoCandidate
		}

		task := &models.Task{
			TaskUUID:       uuid.NewString(),
			VideoID:        video.ID,
			WorkerID:       worker.ID,
			WorkerName:     worker.Name,
			SourcePath:     video.Path,
			DestPath:       req.DestPath,
			Status:         models.TaskStatusRunning,
			Progress:       0,
			StartTime:      &now,
			LastUpdateTime: &now,
		}
		if err := tasks.Create(ctx, task); err != nil {
			return err
		}

		video.TranscodeStatus = models.VideoStatusCreated
		video.CurrentTaskID = &task.ID
		if err := videos.Update(ctx, video); err != nil {
			return err
		}

		worker.Status = models.WorkerStatusBusy
		worker.CurrentTaskID = &task.ID
		if err := workers.Update(ctx, worker); err != nil {
			return err
		}

		created = task
		return nil
	})
	if err != nil {
		return nil, err
	}

	if d.bus != nil {
		d.bus.PublishTask(events.EventTaskCreated, created)
	}

	d.logger.Info("task dispatched",
		slog.String("task_id", created.TaskUUID),
		slog.String("worker", created.WorkerName),
		slog.String("video", created.SourcePath),
	)

	return &Assignment{
		TaskUUID:   created.TaskUUID,
		SourcePath: created.SourcePath,
		DestPath:   created.DestPath,
	}, nil
}
