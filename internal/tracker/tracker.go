// Package tracker drives the task state machine from worker progress
// updates and owns the cascade that downgrades a task together with its
// video and worker.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/distconv/distconv/internal/events"
	"github.com/distconv/distconv/internal/models"
	"github.com/distconv/distconv/internal/repository"
)

// UpdateRequest is a worker-initiated progress report.
type UpdateRequest struct {
	TaskUUID         string
	WorkerID         models.ULID
	Progress         float64
	Status           models.TaskStatus
	ElapsedSeconds   *int
	RemainingSeconds *int
	ErrorMessage     string
}

// Tracker applies progress updates inside single transactions and publishes
// lifecycle events after commit.
type Tracker struct {
	db     *gorm.DB
	bus    *events.Bus
	logger *slog.Logger
}

// New creates a Tracker.
func New(db *gorm.DB, bus *events.Bus, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{db: db, bus: bus, logger: logger}
}

// HandleUpdate validates and applies one progress report. The whole
// mutation is transactional; events are published only after commit and a
// publish failure never rolls the store write back.
func (t *Tracker) HandleUpdate(ctx context.Context, req UpdateRequest) (*models.Task, error) {
	if !req.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %d", models.ErrIllegalTransition, req.Status)
	}

	var updated *models.Task
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tasks := repository.NewTaskRepository(tx)
		videos := repository.NewVideoRepository(tx)
		workers := repository.NewWorkerRepository(tx)
		logs := repository.NewTaskLogRepository(tx)

		task, err := tasks.GetByUUIDForUpdate(ctx, req.TaskUUID)
		if err != nil {
			return err
		}
		if task == nil {
			return models.ErrTaskNotFound
		}
		if task.WorkerID != req.WorkerID {
			return models.ErrTaskWorkerMismatch
		}
		if !task.Status.CanTransitionTo(req.Status) {
			return fmt.Errorf("%w: %s -> %s", models.ErrIllegalTransition, task.Status, req.Status)
		}

		now := models.Now()

		// A reporting worker is by definition alive; refresh its heartbeat
		// alongside the progress write.
		worker, err := workers.GetByIDForUpdate(ctx, req.WorkerID)
		if err != nil {
			return err
		}
		if worker != nil {
			worker.LastHeartbeat = &now
		}

		video, err := videos.GetByID(ctx, task.VideoID)
		if err != nil {
			return err
		}

		switch req.Status {
		case models.TaskStatusCreated, models.TaskStatusRunning:
			task.Status = req.Status
			task.Progress = req.Progress
			if req.ElapsedSeconds != nil {
				task.ElapsedSeconds = *req.ElapsedSeconds
			}
			task.RemainingSeconds = req.RemainingSeconds
			task.LastUpdateTime = &now
			if video != nil && video.TranscodeStatus != models.VideoStatusRunning {
				video.TranscodeStatus = models.VideoStatusRunning
				if err := videos.Update(ctx, video); err != nil {
					return err
				}
			}

		case models.TaskStatusCompleted:
			if req.ElapsedSeconds != nil {
				task.ElapsedSeconds = *req.ElapsedSeconds
			}
			task.MarkCompleted()
			if video != nil {
				video.TranscodeStatus = models.VideoStatusCompleted
				video.CurrentTaskID = nil
				if err := videos.Update(ctx, video); err != nil {
					return err
				}
			}
			if worker != nil && worker.CurrentTaskID != nil && *worker.CurrentTaskID == task.ID {
				worker.Status = models.WorkerStatusIdle
				worker.CurrentTaskID = nil
			}

		case models.TaskStatusFailed:
			if req.ElapsedSeconds != nil {
				task.ElapsedSeconds = *req.ElapsedSeconds
			}
			task.MarkFailed(req.ErrorMessage)
			if video != nil {
				video.TranscodeStatus = models.VideoStatusFailed
				video.CurrentTaskID = nil
				if err := videos.Update(ctx, video); err != nil {
					return err
				}
			}
			if worker != nil && worker.CurrentTaskID != nil && *worker.CurrentTaskID == task.ID {
				worker.Status = models.WorkerStatusIdle
				worker.CurrentTaskID = nil
			}
			if req.ErrorMessage != "" {
				entry := &models.TaskLog{
					TaskID:  &task.ID,
					Level:   models.LogLevelError,
					Message: req.ErrorMessage,
				}
				if err := logs.Create(ctx, entry); err != nil {
					return err
				}
			}
		}

		if worker != nil {
			if err := workers.Update(ctx, worker); err != nil {
				return err
			}
		}
		if err := tasks.Update(ctx, task); err != nil {
			return err
		}

		updated = task
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.publishUpdate(updated)
	return updated, nil
}

// publishUpdate emits the post-commit events for an accepted update.
func (t *Tracker) publishUpdate(task *models.Task) {
	if t.bus == nil {
		return
	}
	t.bus.PublishTask(events.EventTaskUpdated, task)
	switch task.Status {
	case models.TaskStatusCompleted:
		t.bus.PublishTask(events.EventTaskCompleted, task)
	case models.TaskStatusFailed:
		t.bus.PublishTask(events.EventTaskFailed, task)
	}
}

// CascadeFail moves a live task to FAILED inside the given transaction and
// restores the video's side of the linkage. When workerStatus is non-nil
// the task's worker is released into that status; callers that mutate the
// worker row themselves pass nil.
//
// The function is idempotent: a task that is already terminal is left
// untouched and reported as not cascaded.
func CascadeFail(ctx context.Context, tx *gorm.DB, task *models.Task, message string, workerStatus *models.WorkerStatus) (bool, error) {
	if task == nil || task.IsFinished() {
		return false, nil
	}

	videos := repository.NewVideoRepository(tx)
	workers := repository.NewWorkerRepository(tx)
	tasks := repository.NewTaskRepository(tx)

	task.MarkFailed(message)
	if err := tasks.Update(ctx, task); err != nil {
		return false, err
	}

	video, err := videos.GetByID(ctx, task.VideoID)
	if err != nil {
		return false, err
	}
	if video != nil && video.CurrentTaskID != nil && *video.CurrentTaskID == task.ID {
		video.TranscodeStatus = models.VideoStatusFailed
		video.CurrentTaskID = nil
		if err := videos.Update(ctx, video); err != nil {
			return false, err
		}
	}

	if workerStatus != nil {
		worker, err := workers.GetByIDForUpdate(ctx, task.WorkerID)
		if err != nil {
			return false, err
		}
		if worker != nil && worker.CurrentTaskID != nil && *worker.CurrentTaskID == task.ID {
			worker.Status = *workerStatus
			worker.CurrentTaskID = nil
			if err := workers.Update(ctx, worker); err != nil {
				return false, err
			}
		}
	}

	return true, nil
}

// FailTask loads the task by UUID and cascade-fails it in its own
// transaction, releasing the worker into IDLE, and appends an ERROR log
// entry with the message. The eventName names the bus event to publish
// after commit.
func (t *Tracker) FailTask(ctx context.Context, taskUUID, message, eventName string) error {
	var failed *models.Task
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tasks := repository.NewTaskRepository(tx)
		logs := repository.NewTaskLogRepository(tx)

		task, err := tasks.GetByUUIDForUpdate(ctx, taskUUID)
		if err != nil {
			return err
		}
		if task == nil {
			return models.ErrTaskNotFound
		}

		idle := models.WorkerStatusIdle
		cascaded, err := CascadeFail(ctx, tx, task, message, &idle)
		if err != nil {
			return err
		}
		if !cascaded {
			return nil
		}

		entry := &models.TaskLog{TaskID: &task.ID, Level: models.LogLevelError, Message: message}
		if err := logs.Create(ctx, entry); err != nil {
			return err
		}

		failed = task
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrTaskNotFound) {
			return err
		}
		return fmt.Errorf("failing task %s: %w", taskUUID, err)
	}

	if failed != nil && t.bus != nil {
		t.bus.PublishTask(eventName, failed)
	}
	return nil
}
