// Package monitor sweeps for expired heartbeats and stalled tasks and
// cascades the resulting failures.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/distconv/distconv/internal/events"
	"github.com/distconv/distconv/internal/models"
	"github.com/distconv/distconv/internal/repository"
	"github.com/distconv/distconv/internal/tracker"
)

// Canonical cascade messages.
const (
	WorkerOfflineMessage = "Worker offline, task terminated"
	TaskStalledMessage   = "Task exceeded 60s without update"
)

// Monitor runs the two liveness sweeps. Each worker or task it touches gets
// its own transaction, so the sweeps are idempotent and safe to interleave.
type Monitor struct {
	db               *gorm.DB
	bus              *events.Bus
	heartbeatTimeout time.Duration
	taskStallTimeout time.Duration
	logger           *slog.Logger
}

// New creates a Monitor.
func New(db *gorm.DB, bus *events.Bus, heartbeatTimeout, taskStallTimeout time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		db:               db,
		bus:              bus,
		heartbeatTimeout: heartbeatTimeout,
		taskStallTimeout: taskStallTimeout,
		logger:           logger,
	}
}

// SweepWorkers declares silent workers OFFLINE and cascade-fails the task
// each one was holding. Per-row errors are logged and the sweep continues.
func (m *Monitor) SweepWorkers(ctx context.Context) {
	now := models.Now()

	expired, err := repository.NewWorkerRepository(m.db).ListExpired(ctx, now, m.heartbeatTimeout)
	if err != nil {
		m.logger.Error("listing expired workers", slog.String("error", err.Error()))
		return
	}

	for _, candidate := range expired {
		if err := m.sweepWorker(ctx, candidate.ID); err != nil {
			m.logger.Error("sweeping worker",
				slog.String("worker", candidate.Name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// sweepWorker handles one expired worker in its own transaction. The row is
// re-checked under the lock so an interleaved heartbeat wins.
func (m *Monitor) sweepWorker(ctx context.Context, workerID models.ULID) error {
	var failed *models.Task

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		workers := repository.NewWorkerRepository(tx)
		tasks := repository.NewTaskRepository(tx)

		worker, err := workers.GetByIDForUpdate(ctx, workerID)
		if err != nil {
			return err
		}
		now := models.Now()
		if worker == nil || worker.Status == models.WorkerStatusOffline || !worker.HeartbeatExpired(now, m.heartbeatTimeout) {
			return nil
		}

		worker.Status = models.WorkerStatusOffline
		worker.OfflineRequest = models.OfflineModeNone

		if worker.CurrentTaskID != nil {
			task, err := tasks.GetByID(ctx, *worker.CurrentTaskID)
			if err != nil {
				return err
			}
			if task != nil && !task.IsFinished() {
				cascaded, err := tracker.CascadeFail(ctx, tx, task, WorkerOfflineMessage, nil)
				if err != nil {
					return err
				}
				if cascaded {
					failed = task
				}
			}
		}
		worker.CurrentTaskID = nil

		if err := workers.Update(ctx, worker); err != nil {
			return err
		}

		m.logger.Warn("worker heartbeat expired",
			slog.String("worker", worker.Name),
			slog.String("worker_id", worker.ID.String()),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("sweeping worker %s: %w", workerID, err)
	}

	if failed != nil && m.bus != nil {
		m.bus.PublishTask(events.EventTaskUpdated, failed)
	}
	return nil
}

// SweepTasks fails RUNNING tasks whose progress has gone silent. The worker
// itself keeps heartbeating in this case, so it is released back to IDLE.
func (m *Monitor) SweepTasks(ctx context.Context) {
	now := models.Now()

	stalled, err := repository.NewTaskRepository(m.db).ListStalled(ctx, now, m.taskStallTimeout)
	if err != nil {
		m.logger.Error("listing stalled tasks", slog.String("error", err.Error()))
		return
	}

	for _, candidate := range stalled {
		if err := m.sweepTask(ctx, candidate.TaskUUID); err != nil {
			m.logger.Error("sweeping task",
				slog.String("task_id", candidate.TaskUUID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// sweepTask handles one stalled task in its own transaction, re-checking
// staleness under the lock.
func (m *Monitor) sweepTask(ctx context.Context, taskUUID string) error {
	var failed *models.Task

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tasks := repository.NewTaskRepository(tx)
		logs := repository.NewTaskLogRepository(tx)

		task, err := tasks.GetByUUIDForUpdate(ctx, taskUUID)
		if err != nil {
			return err
		}
		now := models.Now()
		if task == nil || task.Status != models.TaskStatusRunning || !isStalled(task, now, m.taskStallTimeout) {
			return nil
		}

		idle := models.WorkerStatusIdle
		cascaded, err := tracker.CascadeFail(ctx, tx, task, TaskStalledMessage, &idle)
		if err != nil {
			return err
		}
		if !cascaded {
			return nil
		}

		entry := &models.TaskLog{TaskID: &task.ID, Level: models.LogLevelError, Message: TaskStalledMessage}
		if err := logs.Create(ctx, entry); err != nil {
			return err
		}

		m.logger.Warn("task stalled",
			slog.String("task_id", task.TaskUUID),
			slog.String("worker", task.WorkerName),
		)
		failed = task
		return nil
	})
	if err != nil {
		return fmt.Errorf("sweeping task %s: %w", taskUUID, err)
	}

	if failed != nil && m.bus != nil {
		m.bus.PublishTask(events.EventTaskUpdated, failed)
	}
	return nil
}

// isStalled re-evaluates the stall window against the locked row.
func isStalled(task *models.Task, now time.Time, timeout time.Duration) bool {
	last := task.LastUpdateTime
	if last == nil {
		last = task.StartTime
	}
	if last == nil {
		return true
	}
	return now.Sub(*last) > timeout
}
