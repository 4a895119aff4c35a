// Package registry manages fleet membership: registration, heartbeats, and
// operator-requested retirement.
package registry

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

// workerOfflineMessage is the canonical cascade message when a held task is
// terminated because its worker is gone.
const workerOfflineMessage = "Worker offline, task terminated"

// Registry enforces a single live instance per worker name.
type Registry struct {
	db               *gorm.DB
	bus              *events.Bus
	heartbeatTimeout time.Duration
	logger           *slog.Logger
}

// New creates a Registry.
func New(db *gorm.DB, bus *events.Bus, heartbeatTimeout time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{db: db, bus: bus, heartbeatTimeout: heartbeatTimeout, logger: logger}
}

// Register creates or revives a worker row.
//
// A fresh-heartbeat holder of the name rejects the registration with
// models.ErrWorkerNameTaken. An expired holder is reclaimed: its orphan
// running task (if any) is cascade-failed, and the row restarts clean with
// the new capabilities.
func (r *Registry) Register(ctx context.Context, name string, kind models.WorkerKind, supportsVR bool) (models.ULID, error) {
	if name == "" {
		return models.ULID{}, models.ErrWorkerNameRequired
	}

	var id models.ULID
	var orphaned *models.Task

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		workers := repository.NewWorkerRepository(tx)
		tasks := repository.NewTaskRepository(tx)

		worker, err := workers.GetByName(ctx, name)
		if err != nil {
			return err
		}

		now := models.Now()

		if worker == nil {
			worker = &models.Worker{
				Name:          name,
				Kind:          kind,
				SupportsVR:    supportsVR,
				Status:        models.WorkerStatusIdle,
				LastHeartbeat: &now,
			}
			if err := workers.Create(ctx, worker); err != nil {
				return err
			}
			id = worker.ID
			return nil
		}

		if !worker.HeartbeatExpired(now, r.heartbeatTimeout) {
			return models.ErrWorkerNameTaken
		}

		// Reclaim: the previous instance is gone. Fail its orphan task and
		// start the row clean - a re-registering worker never inherits work.
		if worker.CurrentTaskID != nil {
			task, err := tasks.GetByID(ctx, *worker.CurrentTaskID)
			if err != nil {
				return err
			}
			if task != nil && !task.IsFinished() {
				if _, err := tracker.CascadeFail(ctx, tx, task, workerOfflineMessage, nil); err != nil {
					return err
				}
				orphaned = task
			}
		}

		worker.Kind = kind
		worker.SupportsVR = supportsVR
		worker.Status = models.WorkerStatusIdle
		worker.LastHeartbeat = &now
		worker.CurrentTaskID = nil
		worker.OfflineRequest = models.OfflineModeNone
		if err := workers.Update(ctx, worker); err != nil {
			return err
		}

		id = worker.ID
		return nil
	})
	if err != nil {
		return models.ULID{}, err
	}

	if orphaned != nil && r.bus != nil {
		r.bus.PublishTask(events.EventTaskUpdated, orphaned)
	}

	r.logger.Info("worker registered",
		slog.String("worker_id", id.String()),
		slog.String("name", name),
		slog.String("kind", kind.String()),
		slog.Bool("supports_vr", supportsVR),
	)
	return id, nil
}

// Heartbeat stamps the worker's liveness. An OFFLINE worker that
// heartbeats again flips back to IDLE.
func (r *Registry) Heartbeat(ctx context.Context, workerID models.ULID, name string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		workers := repository.NewWorkerRepository(tx)

		worker, err := workers.GetByIDForUpdate(ctx, workerID)
		if err != nil {
			return err
		}
		if worker == nil {
			return models.ErrWorkerNotFound
		}
		if worker.Name != name {
			return models.ErrWorkerNameMismatch
		}

		now := models.Now()
		worker.LastHeartbeat = &now
		if worker.Status == models.WorkerStatusOffline {
			worker.Status = models.WorkerStatusIdle
		}
		return workers.Update(ctx, worker)
	})
}

// RequestOffline records an operator request for the worker to retire. The
// dispatcher reads the flag and refuses new assignments.
func (r *Registry) RequestOffline(ctx context.Context, workerID models.ULID, mode models.OfflineMode) error {
	if mode != models.OfflineModeSoft && mode != models.OfflineModeShutdown {
		return fmt.Errorf("invalid offline mode %d", mode)
	}
	return r.setOfflineRequest(ctx, workerID, mode)
}

// CancelOffline clears a pending offline request.
func (r *Registry) CancelOffline(ctx context.Context, workerID models.ULID) error {
	return r.setOfflineRequest(ctx, workerID, models.OfflineModeNone)
}

func (r *Registry) setOfflineRequest(ctx context.Context, workerID models.ULID, mode models.OfflineMode) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		workers := repository.NewWorkerRepository(tx)

		worker, err := workers.GetByIDForUpdate(ctx, workerID)
		if err != nil {
			return err
		}
		if worker == nil {
			return models.ErrWorkerNotFound
		}
		worker.OfflineRequest = mode
		return workers.Update(ctx, worker)
	})
}

// Get returns a worker by id.
func (r *Registry) Get(ctx context.Context, workerID models.ULID) (*models.Worker, error) {
	return repository.NewWorkerRepository(r.db).GetByID(ctx, workerID)
}

// List returns a worker page and the total count.
func (r *Registry) List(ctx context.Context, offset, limit int) ([]*models.Worker, int64, error) {
	return repository.NewWorkerRepository(r.db).List(ctx, offset, limit)
}

// DerivedStatus is the read-time status shown in listings: a stale
// heartbeat displays as OFFLINE even before the sweep commits it.
func (r *Registry) DerivedStatus(worker *models.Worker, now time.Time) models.WorkerStatus {
	if worker.Status != models.WorkerStatusOffline && worker.HeartbeatExpired(now, r.heartbeatTimeout) {
		return models.WorkerStatusOffline
	}
	return worker.Status
}

// Update applies administrative changes to a worker row.
func (r *Registry) Update(ctx context.Context, worker *models.Worker) error {
	return repository.NewWorkerRepository(r.db).Update(ctx, worker)
}

// Delete removes a worker row.
func (r *Registry) Delete(ctx context.Context, workerID models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		workers := repository.NewWorkerRepository(tx)

		worker, err := workers.GetByIDForUpdate(ctx, workerID)
		if err != nil {
			return err
		}
		if worker == nil {
			return models.ErrWorkerNotFound
		}
		return workers.Delete(ctx, workerID)
	})
}
