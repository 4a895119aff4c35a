package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/distconv/distconv/internal/models"
)

// workerRepo implements WorkerRepository using GORM.
type workerRepo struct {
	db *gorm.DB
}

// NewWorkerRepository creates a new WorkerRepository bound to db, which may
// be a transaction handle.
func NewWorkerRepository(db *gorm.DB) WorkerRepository {
	return &workerRepo{db: db}
}

// Create inserts a new worker.
func (r *workerRepo) Create(ctx context.Context, worker *models.Worker) error {
	if err := r.db.WithContext(ctx).Create(worker).Error; err != nil {
		return fmt.Errorf("creating worker: %w", err)
	}
	return nil
}

// GetByID retrieves a worker by ID.
func (r *workerRepo) GetByID(ctx context.Context, id models.ULID) (*models.Worker, error) {
	var worker models.Worker
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&worker).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting worker by ID: %w", err)
	}
	return &worker, nil
}

// GetByIDForUpdate locks the worker row for the current transaction.
func (r *workerRepo) GetByIDForUpdate(ctx context.Context, id models.ULID) (*models.Worker, error) {
	var worker models.Worker
	if err := forUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&worker).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("locking worker by ID: %w", err)
	}
	return &worker, nil
}

// GetByName retrieves a worker by its unique name.
func (r *workerRepo) GetByName(ctx context.Context, name string) (*models.Worker, error) {
	var worker models.Worker
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&worker).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting worker by name: %w", err)
	}
	return &worker, nil
}

// List returns workers ordered by name with a total count.
func (r *workerRepo) List(ctx context.Context, offset, limit int) ([]*models.Worker, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Worker{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting workers: %w", err)
	}

	query = query.Order("name ASC")
	if offset > 0 {
		query = query.Offset(offset)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var workers []*models.Worker
	if err := query.Find(&workers).Error; err != nil {
		return nil, 0, fmt.Errorf("listing workers: %w", err)
	}
	return workers, total, nil
}

// Update persists all fields of the worker.
func (r *workerRepo) Update(ctx context.Context, worker *models.Worker) error {
	if err := r.db.WithContext(ctx).Save(worker).Error; err != nil {
		return fmt.Errorf("updating worker: %w", err)
	}
	return nil
}

// Delete removes a worker row.
func (r *workerRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Worker{}).Error; err != nil {
		return fmt.Errorf("deleting worker: %w", err)
	}
	return nil
}

// ListExpired returns non-OFFLINE workers whose heartbeat has gone stale.
// Workers that never heartbeated are included.
func (r *workerRepo) ListExpired(ctx context.Context, now time.Time, timeout time.Duration) ([]*models.Worker, error) {
	threshold := now.Add(-timeout)

	var workers []*models.Worker
	if err := r.db.WithContext(ctx).
		Where("status <> ?", models.WorkerStatusOffline).
		Where("last_heartbeat IS NULL OR last_heartbeat <= ?", threshold).
		Find(&workers).Error; err != nil {
		return nil, fmt.Errorf("listing expired workers: %w", err)
	}
	return workers, nil
}

// Ensure workerRepo implements WorkerRepository at compile time.
var _ WorkerRepository = (*workerRepo)(nil)
