package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/distconv/distconv/internal/models"
)

// taskRepo implements TaskRepository using GORM.
type taskRepo struct {
	db *gorm.DB
}

// NewTaskRepository creates a new TaskRepository bound to db, which may be a
// transaction handle.
func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &taskRepo{db: db}
}

// Create inserts a new task.
func (r *taskRepo) Create(ctx context.Context, task *models.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	return nil
}

// GetByID retrieves a task by internal ID.
func (r *taskRepo) GetByID(ctx context.Context, id models.ULID) (*models.Task, error) {
	var task models.Task
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting task by ID: %w", err)
	}
	return &task, nil
}

// GetByUUID retrieves a task by its external identifier.
func (r *taskRepo) GetByUUID(ctx context.Context, taskUUID string) (*models.Task, error) {
	var task models.Task
	if err := r.db.WithContext(ctx).Where("task_uuid = ?", taskUUID).First(&task).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting task by UUID: %w", err)
	}
	return &task, nil
}

// GetByUUIDForUpdate locks the task row for the current transaction.
func (r *taskRepo) GetByUUIDForUpdate(ctx context.Context, taskUUID string) (*models.Task, error) {
	var task models.Task
	if err := forUpdate(r.db.WithContext(ctx)).Where("task_uuid = ?", taskUUID).First(&task).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("locking task by UUID: %w", err)
	}
	return &task, nil
}

// taskSortColumns whitelists sortable columns for listings.
var taskSortColumns = map[string]string{
	"created_at": "created_at",
	"start_time": "start_time",
	"progress":   "progress",
	"status":     "status",
}

// List returns tasks matching the filter with a total count.
func (r *taskRepo) List(ctx context.Context, filter TaskFilter) ([]*models.Task, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Task{})

	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.WorkerID != nil {
		query = query.Where("worker_id = ?", *filter.WorkerID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting tasks: %w", err)
	}

	column, ok := taskSortColumns[filter.SortBy]
	if !ok {
		column = "created_at"
	}
	direction := "DESC"
	if filter.Order == "asc" {
		direction = "ASC"
	}
	query = query.Order(column + " " + direction)

	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var tasks []*models.Task
	if err := query.Find(&tasks).Error; err != nil {
		return nil, 0, fmt.Errorf("listing tasks: %w", err)
	}
	return tasks, total, nil
}

// Update persists all fields of the task.
func (r *taskRepo) Update(ctx context.Context, task *models.Task) error {
	if err := r.db.WithContext(ctx).Save(task).Error; err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	return nil
}

// ListStalled returns RUNNING tasks whose last update has gone stale.
// Tasks that never reported are judged by their start time.
func (r *taskRepo) ListStalled(ctx context.Context, now time.Time, stallTimeout time.Duration) ([]*models.Task, error) {
	threshold := now.Add(-stallTimeout)

	var tasks []*models.Task
	if err := r.db.WithContext(ctx).
		Where("status = ?", models.TaskStatusRunning).
		Where("(last_update_time IS NULL AND start_time <= ?) OR last_update_time <= ?", threshold, threshold).
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("listing stalled tasks: %w", err)
	}
	return tasks, nil
}

// Ensure taskRepo implements TaskRepository at compile time.
var _ TaskRepository = (*taskRepo)(nil)
