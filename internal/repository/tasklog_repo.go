package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/distconv/distconv/internal/models"
)

// taskLogRepo implements TaskLogRepository using GORM.
type taskLogRepo struct {
	db *gorm.DB
}

// NewTaskLogRepository creates a new TaskLogRepository bound to db, which
// may be a transaction handle.
func NewTaskLogRepository(db *gorm.DB) TaskLogRepository {
	return &taskLogRepo{db: db}
}

// Create appends an audit record.
func (r *taskLogRepo) Create(ctx context.Context, entry *models.TaskLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("creating log entry: %w", err)
	}
	return nil
}

// List returns log entries matching the filter with a total count.
func (r *taskLogRepo) List(ctx context.Context, filter LogFilter) ([]*models.TaskLog, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.TaskLog{})

	if len(filter.Levels) > 0 {
		query = query.Where("level IN ?", filter.Levels)
	}
	if filter.TaskID != nil {
		query = query.Where("task_id = ?", *filter.TaskID)
	}
	if filter.StartTime != nil {
		query = query.Where("created_at >= ?", *filter.StartTime)
	}
	if filter.EndTime != nil {
		query = query.Where("created_at <= ?", *filter.EndTime)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting log entries: %w", err)
	}

	direction := "DESC"
	if filter.Order == "asc" {
		direction = "ASC"
	}
	query = query.Order("created_at " + direction)

	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var entries []*models.TaskLog
	if err := query.Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("listing log entries: %w", err)
	}
	return entries, total, nil
}

// Ensure taskLogRepo implements TaskLogRepository at compile time.
var _ TaskLogRepository = (*taskLogRepo)(nil)
