package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/distconv/distconv/internal/models"
)

// Hardware encoders only take the easy candidates: h264 sources at or below
// 1080p and 31 fps. The pixel bound carries a little slack for containers
// that pad the coded frame size.
const (
	hardwareMaxPixels = 1920*1080 + 4096
	hardwareMaxFPS    = 31.0
	hardwareCodec     = "h264"
)

// videoRepo implements VideoRepository using GORM.
type videoRepo struct {
	db *gorm.DB
}

// NewVideoRepository creates a new VideoRepository bound to db, which may be
// a transaction handle.
func NewVideoRepository(db *gorm.DB) VideoRepository {
	return &videoRepo{db: db}
}

// Create inserts a new catalog entry.
func (r *videoRepo) Create(ctx context.Context, video *models.Video) error {
	if err := r.db.WithContext(ctx).Create(video).Error; err != nil {
		return fmt.Errorf("creating video: %w", err)
	}
	return nil
}

// GetByID retrieves a video by ID.
func (r *videoRepo) GetByID(ctx context.Context, id models.ULID) (*models.Video, error) {
	var video models.Video
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&video).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting video by ID: %w", err)
	}
	return &video, nil
}

// GetByPath retrieves a video by its canonical path key.
func (r *videoRepo) GetByPath(ctx context.Context, path string) (*models.Video, error) {
	var video models.Video
	if err := r.db.WithContext(ctx).Where("path = ?", path).First(&video).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting video by path: %w", err)
	}
	return &video, nil
}

// videoSortColumns whitelists sortable columns for listings.
var videoSortColumns = map[string]string{
	"path":         "path",
	"bitrate":      "bitrate_kbps",
	"size":         "size_mb",
	"updated_at":   "updated_at",
	"total_pixels": "total_pixels",
}

// List returns videos matching the filter with a total count.
func (r *videoRepo) List(ctx context.Context, filter VideoFilter) ([]*models.Video, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Video{})

	if len(filter.Statuses) > 0 {
		query = query.Where("transcode_status IN ?", filter.Statuses)
	}
	if filter.IsVR != nil {
		query = query.Where("is_vr = ?", *filter.IsVR)
	}
	if len(filter.Codecs) > 0 {
		query = query.Where("codec IN ?", filter.Codecs)
	}
	if filter.MinBitrate != nil {
		query = query.Where("bitrate_kbps >= ?", *filter.MinBitrate)
	}
	if filter.MaxBitrate != nil {
		query = query.Where("bitrate_kbps <= ?", *filter.MaxBitrate)
	}
	if filter.MinSizeMB != nil {
		query = query.Where("size_mb >= ?", *filter.MinSizeMB)
	}
	if filter.MaxSizeMB != nil {
		query = query.Where("size_mb <= ?", *filter.MaxSizeMB)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting videos: %w", err)
	}

	column, ok := videoSortColumns[filter.SortBy]
	if !ok {
		column = "path"
	}
	direction := "ASC"
	if filter.Order == "desc" {
		direction = "DESC"
	}
	query = query.Order(column + " " + direction)

	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var videos []*models.Video
	if err := query.Find(&videos).Error; err != nil {
		return nil, 0, fmt.Errorf("listing videos: %w", err)
	}
	return videos, total, nil
}

// Update persists all fields of the video.
func (r *videoRepo) Update(ctx context.Context, video *models.Video) error {
	if err := r.db.WithContext(ctx).Save(video).Error; err != nil {
		return fmt.Errorf("updating video: %w", err)
	}
	return nil
}

// MarkAllMissing flips the existence flag off for every row.
func (r *videoRepo) MarkAllMissing(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Model(&models.Video{}).
		Where("exist = ?", true).
		UpdateColumn("exist", false).Error; err != nil {
		return fmt.Errorf("marking videos missing: %w", err)
	}
	return nil
}

// candidateConditions applies the dispatch filter to a video query.
func candidateConditions(query *gorm.DB, filter CandidateFilter) *gorm.DB {
	query = query.
		Where("exist = ?", true).
		Where("transcode_status IN ?", filter.Statuses).
		Where("is_vr = ?", filter.IsVR)
	if filter.HardwareOnly {
		query = query.
			Where("total_pixels <= ?", hardwareMaxPixels).
			Where("fps <= ?", hardwareMaxFPS).
			Where("codec = ?", hardwareCodec)
	}
	return query.Order("bitrate_kbps DESC")
}

// AcquireCandidate selects the worst-offender candidate under a row lock.
//
// On PostgreSQL/MySQL the row is taken with FOR UPDATE SKIP LOCKED so
// concurrent dispatchers settle on distinct videos. SQLite has no row
// locks; there the candidate is claimed with a single atomic UPDATE that
// flips it to CREATED, which the write serialization makes race-free.
func (r *videoRepo) AcquireCandidate(ctx context.Context, filter CandidateFilter) (*models.Video, error) {
	if driverName(r.db) == "sqlite" {
		return r.acquireCandidateSQLite(ctx, filter)
	}

	var video models.Video
	query := candidateConditions(forUpdateSkipLocked(r.db.WithContext(ctx)), filter).Limit(1)
	if err := query.First(&video).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("acquiring candidate video: %w", err)
	}
	return &video, nil
}

// acquireCandidateSQLite claims the best candidate in one UPDATE statement.
func (r *videoRepo) acquireCandidateSQLite(ctx context.Context, filter CandidateFilter) (*models.Video, error) {
	subQuery := candidateConditions(r.db.Model(&models.Video{}).Select("id"), filter).Limit(1)

	claim := models.NewULID()
	result := r.db.WithContext(ctx).
		Model(&models.Video{}).
		Where("id = (?)", subQuery).
		UpdateColumns(map[string]any{
			"transcode_status": models.VideoStatusCreated,
			"current_task_id":  claim,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("claiming candidate video: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	var video models.Video
	if err := r.db.WithContext(ctx).Where("current_task_id = ?", claim).First(&video).Error; err != nil {
		return nil, fmt.Errorf("fetching claimed video: %w", err)
	}
	return &video, nil
}

// Ensure videoRepo implements VideoRepository at compile time.
var _ VideoRepository = (*videoRepo)(nil)
