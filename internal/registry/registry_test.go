package registry

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/distconv/distconv/internal/events"
	"github.com/distconv/distconv/internal/models"
	"github.com/distconv/distconv/internal/repository"
)

const heartbeatTimeout = 30 * time.Second

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.Video{}, &models.Task{}, &models.Worker{}, &models.TaskLog{})
	require.NoError(t, err)

	return db
}

func newRegistry(db *gorm.DB) *Registry {
	return New(db, events.NewBus(nil), heartbeatTimeout, nil)
}

func TestRegisterNewWorker(t *testing.T) {
	db := setupTestDB(t)
	r := newRegistry(db)
	ctx := context.Background()

	id, err := r.Register(ctx, "w1", models.WorkerKindNVENC, false)
	require.NoError(t, err)
	assert.False(t, id.IsZero())

	worker, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.WorkerStatusIdle, worker.Status)
	assert.Equal(t, models.WorkerKindNVENC, worker.Kind)
	require.NotNil(t, worker.LastHeartbeat)
}

func TestRegisterDuplicateLiveNameRejected(t *testing.T) {
	db := setupTestDB(t)
	r := newRegistry(db)
	ctx := context.Background()

	_, err := r.Register(ctx, "w1", models.WorkerKindCPU, false)
	require.NoError(t, err)

	_, err = r.Register(ctx, "w1", models.WorkerKindCPU, false)
	assert.ErrorIs(t, err, models.ErrWorkerNameTaken)
}

func TestRegisterReclaimsExpiredName(t *testing.T) {
	db := setupTestDB(t)
	r := newRegistry(db)
	ctx := context.Background()

	// Seed a dead worker holding a running task.
	stale := models.Now().Add(-2 * time.Minute)
	old := &models.Worker{
		Name: "w1", Kind: models.WorkerKindCPU, SupportsVR: true,
		Status: models.WorkerStatusBusy, LastHeartbeat: &stale,
		OfflineRequest: models.OfflineModeSoft,
	}
	require.NoError(t, repository.NewWorkerRepository(db).Create(ctx, old))

	video := &models.Video{
		Path: "/a.mp4", Codec: "h264", Exists: true,
		TranscodeStatus: models.VideoStatusRunning,
	}
	require.NoError(t, repository.NewVideoRepository(db).Create(ctx, video))

	task := &models.Task{
		TaskUUID: uuid.NewString(), VideoID: video.ID, WorkerID: old.ID,
		WorkerName: "w1", SourcePath: video.Path, Status: models.TaskStatusRunning,
	}
	require.NoError(t, repository.NewTaskRepository(db).Create(ctx, task))

	video.CurrentTaskID = &task.ID
	require.NoError(t, repository.NewVideoRepository(db).Update(ctx, video))
	old.CurrentTaskID = &task.ID
	require.NoError(t, repository.NewWorkerRepository(db).Update(ctx, old))

	// The replacement instance registers with new capabilities.
	id, err := r.Register(ctx, "w1", models.WorkerKindQSV, false)
	require.NoError(t, err)
	assert.Equal(t, old.ID, id, "the row is revived, not duplicated")

	reloaded, _ := r.Get(ctx, id)
	assert.Equal(t, models.WorkerStatusIdle, reloaded.Status)
	assert.Equal(t, models.WorkerKindQSV, reloaded.Kind)
	assert.False(t, reloaded.SupportsVR)
	assert.Nil(t, reloaded.CurrentTaskID, "a re-registering worker starts clean")
	assert.Equal(t, models.OfflineModeNone, reloaded.OfflineRequest)

	// The orphan task was cascade-failed.
	reloadedTask, _ := repository.NewTaskRepository(db).GetByUUID(ctx, task.TaskUUID)
	assert.Equal(t, models.TaskStatusFailed, reloadedTask.Status)
	assert.Equal(t, "Worker offline, task terminated", reloadedTask.ErrorMessage)

	reloadedVideo, _ := repository.NewVideoRepository(db).GetByID(ctx, video.ID)
	assert.Equal(t, models.VideoStatusFailed, reloadedVideo.TranscodeStatus)
	assert.Nil(t, reloadedVideo.CurrentTaskID)
}

func TestHeartbeat(t *testing.T) {
	db := setupTestDB(t)
	r := newRegistry(db)
	ctx := context.Background()

	id, err := r.Register(ctx, "w1", models.WorkerKindCPU, false)
	require.NoError(t, err)

	t.Run("stamps liveness", func(t *testing.T) {
		require.NoError(t, r.Heartbeat(ctx, id, "w1"))
	})

	t.Run("name mismatch rejected", func(t *testing.T) {
		err := r.Heartbeat(ctx, id, "other")
		assert.ErrorIs(t, err, models.ErrWorkerNameMismatch)
	})

	t.Run("unknown worker", func(t *testing.T) {
		err := r.Heartbeat(ctx, models.NewULID(), "w1")
		assert.ErrorIs(t, err, models.ErrWorkerNotFound)
	})

	t.Run("revives offline worker", func(t *testing.T) {
		worker, _ := r.Get(ctx, id)
		worker.Status = models.WorkerStatusOffline
		require.NoError(t, repository.NewWorkerRepository(db).Update(ctx, worker))

		require.NoError(t, r.Heartbeat(ctx, id, "w1"))
		reloaded, _ := r.Get(ctx, id)
		assert.Equal(t, models.WorkerStatusIdle, reloaded.Status)
	})
}

func TestOfflineRequestLifecycle(t *testing.T) {
	db := setupTestDB(t)
	r := newRegistry(db)
	ctx := context.Background()

	id, err := r.Register(ctx, "w1", models.WorkerKindCPU, false)
	require.NoError(t, err)

	require.NoError(t, r.RequestOffline(ctx, id, models.OfflineModeShutdown))
	worker, _ := r.Get(ctx, id)
	assert.Equal(t, models.OfflineModeShutdown, worker.OfflineRequest)

	require.NoError(t, r.CancelOffline(ctx, id))
	worker, _ = r.Get(ctx, id)
	assert.Equal(t, models.OfflineModeNone, worker.OfflineRequest)

	assert.Error(t, r.RequestOffline(ctx, id, models.OfflineMode(9)))
}

func TestDerivedStatus(t *testing.T) {
	db := setupTestDB(t)
	r := newRegistry(db)
	now := models.Now()

	fresh := now.Add(-5 * time.Second)
	stale := now.Add(-2 * time.Minute)

	assert.Equal(t, models.WorkerStatusIdle,
		r.DerivedStatus(&models.Worker{Status: models.WorkerStatusIdle, LastHeartbeat: &fresh}, now))
	assert.Equal(t, models.WorkerStatusOffline,
		r.DerivedStatus(&models.Worker{Status: models.WorkerStatusBusy, LastHeartbeat: &stale}, now))
}

func TestDelete(t *testing.T) {
	db := setupTestDB(t)
	r := newRegistry(db)
	ctx := context.Background()

	id, err := r.Register(ctx, "w1", models.WorkerKindCPU, false)
	require.NoError(t, err)

	require.NoError(t, r.Delete(ctx, id))

	worker, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, worker)

	assert.ErrorIs(t, r.Delete(ctx, id), models.ErrWorkerNotFound)
}
