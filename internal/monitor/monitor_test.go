package monitor

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

const (
	heartbeatTimeout = 30 * time.Second
	taskStallTimeout = 60 * time.Second
)

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

func newMonitor(db *gorm.DB) *Monitor {
	return New(db, events.NewBus(nil), heartbeatTimeout, taskStallTimeout, nil)
}

// seedBusyWorker wires a worker, video, and running task together.
func seedBusyWorker(t *testing.T, db *gorm.DB, name string, heartbeat, lastUpdate time.Time) (*models.Worker, *models.Video, *models.Task) {
	t.Helper()
	ctx := context.Background()

	worker := &models.Worker{
		Name: name, Kind: models.WorkerKindNVENC,
		Status: models.WorkerStatusBusy, LastHeartbeat: &heartbeat,
	}
	require.NoError(t, repository.NewWorkerRepository(db).Create(ctx, worker))

	video := &models.Video{
		Path: "/movies/" + name + ".mp4", Codec: "h264", BitrateKbps: 8000,
		Exists: true, TranscodeStatus: models.VideoStatusRunning,
	}
	require.NoError(t, repository.NewVideoRepository(db).Create(ctx, video))

	task := &models.Task{
		TaskUUID: uuid.NewString(), VideoID: video.ID, WorkerID: worker.ID,
		WorkerName: name, SourcePath: video.Path,
		Status: models.TaskStatusRunning, StartTime: &lastUpdate, LastUpdateTime: &lastUpdate,
	}
	require.NoError(t, repository.NewTaskRepository(db).Create(ctx, task))

	video.CurrentTaskID = &task.ID
	require.NoError(t, repository.NewVideoRepository(db).Update(ctx, video))
	worker.CurrentTaskID = &task.ID
	require.NoError(t, repository.NewWorkerRepository(db).Update(ctx, worker))

	return worker, video, task
}

func TestSweepWorkersCascadesOfflineFailure(t *testing.T) {
	db := setupTestDB(t)
	m := newMonitor(db)
	ctx := context.Background()

	stale := models.Now().Add(-45 * time.Second)
	fresh := models.Now().Add(-5 * time.Second)
	worker, video, task := seedBusyWorker(t, db, "dead", stale, fresh)

	m.SweepWorkers(ctx)

	reloadedWorker, _ := repository.NewWorkerRepository(db).GetByID(ctx, worker.ID)
	assert.Equal(t, models.WorkerStatusOffline, reloadedWorker.Status)
	assert.Nil(t, reloadedWorker.CurrentTaskID)
	assert.Equal(t, models.OfflineModeNone, reloadedWorker.OfflineRequest)

	reloadedTask, _ := repository.NewTaskRepository(db).GetByUUID(ctx, task.TaskUUID)
	assert.Equal(t, models.TaskStatusFailed, reloadedTask.Status)
	assert.Equal(t, WorkerOfflineMessage, reloadedTask.ErrorMessage)
	require.NotNil(t, reloadedTask.EndTime)

	reloadedVideo, _ := repository.NewVideoRepository(db).GetByID(ctx, video.ID)
	assert.Equal(t, models.VideoStatusFailed, reloadedVideo.TranscodeStatus)
	assert.Nil(t, reloadedVideo.CurrentTaskID)
}

func TestSweepWorkersLeavesFreshWorkersAlone(t *testing.T) {
	db := setupTestDB(t)
	m := newMonitor(db)
	ctx := context.Background()

	fresh := models.Now().Add(-5 * time.Second)
	worker, _, task := seedBusyWorker(t, db, "alive", fresh, fresh)

	m.SweepWorkers(ctx)

	reloadedWorker, _ := repository.NewWorkerRepository(db).GetByID(ctx, worker.ID)
	assert.Equal(t, models.WorkerStatusBusy, reloadedWorker.Status)

	reloadedTask, _ := repository.NewTaskRepository(db).GetByUUID(ctx, task.TaskUUID)
	assert.Equal(t, models.TaskStatusRunning, reloadedTask.Status)
}

func TestSweepTasksFailsStalledTask(t *testing.T) {
	db := setupTestDB(t)
	m := newMonitor(db)
	ctx := context.Background()

	// Worker keeps heartbeating but the task went silent.
	freshHeartbeat := models.Now().Add(-2 * time.Second)
	staleUpdate := models.Now().Add(-90 * time.Second)
	worker, video, task := seedBusyWorker(t, db, "stuck", freshHeartbeat, staleUpdate)

	m.SweepTasks(ctx)

	reloadedTask, _ := repository.NewTaskRepository(db).GetByUUID(ctx, task.TaskUUID)
	assert.Equal(t, models.TaskStatusFailed, reloadedTask.Status)
	assert.Equal(t, TaskStalledMessage, reloadedTask.ErrorMessage)

	reloadedWorker, _ := repository.NewWorkerRepository(db).GetByID(ctx, worker.ID)
	assert.Equal(t, models.WorkerStatusIdle, reloadedWorker.Status, "a stalled task releases the worker to IDLE, not OFFLINE")
	assert.Nil(t, reloadedWorker.CurrentTaskID)

	reloadedVideo, _ := repository.NewVideoRepository(db).GetByID(ctx, video.ID)
	assert.Equal(t, models.VideoStatusFailed, reloadedVideo.TranscodeStatus)

	// The stall is recorded in the audit log.
	entries, total, err := repository.NewTaskLogRepository(db).List(ctx, repository.LogFilter{
		Levels: []models.LogLevel{models.LogLevelError},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, TaskStalledMessage, entries[0].Message)
}

func TestSweepTasksIgnoresActiveTask(t *testing.T) {
	db := setupTestDB(t)
	m := newMonitor(db)
	ctx := context.Background()

	fresh := models.Now().Add(-10 * time.Second)
	_, _, task := seedBusyWorker(t, db, "busy", fresh, fresh)

	m.SweepTasks(ctx)

	reloaded, _ := repository.NewTaskRepository(db).GetByUUID(ctx, task.TaskUUID)
	assert.Equal(t, models.TaskStatusRunning, reloaded.Status)
}

func TestSweepsAreIdempotent(t *testing.T) {
	db := setupTestDB(t)
	m := newMonitor(db)
	ctx := context.Background()

	stale := models.Now().Add(-5 * time.Minute)
	_, _, task := seedBusyWorker(t, db, "dead", stale, stale)

	// Interleave the sweeps repeatedly; the cascade must fire exactly once.
	m.SweepWorkers(ctx)
	m.SweepTasks(ctx)
	m.SweepWorkers(ctx)
	m.SweepTasks(ctx)

	reloaded, _ := repository.NewTaskRepository(db).GetByUUID(ctx, task.TaskUUID)
	assert.Equal(t, models.TaskStatusFailed, reloaded.Status)
	assert.Equal(t, WorkerOfflineMessage, reloaded.ErrorMessage, "first sweep's message sticks")

	_, total, err := repository.NewTaskLogRepository(db).List(ctx, repository.LogFilter{})
	require.NoError(t, err)
	assert.LessOrEqual(t, total, int64(1))
}
