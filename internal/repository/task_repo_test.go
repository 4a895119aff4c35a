package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distconv/distconv/internal/models"
)

func seedTask(t *testing.T, repo TaskRepository, task models.Task) *models.Task {
	t.Helper()
	if task.TaskUUID == "" {
		task.TaskUUID = uuid.NewString()
	}
	require.NoError(t, repo.Create(context.Background(), &task))
	return &task
}

func TestTaskRepoGetByUUID(t *testing.T) {
	repo := NewTaskRepository(setupTestDB(t))
	ctx := context.Background()

	task := seedTask(t, repo, models.Task{
		VideoID:  models.NewULID(),
		WorkerID: models.NewULID(),
		Status:   models.TaskStatusRunning,
	})

	found, err := repo.GetByUUID(ctx, task.TaskUUID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, task.ID, found.ID)

	missing, err := repo.GetByUUID(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTaskRepoListByStatusAndWorker(t *testing.T) {
	repo := NewTaskRepository(setupTestDB(t))
	ctx := context.Background()

	worker := models.NewULID()
	seedTask(t, repo, models.Task{VideoID: models.NewULID(), WorkerID: worker, Status: models.TaskStatusRunning})
	seedTask(t, repo, models.Task{VideoID: models.NewULID(), WorkerID: worker, Status: models.TaskStatusCompleted})
	seedTask(t, repo, models.Task{VideoID: models.NewULID(), WorkerID: models.NewULID(), Status: models.TaskStatusRunning})

	running, total, err := repo.List(ctx, TaskFilter{
		Statuses: []models.TaskStatus{models.TaskStatusRunning},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, running, 2)

	mine, total, err := repo.List(ctx, TaskFilter{WorkerID: &worker})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, mine, 2)
}

func TestTaskRepoListStalled(t *testing.T) {
	repo := NewTaskRepository(setupTestDB(t))
	ctx := context.Background()
	now := models.Now()

	fresh := now.Add(-10 * time.Second)
	stale := now.Add(-90 * time.Second)

	seedTask(t, repo, models.Task{
		VideoID: models.NewULID(), WorkerID: models.NewULID(),
		Status: models.TaskStatusRunning, LastUpdateTime: &fresh,
	})
	stalled := seedTask(t, repo, models.Task{
		VideoID: models.NewULID(), WorkerID: models.NewULID(),
		Status: models.TaskStatusRunning, LastUpdateTime: &stale,
	})
	neverReported := seedTask(t, repo, models.Task{
		VideoID: models.NewULID(), WorkerID: models.NewULID(),
		Status: models.TaskStatusRunning, StartTime: &stale,
	})
	seedTask(t, repo, models.Task{
		VideoID: models.NewULID(), WorkerID: models.NewULID(),
		Status: models.TaskStatusCompleted, LastUpdateTime: &stale,
	})

	got, err := repo.ListStalled(ctx, now, 60*time.Second)
	require.NoError(t, err)
	require.Len(t, got, 2)

	ids := []models.ULID{got[0].ID, got[1].ID}
	assert.Contains(t, ids, stalled.ID)
	assert.Contains(t, ids, neverReported.ID)
}

func TestWorkerRepoListExpired(t *testing.T) {
	repo := NewWorkerRepository(setupTestDB(t))
	ctx := context.Background()
	now := models.Now()

	fresh := now.Add(-5 * time.Second)
	stale := now.Add(-45 * time.Second)

	alive := models.Worker{Name: "alive", Kind: models.WorkerKindCPU, Status: models.WorkerStatusIdle, LastHeartbeat: &fresh}
	require.NoError(t, repo.Create(ctx, &alive))

	gone := models.Worker{Name: "gone", Kind: models.WorkerKindNVENC, Status: models.WorkerStatusBusy, LastHeartbeat: &stale}
	require.NoError(t, repo.Create(ctx, &gone))

	alreadyOffline := models.Worker{Name: "offline", Kind: models.WorkerKindCPU, Status: models.WorkerStatusOffline, LastHeartbeat: &stale}
	require.NoError(t, repo.Create(ctx, &alreadyOffline))

	expired, err := repo.ListExpired(ctx, now, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "gone", expired[0].Name)
}

func TestWorkerRepoUniqueName(t *testing.T) {
	repo := NewWorkerRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.Worker{Name: "w1", Kind: models.WorkerKindCPU}))
	err := repo.Create(ctx, &models.Worker{Name: "w1", Kind: models.WorkerKindQSV})
	assert.Error(t, err, "duplicate worker names are rejected by the unique index")
}

func TestTaskLogRepoListFilters(t *testing.T) {
	repo := NewTaskLogRepository(setupTestDB(t))
	ctx := context.Background()

	taskID := models.NewULID()
	require.NoError(t, repo.Create(ctx, &models.TaskLog{TaskID: &taskID, Level: models.LogLevelError, Message: "encoder crashed"}))
	require.NoError(t, repo.Create(ctx, &models.TaskLog{TaskID: &taskID, Level: models.LogLevelInfo, Message: "started"}))
	require.NoError(t, repo.Create(ctx, &models.TaskLog{Level: models.LogLevelError, Message: "probe failed"}))

	errorsOnly, total, err := repo.List(ctx, LogFilter{
		Levels: []models.LogLevel{models.LogLevelError},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, errorsOnly, 2)

	forTask, total, err := repo.List(ctx, LogFilter{TaskID: &taskID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, forTask, 2)
}
