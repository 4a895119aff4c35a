package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/distconv/distconv/internal/events"
	"github.com/distconv/distconv/internal/models"
	"github.com/distconv/distconv/internal/registry"
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

func newWorkerHandler(db *gorm.DB) *WorkerHandler {
	return NewWorkerHandler(registry.New(db, events.NewBus(nil), 30*time.Second, nil))
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var se huma.StatusError
	require.ErrorAs(t, err, &se)
	return se.GetStatus()
}

func registerWorker(t *testing.T, h *WorkerHandler, name string, kind int, vr bool) string {
	t.Helper()
	input := &RegisterWorkerInput{}
	input.Body.WorkerName = name
	input.Body.WorkerType = kind
	input.Body.SupportVR = vr

	out, err := h.RegisterWorker(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, 201, out.Body.Code)
	return out.Body.Data.WorkerID
}

func TestRegisterWorkerEndpoint(t *testing.T) {
	h := newWorkerHandler(setupTestDB(t))

	id := registerWorker(t, h, "w1", 0, false)
	assert.NotEmpty(t, id)
}

func TestRegisterWorkerDuplicateLiveName(t *testing.T) {
	h := newWorkerHandler(setupTestDB(t))

	registerWorker(t, h, "w4", 1, false)

	input := &RegisterWorkerInput{}
	input.Body.WorkerName = "w4"
	input.Body.WorkerType = 1

	_, err := h.RegisterWorker(context.Background(), input)
	assert.Equal(t, 409, statusOf(t, err))
}

func TestRegisterWorkerInvalidType(t *testing.T) {
	h := newWorkerHandler(setupTestDB(t))

	input := &RegisterWorkerInput{}
	input.Body.WorkerName = "w1"
	input.Body.WorkerType = 7

	_, err := h.RegisterWorker(context.Background(), input)
	assert.Equal(t, 400, statusOf(t, err))
}

func TestGetWorkerEndpoint(t *testing.T) {
	h := newWorkerHandler(setupTestDB(t))
	ctx := context.Background()

	id := registerWorker(t, h, "w1", 2, true)

	out, err := h.Get(ctx, &GetWorkerInput{ID: id})
	require.NoError(t, err)
	assert.Equal(t, "w1", out.Body.Data.WorkerName)
	assert.Equal(t, 2, out.Body.Data.WorkerType)
	assert.Equal(t, int(models.WorkerStatusIdle), out.Body.Data.Status)

	_, err = h.Get(ctx, &GetWorkerInput{ID: models.NewULID().String()})
	assert.Equal(t, 404, statusOf(t, err))

	_, err = h.Get(ctx, &GetWorkerInput{ID: "not-a-ulid"})
	assert.Equal(t, 400, statusOf(t, err))
}

func TestHeartbeatEndpoint(t *testing.T) {
	h := newWorkerHandler(setupTestDB(t))
	ctx := context.Background()

	id := registerWorker(t, h, "w1", 0, false)

	input := &HeartbeatInput{}
	input.Body.WorkerID = id
	input.Body.WorkerName = "w1"

	out, err := h.Heartbeat(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, 200, out.Body.Code)

	input.Body.WorkerName = "imposter"
	_, err = h.Heartbeat(ctx, input)
	assert.Equal(t, 404, statusOf(t, err))
}

func TestOfflineEndpoints(t *testing.T) {
	db := setupTestDB(t)
	h := newWorkerHandler(db)
	ctx := context.Background()

	id := registerWorker(t, h, "w1", 0, false)

	offline := &OfflineRequestInput{ID: id}
	offline.Body.Action = "shutdown"
	_, err := h.RequestOffline(ctx, offline)
	require.NoError(t, err)

	got, err := h.Get(ctx, &GetWorkerInput{ID: id})
	require.NoError(t, err)
	assert.Equal(t, int(models.OfflineModeShutdown), got.Body.Data.OfflineRequest)

	_, err = h.CancelOffline(ctx, &CancelOfflineInput{ID: id})
	require.NoError(t, err)

	got, err = h.Get(ctx, &GetWorkerInput{ID: id})
	require.NoError(t, err)
	assert.Equal(t, int(models.OfflineModeNone), got.Body.Data.OfflineRequest)
}

func TestListWorkersDerivesOfflineStatus(t *testing.T) {
	db := setupTestDB(t)
	h := newWorkerHandler(db)
	ctx := context.Background()

	id := registerWorker(t, h, "w1", 0, false)

	// Age the heartbeat past the timeout.
	ulid := models.MustParseULID(id)
	var worker models.Worker
	require.NoError(t, db.Where("id = ?", ulid).First(&worker).Error)
	stale := models.Now().Add(-5 * time.Minute)
	worker.LastHeartbeat = &stale
	require.NoError(t, db.Save(&worker).Error)

	out, err := h.List(ctx, &ListWorkersInput{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, out.Body.Data.Workers, 1)
	assert.Equal(t, int(models.WorkerStatusOffline), out.Body.Data.Workers[0].Status,
		"stale heartbeat displays as OFFLINE at read time")
}

func TestDeleteWorkerEndpoint(t *testing.T) {
	h := newWorkerHandler(setupTestDB(t))
	ctx := context.Background()

	id := registerWorker(t, h, "w1", 0, false)

	_, err := h.Delete(ctx, &DeleteWorkerInput{ID: id})
	require.NoError(t, err)

	_, err = h.Delete(ctx, &DeleteWorkerInput{ID: id})
	assert.Equal(t, 404, statusOf(t, err))
}
