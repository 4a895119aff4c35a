package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distconv/distconv/internal/config"
	"github.com/distconv/distconv/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      ":memory:",
		LogLevel: "silent",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestNewAndMigrate(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Migrate())

	for _, table := range []string{"videos", "tasks", "workers", "task_logs"} {
		assert.True(t, db.Migrator().HasTable(table), "expected table %s", table)
	}
}

func TestPing(t *testing.T) {
	db := newTestDB(t)
	assert.NoError(t, db.Ping(context.Background()))
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(config.DatabaseConfig{Driver: "oracle", DSN: "x"}, nil)
	assert.Error(t, err)
}

func TestMigrateRoundTrip(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Migrate())

	video := &models.Video{
		Path:            "/movies/a.mp4",
		Codec:           "h264",
		BitrateKbps:     8000,
		Width:           1920,
		Height:          1080,
		TotalPixels:     1920 * 1080,
		FPS:             30,
		SizeMB:          700,
		Exists:          true,
		TranscodeStatus: models.VideoStatusWait,
	}
	require.NoError(t, db.Create(video).Error)
	assert.False(t, video.ID.IsZero())

	var loaded models.Video
	require.NoError(t, db.Where("path = ?", "/movies/a.mp4").First(&loaded).Error)
	assert.Equal(t, models.VideoStatusWait, loaded.TranscodeStatus)
	assert.True(t, loaded.Exists)
}
