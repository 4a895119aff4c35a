package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/distconv/distconv/internal/models"
	"github.com/distconv/distconv/internal/probe"
	"github.com/distconv/distconv/internal/repository"
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

// fakeProber serves canned metadata by basename and records probe calls.
type fakeProber struct {
	byName map[string]probe.MediaInfo
	calls  []string
}

func (f *fakeProber) Probe(_ context.Context, path string) (*probe.MediaInfo, error) {
	f.calls = append(f.calls, filepath.Base(path))
	info, ok := f.byName[filepath.Base(path)]
	if !ok {
		return nil, errors.New("probe failed")
	}
	return &info, nil
}

func writeFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func TestScanCatalogsNewFiles(t *testing.T) {
	db := setupTestDB(t)
	root := t.TempDir()
	ctx := context.Background()

	writeFile(t, root, "movies/a.mp4", 2048)
	writeFile(t, root, "movies/b.mkv", 4096)
	writeFile(t, root, "movies/c-trailer.mp4", 512)
	writeFile(t, root, "notes.txt", 100)

	prober := &fakeProber{byName: map[string]probe.MediaInfo{
		"a.mp4": {Codec: "h264", BitrateKbps: 8000, Width: 1920, Height: 1080, FPS: 30},
		"b.mkv": {Codec: "hevc", BitrateKbps: 3000, Width: 1920, Height: 1080, FPS: 30},
	}}

	s := New(db, prober, []string{root}, 20, nil)
	require.NoError(t, s.Scan(ctx))

	videos := repository.NewVideoRepository(db)

	a, err := videos.GetByPath(ctx, string(filepath.Separator)+filepath.Join("movies", "a.mp4"))
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, models.VideoStatusWait, a.TranscodeStatus)
	assert.True(t, a.Exists)
	assert.InDelta(t, 2048.0/(1024*1024), a.SizeMB, 0.001)
	assert.Equal(t, 1920*1080, a.TotalPixels)

	b, err := videos.GetByPath(ctx, string(filepath.Separator)+filepath.Join("movies", "b.mkv"))
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, models.VideoStatusNotNeeded, b.TranscodeStatus, "low-bitrate hevc is left alone")

	_, total, err := videos.List(ctx, repository.VideoFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total, "trailers and non-video files are skipped")
}

func TestScanUnchangedFileIsNotReprobed(t *testing.T) {
	db := setupTestDB(t)
	root := t.TempDir()
	ctx := context.Background()

	writeFile(t, root, "a.mp4", 2048)

	prober := &fakeProber{byName: map[string]probe.MediaInfo{
		"a.mp4": {Codec: "h264", BitrateKbps: 8000, Width: 1920, Height: 1080, FPS: 30},
	}}

	s := New(db, prober, []string{root}, 20, nil)
	require.NoError(t, s.Scan(ctx))
	require.NoError(t, s.Scan(ctx))

	assert.Len(t, prober.calls, 1, "second scan of an unchanged file skips the probe")

	video, err := repository.NewVideoRepository(db).GetByPath(ctx, string(filepath.Separator)+"a.mp4")
	require.NoError(t, err)
	assert.True(t, video.Exists)
}

func TestScanChangedFileIsRefreshed(t *testing.T) {
	db := setupTestDB(t)
	root := t.TempDir()
	ctx := context.Background()

	path := writeFile(t, root, "a.mp4", 2048)

	prober := &fakeProber{byName: map[string]probe.MediaInfo{
		"a.mp4": {Codec: "h264", BitrateKbps: 8000, Width: 1920, Height: 1080, FPS: 30},
	}}

	s := New(db, prober, []string{root}, 20, nil)
	require.NoError(t, s.Scan(ctx))

	// Grow the file well past the tolerance and bump its mtime.
	require.NoError(t, os.WriteFile(path, make([]byte, 2*1024*1024), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))
	prober.byName["a.mp4"] = probe.MediaInfo{Codec: "hevc", BitrateKbps: 2500, Width: 1920, Height: 1080, FPS: 30}

	require.NoError(t, s.Scan(ctx))

	video, err := repository.NewVideoRepository(db).GetByPath(ctx, string(filepath.Separator)+"a.mp4")
	require.NoError(t, err)
	assert.Equal(t, "hevc", video.Codec)
	assert.Equal(t, models.VideoStatusNotNeeded, video.TranscodeStatus, "refresh re-classifies")
	assert.Len(t, prober.calls, 2)
}

func TestScanTombstonesMissingFiles(t *testing.T) {
	db := setupTestDB(t)
	root := t.TempDir()
	ctx := context.Background()

	path := writeFile(t, root, "a.mp4", 2048)

	prober := &fakeProber{byName: map[string]probe.MediaInfo{
		"a.mp4": {Codec: "h264", BitrateKbps: 8000, Width: 1920, Height: 1080, FPS: 30},
	}}

	s := New(db, prober, []string{root}, 20, nil)
	require.NoError(t, s.Scan(ctx))

	require.NoError(t, os.Remove(path))
	require.NoError(t, s.Scan(ctx))

	video, err := repository.NewVideoRepository(db).GetByPath(ctx, string(filepath.Separator)+"a.mp4")
	require.NoError(t, err)
	require.NotNil(t, video, "rows are tombstoned, never deleted")
	assert.False(t, video.Exists)
}

func TestScanSkipsProbeFailures(t *testing.T) {
	db := setupTestDB(t)
	root := t.TempDir()
	ctx := context.Background()

	writeFile(t, root, "broken.mp4", 2048)
	writeFile(t, root, "good.mp4", 2048)

	prober := &fakeProber{byName: map[string]probe.MediaInfo{
		"good.mp4": {Codec: "h264", BitrateKbps: 8000, Width: 1920, Height: 1080, FPS: 30},
	}}

	s := New(db, prober, []string{root}, 20, nil)
	require.NoError(t, s.Scan(ctx), "a single probe failure must not abort the scan")

	_, total, err := repository.NewVideoRepository(db).List(ctx, repository.VideoFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestScanDetectsVR(t *testing.T) {
	db := setupTestDB(t)
	root := t.TempDir()
	ctx := context.Background()

	writeFile(t, root, "SIVR-100.mp4", 2048)

	prober := &fakeProber{byName: map[string]probe.MediaInfo{
		"SIVR-100.mp4": {Codec: "hevc", BitrateKbps: 30000, Width: 3840, Height: 2160, FPS: 60},
	}}

	s := New(db, prober, []string{root}, 20, nil)
	require.NoError(t, s.Scan(ctx))

	video, err := repository.NewVideoRepository(db).GetByPath(ctx, string(filepath.Separator)+"SIVR-100.mp4")
	require.NoError(t, err)
	assert.True(t, video.IsVR)
	assert.Equal(t, models.VideoStatusNotNeeded, video.TranscodeStatus, "VR hevc is never re-encoded")
}

func TestScanPreservesLiveTaskState(t *testing.T) {
	db := setupTestDB(t)
	root := t.TempDir()
	ctx := context.Background()

	path := writeFile(t, root, "a.mp4", 2048)

	prober := &fakeProber{byName: map[string]probe.MediaInfo{
		"a.mp4": {Codec: "h264", BitrateKbps: 8000, Width: 1920, Height: 1080, FPS: 30},
	}}

	s := New(db, prober, []string{root}, 20, nil)
	require.NoError(t, s.Scan(ctx))

	videos := repository.NewVideoRepository(db)
	video, err := videos.GetByPath(ctx, string(filepath.Separator)+"a.mp4")
	require.NoError(t, err)

	taskID := models.NewULID()
	video.TranscodeStatus = models.VideoStatusRunning
	video.CurrentTaskID = &taskID
	require.NoError(t, videos.Update(ctx, video))

	// Change the file while the task is live; the scanner must refresh the
	// metadata but leave the task linkage intact.
	require.NoError(t, os.WriteFile(path, make([]byte, 2*1024*1024), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	require.NoError(t, s.Scan(ctx))

	reloaded, err := videos.GetByPath(ctx, string(filepath.Separator)+"a.mp4")
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusRunning, reloaded.TranscodeStatus)
	require.NotNil(t, reloaded.CurrentTaskID)
	assert.Equal(t, taskID, *reloaded.CurrentTaskID)
}

func TestPathKey(t *testing.T) {
	sep := string(filepath.Separator)

	key, err := PathKey(filepath.Join(sep, "mnt", "movies"), filepath.Join(sep, "mnt", "movies", "sub", "a.mp4"))
	require.NoError(t, err)
	assert.Equal(t, sep+filepath.Join("sub", "a.mp4"), key)
	assert.True(t, len(key) > 0 && key[0] == filepath.Separator, "path keys always start with a separator")
}

func TestIsVideoFile(t *testing.T) {
	assert.True(t, isVideoFile("a.mp4"))
	assert.True(t, isVideoFile("A.MKV"))
	assert.True(t, isVideoFile("b.avi"))
	assert.True(t, isVideoFile("c.flv"))
	assert.False(t, isVideoFile("a.mov"))
	assert.False(t, isVideoFile("movie-trailer.mp4"))
	assert.False(t, isVideoFile("Movie-Trailer.mkv"))
}
