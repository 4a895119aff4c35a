package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "5 * * * *", cfg.Scan.Cron)
	assert.True(t, cfg.Scan.OnStartup)
	assert.Equal(t, 20, cfg.Scan.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Liveness.HeartbeatTimeout)
	assert.Equal(t, 60*time.Second, cfg.Liveness.TaskStallTimeout)
	assert.Equal(t, 30*time.Second, cfg.Liveness.SweepInterval)
	assert.Equal(t, 5*time.Second, cfg.Socket.PingInterval)
	assert.Equal(t, 10*time.Second, cfg.Socket.PongTimeout)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
database:
  driver: postgres
  dsn: "host=localhost user=distconv dbname=distconv"
scan:
  paths: "/mnt/movies, /mnt/tv"
liveness:
  heartbeat_timeout: 45s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, []string{"/mnt/movies", "/mnt/tv"}, cfg.Scan.Paths)
	assert.Equal(t, 45*time.Second, cfg.Liveness.HeartbeatTimeout)
	// Untouched sections keep their defaults.
	assert.Equal(t, 60*time.Second, cfg.Liveness.TaskStallTimeout)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DISTCONV_SERVER_PORT", "7070")
	t.Setenv("DISTCONV_DATABASE_DSN", "override.db")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "override.db", cfg.Database.DSN)
}

func TestValidateRejectsBadDriver(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Database.Driver = "oracle"
	assert.Error(t, cfg.Validate())
}

func TestValidateScanRoots(t *testing.T) {
	dir := t.TempDir()

	ok := ScanConfig{Paths: []string{dir, "/does/not/exist"}}
	assert.NoError(t, ok.ValidateScanRoots())

	bad := ScanConfig{Paths: []string{"/does/not/exist", "/also/missing"}}
	assert.Error(t, bad.ValidateScanRoots())

	empty := ScanConfig{}
	assert.NoError(t, empty.ValidateScanRoots())
}
