package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	config := NewDefaultConfig()
	require.NoError(t, config.Validate())

	assert.Equal(t, 4, config.Scheduler.MaxWorkers)
	assert.Equal(t, 3, config.Scheduler.MaxActiveUsers)
	assert.Equal(t, 1024, config.Executor.TileSize)
	assert.Equal(t, 64, config.Executor.TileOverlap)
	assert.Equal(t, "memory", config.Storage.Backend)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tessera.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 9090

[scheduler]
max_workers = 8

[executor]
tile_size = 512
tile_overlap = 32
compute_workers = 2
real_kernels = false
`), 0644))

	config, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, config.Server.Port)
	assert.Equal(t, 8, config.Scheduler.MaxWorkers)
	assert.Equal(t, 512, config.Executor.TileSize)
	assert.False(t, config.Executor.RealKernels)

	// Unset sections keep their defaults
	assert.Equal(t, 3, config.Scheduler.MaxActiveUsers)
}

func TestValidateRejectsBadGateLimits(t *testing.T) {
	config := NewDefaultConfig()
	config.Scheduler.MaxWorkers = 0
	assert.Error(t, config.Validate())

	config = NewDefaultConfig()
	config.Executor.TileOverlap = config.Executor.TileSize
	assert.Error(t, config.Validate())

	config = NewDefaultConfig()
	config.Storage.Backend = "postgres"
	assert.Error(t, config.Validate())
}

func TestEventsPollIntervalBounds(t *testing.T) {
	config := NewDefaultConfig()

	config.Events.PollInterval = ""
	d, err := config.EventsPollInterval()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	config.Events.PollInterval = "100ms"
	d, err = config.EventsPollInterval()
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, d)

	// The snapshot cadence is capped at 250ms
	config.Events.PollInterval = "2s"
	_, err = config.EventsPollInterval()
	assert.Error(t, err)

	config.Events.PollInterval = "not a duration"
	_, err = config.EventsPollInterval()
	assert.Error(t, err)
}

func TestProgressThrottleInterval(t *testing.T) {
	config := NewDefaultConfig()

	config.Events.Progress.ThrottleInterval = ""
	assert.Zero(t, config.ProgressThrottleInterval())

	config.Events.Progress.ThrottleInterval = "250ms"
	assert.Equal(t, 250*time.Millisecond, config.ProgressThrottleInterval())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TESSERA_SERVER_PORT", "7070")
	t.Setenv("TESSERA_MAX_WORKERS", "16")
	t.Setenv("TESSERA_REAL_KERNELS", "false")

	config, err := LoadFromFile("")
	require.NoError(t, err)
	assert.Equal(t, 7070, config.Server.Port)
	assert.Equal(t, 16, config.Scheduler.MaxWorkers)
	assert.False(t, config.Executor.RealKernels)
}
