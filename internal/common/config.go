package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Server      ServerConfig      `toml:"server"`
	Storage     StorageConfig     `toml:"storage"`
	Uploads     UploadsConfig     `toml:"uploads"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	Executor    ExecutorConfig    `toml:"executor"`
	Events      EventsConfig      `toml:"events"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
	Logging     LoggingConfig     `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// StorageConfig selects the store backend. The "memory" backend is the
// reference design; "badger" persists job and workflow records on disk.
type StorageConfig struct {
	Backend string       `toml:"backend"` // "memory" or "badger"
	Badger  BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// UploadsConfig controls where uploaded blobs and job results live
type UploadsConfig struct {
	Dir string `toml:"dir"` // Base uploads directory; results go under <dir>/results
}

// SchedulerConfig holds the admission gate limits
type SchedulerConfig struct {
	MaxWorkers     int `toml:"max_workers"`      // Global concurrent RUNNING cap
	MaxActiveUsers int `toml:"max_active_users"` // Distinct users with >=1 RUNNING job
}

// ExecutorConfig holds tiling and compute pool settings
type ExecutorConfig struct {
	TileSize       int  `toml:"tile_size"`
	TileOverlap    int  `toml:"tile_overlap"`
	ComputeWorkers int  `toml:"compute_workers"` // Blocking-compute pool size
	RealKernels    bool `toml:"real_kernels"`    // false = simulated tile loop
}

// EventsConfig controls the change-notification surface
type EventsConfig struct {
	PollInterval string                 `toml:"poll_interval"` // e.g. "250ms" - observer poll cadence
	Progress     ProgressThrottleConfig `toml:"progress"`
}

// ProgressThrottleConfig throttles high-frequency progress events on the
// WebSocket feed. SSE streams are not throttled.
type ProgressThrottleConfig struct {
	ThrottleInterval string `toml:"throttle_interval"` // e.g. "250ms"; empty disables throttling
}

// MaintenanceConfig controls the periodic sweep
type MaintenanceConfig struct {
	Enabled      bool   `toml:"enabled"`
	Schedule     string `toml:"schedule"`      // Cron schedule format
	SweepOrphans bool   `toml:"sweep_orphans"` // Remove result dirs with no job record
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values.
// Only user-facing settings should be exposed in tessera.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Backend: "memory",
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Uploads: UploadsConfig{
			Dir: "./uploads",
		},
		Scheduler: SchedulerConfig{
			MaxWorkers:     4,
			MaxActiveUsers: 3,
		},
		Executor: ExecutorConfig{
			TileSize:       1024,
			TileOverlap:    64,
			ComputeWorkers: 4,
			RealKernels:    true,
		},
		Events: EventsConfig{
			PollInterval: "250ms",
			Progress: ProgressThrottleConfig{
				ThrottleInterval: "250ms",
			},
		},
		Maintenance: MaintenanceConfig{
			Enabled:      true,
			Schedule:     "@every 5m",
			SweepOrphans: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
func LoadFromFile(path string) (*Config, error) {
	config := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("TESSERA_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("TESSERA_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("TESSERA_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if backend := os.Getenv("TESSERA_STORAGE_BACKEND"); backend != "" {
		config.Storage.Backend = backend
	}
	if dir := os.Getenv("TESSERA_UPLOADS_DIR"); dir != "" {
		config.Uploads.Dir = dir
	}
	if v := os.Getenv("TESSERA_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Scheduler.MaxWorkers = n
		}
	}
	if v := os.Getenv("TESSERA_MAX_ACTIVE_USERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Scheduler.MaxActiveUsers = n
		}
	}
	if v := os.Getenv("TESSERA_REAL_KERNELS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Executor.RealKernels = b
		}
	}
	if level := os.Getenv("TESSERA_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks configuration invariants that would otherwise surface
// as runtime faults deep inside the executor or scheduler.
func (c *Config) Validate() error {
	if c.Scheduler.MaxWorkers <= 0 {
		return fmt.Errorf("scheduler.max_workers must be positive, got %d", c.Scheduler.MaxWorkers)
	}
	if c.Scheduler.MaxActiveUsers <= 0 {
		return fmt.Errorf("scheduler.max_active_users must be positive, got %d", c.Scheduler.MaxActiveUsers)
	}
	if c.Executor.TileSize <= 0 {
		return fmt.Errorf("executor.tile_size must be positive, got %d", c.Executor.TileSize)
	}
	if c.Executor.TileOverlap < 0 || c.Executor.TileOverlap >= c.Executor.TileSize {
		return fmt.Errorf("executor.tile_overlap must be in [0, tile_size), got %d", c.Executor.TileOverlap)
	}
	if c.Executor.ComputeWorkers <= 0 {
		return fmt.Errorf("executor.compute_workers must be positive, got %d", c.Executor.ComputeWorkers)
	}
	if _, err := c.EventsPollInterval(); err != nil {
		return err
	}
	switch c.Storage.Backend {
	case "memory", "badger":
	default:
		return fmt.Errorf("storage.backend must be \"memory\" or \"badger\", got %q", c.Storage.Backend)
	}
	return nil
}

// EventsPollInterval parses the observer poll cadence
func (c *Config) EventsPollInterval() (time.Duration, error) {
	if c.Events.PollInterval == "" {
		return 250 * time.Millisecond, nil
	}
	d, err := time.ParseDuration(c.Events.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid events.poll_interval %q: %w", c.Events.PollInterval, err)
	}
	if d <= 0 || d > 250*time.Millisecond {
		return 0, fmt.Errorf("events.poll_interval must be in (0, 250ms], got %s", d)
	}
	return d, nil
}

// ProgressThrottleInterval parses the WebSocket progress throttle.
// Zero means no throttling.
func (c *Config) ProgressThrottleInterval() time.Duration {
	if c.Events.Progress.ThrottleInterval == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Events.Progress.ThrottleInterval)
	if err != nil {
		return 0
	}
	return d
}
