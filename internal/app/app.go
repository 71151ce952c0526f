package app

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/common"
	"github.com/ternarybob/tessera/internal/handlers"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/services/events"
	"github.com/ternarybob/tessera/internal/services/executor"
	"github.com/ternarybob/tessera/internal/services/files"
	"github.com/ternarybob/tessera/internal/services/maintenance"
	"github.com/ternarybob/tessera/internal/services/scheduler"
	"github.com/ternarybob/tessera/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Core services
	FileService        interfaces.FileService
	SchedulerService   interfaces.SchedulerService
	ExecutorService    *executor.Service
	ComputePool        *executor.Pool
	EventService       interfaces.EventService
	EventPublisher     interfaces.EventPublisher
	ChangeScanner      *events.Scanner
	MaintenanceService *maintenance.Service

	// HTTP handlers
	FileHandler     *handlers.FileHandler
	WorkflowHandler *handlers.WorkflowHandler
	JobHandler      *handlers.JobHandler
	WSHandler       *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	storageManager, err := storage.NewStorageManager(logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.StorageManager = storageManager

	fileService, err := files.NewService(cfg.Uploads.Dir, logger)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize file service: %w", err)
	}
	app.FileService = fileService

	jobs := storageManager.JobStore()
	workflows := storageManager.WorkflowStore()

	app.ComputePool = executor.NewPool(cfg.Executor.ComputeWorkers, logger)
	app.ComputePool.Start()

	app.ExecutorService = executor.NewService(jobs, fileService, app.ComputePool, &cfg.Executor, logger)
	app.SchedulerService = scheduler.NewService(jobs, app.ExecutorService, &cfg.Scheduler, logger)

	pollInterval, err := cfg.EventsPollInterval()
	if err != nil {
		storageManager.Close()
		return nil, err
	}
	app.EventService = events.NewService(logger)
	app.EventPublisher = events.NewPublisher(jobs, workflows, pollInterval, logger)
	app.ChangeScanner = events.NewScanner(jobs, workflows, app.EventService, pollInterval, logger)
	app.ChangeScanner.Start()

	app.MaintenanceService = maintenance.NewService(app.SchedulerService, jobs, fileService, &cfg.Maintenance, logger)
	if err := app.MaintenanceService.Start(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to start maintenance service: %w", err)
	}

	app.FileHandler = handlers.NewFileHandler(fileService, logger)
	app.WorkflowHandler = handlers.NewWorkflowHandler(workflows, jobs, app.EventPublisher, logger)
	app.JobHandler = handlers.NewJobHandler(jobs, workflows, fileService, app.SchedulerService, app.EventPublisher, logger)
	app.WSHandler = handlers.NewWebSocketHandler(app.EventService, cfg.ProgressThrottleInterval(), logger)

	logger.Info().
		Str("storage_backend", cfg.Storage.Backend).
		Int("max_workers", cfg.Scheduler.MaxWorkers).
		Int("max_active_users", cfg.Scheduler.MaxActiveUsers).
		Bool("real_kernels", cfg.Executor.RealKernels).
		Msg("Application initialized")

	return app, nil
}

// Close releases application resources in reverse dependency order
func (a *App) Close() {
	if a.MaintenanceService != nil {
		a.MaintenanceService.Stop()
	}
	if a.ChangeScanner != nil {
		a.ChangeScanner.Stop()
	}
	if a.ComputePool != nil {
		a.ComputePool.Shutdown()
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
		}
	}
	a.Logger.Info().Msg("Application closed")
}
