// Package app wires the sync engine together: storage, server client,
// reachability monitoring, the drain-cycle orchestrator, and the service
// facade the host application talks to.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dkorolevs/papersync/internal/client"
	"github.com/dkorolevs/papersync/internal/config"
	"github.com/dkorolevs/papersync/internal/connectivity"
	"github.com/dkorolevs/papersync/internal/database"
	"github.com/dkorolevs/papersync/internal/logging"
	"github.com/dkorolevs/papersync/internal/repositories/changes"
	"github.com/dkorolevs/papersync/internal/services"
	"github.com/dkorolevs/papersync/internal/syncer"
)

// App holds the assembled engine.
type App struct {
	config   *config.Config
	logger   logging.Logger
	repos    *database.Repositories
	observer *connectivity.HostObserver
	monitor  *connectivity.Monitor
	orch     *syncer.Orchestrator
	service  *services.SyncService
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	backoff := changes.Backoff{
		Base:       cfg.BackoffBase,
		Cap:        cfg.BackoffCap,
		MaxRetries: cfg.MaxRetries,
	}

	repos, err := database.Init(ctx, cfg.DatabasePath, backoff)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	apiClient, err := client.NewHTTPClient(cfg.ServerURL, cfg.APIToken, client.Options{
		RequestTimeout: cfg.RequestTimeout,
		UploadTimeout:  cfg.UploadTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("client init error: %w", err)
	}

	// Until the host reports otherwise, assume the device is online; the
	// first probe corrects the assumption either way.
	observer := connectivity.NewHostObserver(true)
	monitor := connectivity.NewMonitor(apiClient, observer,
		cfg.ForegroundProbeInterval, cfg.BackgroundProbeInterval, logger)

	orch := syncer.NewOrchestrator(syncer.Options{
		Client:       apiClient,
		Gate:         monitor,
		Cache:        repos.Cache,
		Changes:      repos.Changes,
		Uploads:      repos.Uploads,
		History:      repos.History,
		Backoff:      backoff,
		SyncInterval: cfg.SyncInterval,
		Log:          logger,
	})

	service := services.New(repos, orch, logger)
	orch.SetNotifier(service)
	monitor.SetOnReachable(orch.Trigger)

	return &App{
		config:   cfg,
		logger:   logger,
		repos:    repos,
		observer: observer,
		monitor:  monitor,
		orch:     orch,
		service:  service,
	}, nil
}

// Service returns the facade for the host application.
func (app *App) Service() *services.SyncService {
	return app.service
}

// Connectivity returns the observer the host feeds with device state.
func (app *App) Connectivity() *connectivity.HostObserver {
	return app.observer
}

// Monitor returns the reachability monitor, for activity-level changes
// and status streams.
func (app *App) Monitor() *connectivity.Monitor {
	return app.monitor
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run starts the monitor and the orchestrator and blocks until ctx is
// cancelled or a termination signal arrives.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting sync engine",
		"server", app.config.ServerURL, "db", app.config.DatabasePath)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.monitor.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.orch.Run(ctx)
	}()

	wg.Wait()

	if err := app.repos.DB.Close(); err != nil {
		app.logger.Error(ctx, "failed to close database", "error", err)
	}
	app.logger.Info(ctx, "sync engine stopped")
}
