package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"

	"postflow/internal/api"
	"postflow/internal/config"
	"postflow/internal/logging"
	"postflow/internal/pipeline"
	"postflow/internal/project"
	"postflow/internal/publish"
	"postflow/internal/services/content"
	"postflow/internal/services/linkedin"
	"postflow/internal/services/x"
	"postflow/internal/store"
	"postflow/internal/telemetry"
)

// Daemon wires the store, pipeline manager, publish dispatcher, and HTTP API
// together and enforces single-instance execution via a lock file.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.Store
	manager    *pipeline.Manager
	service    *pipeline.Service
	dispatcher *publish.Dispatcher
	hub        *api.Hub
	apiServer  *apiServer
	metrics    *telemetry.Collector

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with all subsystems initialized but not started.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || st == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewCollector(registry)

	generator := content.NewClient(content.Config{
		APIKey:         cfg.ContentGen.APIKey,
		BaseURL:        cfg.ContentGen.BaseURL,
		Model:          cfg.ContentGen.Model,
		TimeoutSeconds: cfg.ContentGen.TimeoutSeconds,
	})
	manager := pipeline.NewManager(cfg, st, generator, logger, metrics)
	service := pipeline.NewService(cfg, st, manager.Tracker(), logger, metrics)

	publishers := buildPublishers(cfg)
	dispatcher := publish.NewDispatcher(st, cfg.Publishing, publishers, logger, metrics)

	hub := api.NewHub(logger)
	st.NotifyEvents(hub.Broadcast)

	server := api.NewServer(service, dispatcher, hub, logger, registry)
	apiSrv := newAPIServer(cfg.Paths.APIBind, server.Router(), logger)

	lockPath := filepath.Join(cfg.Paths.LogDir, "postflowd.lock")
	return &Daemon{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		manager:    manager,
		service:    service,
		dispatcher: dispatcher,
		hub:        hub,
		apiServer:  apiSrv,
		metrics:    metrics,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}, nil
}

// Service exposes the pipeline service for in-process callers.
func (d *Daemon) Service() *pipeline.Service {
	return d.service
}

// Dispatcher exposes the publish dispatcher for manual triggers.
func (d *Daemon) Dispatcher() *publish.Dispatcher {
	return d.dispatcher
}

// Start acquires the instance lock and launches all background services.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another postflow daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.manager.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start pipeline: %w", err)
	}
	go func() {
		if err := d.dispatcher.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("dispatcher stopped", logging.Error(err))
		}
	}()
	if err := d.apiServer.start(runCtx); err != nil {
		d.manager.Stop()
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("postflow daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop halts background services and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.apiServer.stop()
	d.manager.Stop()
	d.hub.Close()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("postflow daemon stopped")
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddr reports the bound API listener address, or empty before Start.
func (d *Daemon) APIAddr() string {
	return d.apiServer.addr()
}

func buildPublishers(cfg *config.Config) []publish.Publisher {
	var publishers []publish.Publisher
	if cfg.LinkedIn.Enabled {
		publishers = append(publishers, linkedin.NewClient(cfg.LinkedIn))
	}
	if cfg.X.Enabled {
		publishers = append(publishers, x.NewClient(cfg.X))
	}
	return publishers
}

// EnabledPlatforms lists the platforms with configured adapters.
func EnabledPlatforms(cfg *config.Config) []project.Platform {
	var platforms []project.Platform
	if cfg.LinkedIn.Enabled {
		platforms = append(platforms, project.PlatformLinkedIn)
	}
	if cfg.X.Enabled {
		platforms = append(platforms, project.PlatformX)
	}
	return platforms
}
