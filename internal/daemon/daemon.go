// Package daemon runs the vigil background service: it wires the
// database, scan engine, scheduler, and API server together and manages
// their lifecycle.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/vigilsec/vigil/internal/api"
	"github.com/vigilsec/vigil/internal/config"
	"github.com/vigilsec/vigil/internal/db"
	"github.com/vigilsec/vigil/internal/engine"
	"github.com/vigilsec/vigil/internal/executor"
	"github.com/vigilsec/vigil/internal/logging"
	"github.com/vigilsec/vigil/internal/metrics"
	"github.com/vigilsec/vigil/internal/scheduler"
)

// File permission constants.
const (
	defaultDirPermissions  = 0o750
	defaultFilePermissions = 0o600

	systemMetricsInterval = 15 * time.Second
)

// Daemon is the vigil service process.
type Daemon struct {
	cfg       *config.Config
	logger    *logging.Logger
	database  *db.DB
	metrics   *metrics.Metrics
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
	apiServer *api.Server

	pidFile string
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a daemon instance.
func New(cfg *config.Config, logger *logging.Logger) *Daemon {
	if logger == nil {
		logger = logging.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		cfg:     cfg,
		logger:  logger.WithComponent("daemon"),
		pidFile: cfg.Daemon.PIDFile,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start brings up all components and blocks until shutdown.
func (d *Daemon) Start() error {
	d.logger.Info("starting vigil daemon")

	if err := d.cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if d.cfg.Daemon.WorkDir != "" {
		if err := os.MkdirAll(d.cfg.Daemon.WorkDir, defaultDirPermissions); err != nil {
			return fmt.Errorf("failed to create working directory: %w", err)
		}
	}

	if err := d.createPIDFile(); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}

	d.setupSignalHandlers()

	if err := d.initComponents(); err != nil {
		d.cleanup()
		return err
	}

	d.logger.Info("daemon started")
	return d.run()
}

// Stop shuts the daemon down gracefully.
func (d *Daemon) Stop() error {
	d.logger.Info("stopping daemon")
	d.cancel()

	select {
	case <-d.done:
	case <-time.After(d.cfg.Daemon.ShutdownTimeout):
		d.logger.Warn("shutdown timeout reached")
	}

	d.cleanup()
	return nil
}

// initComponents wires the database, engine, scheduler, and API server.
func (d *Daemon) initComponents() error {
	d.logger.Info("connecting to database",
		"host", d.cfg.Database.Host, "database", d.cfg.Database.Database)

	dbConfig := d.cfg.GetDatabaseConfig()
	database, err := db.ConnectAndMigrate(d.ctx, &dbConfig, d.logger)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	d.database = database

	d.metrics = metrics.New()
	database.SetMetrics(d.metrics)
	go d.metrics.StartPeriodicUpdates(d.ctx, systemMetricsInterval)

	jobs := db.NewScanJobRepository(database)
	results := db.NewScanResultRepository(database)
	endpoints := db.NewEndpointRepository(database)
	groups := db.NewEndpointGroupRepository(database)
	schedules := db.NewScheduledScanRepository(database)

	exec := executor.NewNmapExecutor(d.logger)
	d.engine = engine.New(d.cfg.Engine, jobs, results, endpoints, exec, d.metrics, d.logger)

	if d.cfg.Scheduler.Enabled {
		d.scheduler = scheduler.New(d.cfg.Scheduler, schedules, d.engine, d.metrics, d.logger)
		if err := d.scheduler.Start(); err != nil {
			return fmt.Errorf("scheduler start failed: %w", err)
		}
	}

	if d.cfg.IsAPIEnabled() {
		d.apiServer = api.New(d.cfg, api.Dependencies{
			Scans:     d.engine,
			Schedules: schedules,
			Endpoints: endpoints,
			Groups:    groups,
			Pinger:    database,
			Metrics:   d.metrics,
			Logger:    d.logger,
		})
	}

	return nil
}

// run blocks until the daemon context is canceled.
func (d *Daemon) run() error {
	if d.apiServer != nil {
		go func() {
			d.logger.Info("starting API server", "address", d.cfg.GetAPIAddress())
			if err := d.apiServer.Start(d.ctx); err != nil {
				d.logger.Error("API server error", "error", err)
				d.cancel()
			}
		}()
	}

	<-d.ctx.Done()
	d.logger.Info("shutdown signal received")
	close(d.done)
	return nil
}

// setupSignalHandlers installs handlers for graceful shutdown.
func (d *Daemon) setupSignalHandlers() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigChan
		d.logger.Info("received signal", "signal", sig.String())
		d.cancel()
	}()
}

// createPIDFile writes the daemon PID, refusing to start when another
// instance holds the file.
func (d *Daemon) createPIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(d.pidFile), defaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	if err := d.checkExistingPID(); err != nil {
		return err
	}

	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)), defaultFilePermissions); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	d.logger.Info("created PID file", "path", d.pidFile, "pid", pid)
	return nil
}

// checkExistingPID removes stale PID files and refuses to clobber a
// live instance.
func (d *Daemon) checkExistingPID() error {
	data, err := os.ReadFile(d.pidFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read existing PID file: %w", err)
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		_ = os.Remove(d.pidFile)
		return nil
	}

	if isProcessRunning(pid) {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}

	_ = os.Remove(d.pidFile)
	return nil
}

func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// cleanup tears components down in reverse dependency order.
func (d *Daemon) cleanup() {
	if d.scheduler != nil {
		d.scheduler.Stop()
	}

	if d.engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Daemon.ShutdownTimeout)
		if err := d.engine.Shutdown(ctx); err != nil {
			d.logger.Error("engine shutdown error", "error", err)
		}
		cancel()
	}

	if d.apiServer != nil {
		if err := d.apiServer.Stop(); err != nil {
			d.logger.Error("API server stop error", "error", err)
		}
	}

	if d.database != nil {
		if err := d.database.Close(); err != nil {
			d.logger.Error("database close error", "error", err)
		}
	}

	if d.pidFile != "" {
		if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
			d.logger.Error("failed to remove PID file", "error", err)
		}
	}

	d.logger.Info("cleanup completed")
}
