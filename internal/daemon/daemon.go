package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"fourcat/internal/config"
	"fourcat/internal/logging"
	"fourcat/internal/queue"
	"fourcat/internal/registry"
	"fourcat/internal/staging"
	"fourcat/internal/workflow"
)

// Daemon coordinates the queue store, the worker manager and single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	registry *registry.Registry
	workflow *workflow.Manager

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	running   bool
	recovered bool
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Workflow     workflow.StatusSummary
	DatabasePath string
	LockFilePath string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, reg *registry.Registry, wf *workflow.Manager, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || reg == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, registry, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		registry: reg,
		workflow: wf,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, recovers claims left by a previous process,
// removes stale staging areas and starts the worker manager.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another fourcat daemon instance is already running")
	}

	if !d.recovered {
		released, err := d.store.ReleaseAll(ctx)
		if err != nil {
			_ = d.lock.Unlock()
			return fmt.Errorf("recover claimed jobs: %w", err)
		}
		d.recovered = true
		if released > 0 {
			logging.WarnWithContext(d.logger, "released jobs claimed by a previous run", "claims_recovered",
				logging.Int64("released", released),
				logging.String(logging.FieldErrorHint, "the previous daemon did not shut down cleanly"),
				logging.String(logging.FieldImpact, "released jobs run again from the start"),
			)
		}

		maxAge := time.Duration(d.cfg.Workflow.StaleStagingAge) * time.Second
		cleaned := staging.CleanStale(ctx, d.cfg.Paths.StagingDir, maxAge, d.logger)
		if len(cleaned.Removed) > 0 || len(cleaned.Errors) > 0 {
			d.logger.Info("stale staging cleanup finished",
				logging.String(logging.FieldEventType, "staging_cleanup"),
				logging.Int("removed", len(cleaned.Removed)),
				logging.Int("failed", len(cleaned.Errors)),
			)
		}
	}

	if err := d.workflow.Start(ctx); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}

	d.running = true
	d.logger.Info("fourcat daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("database", d.store.Path()),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock. It returns
// the ids of jobs that were still running when the grace period ran out.
func (d *Daemon) Stop() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}

	abandoned := d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running = false
	d.logger.Info("fourcat daemon stopped",
		logging.String(logging.FieldEventType, "daemon_stopped"),
		logging.Int("abandoned_jobs", len(abandoned)),
	)
	return abandoned
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()
	return Status{
		Running:      running,
		Workflow:     d.workflow.Status(ctx),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
	}
}
