package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/google/uuid"

	"fourcat/internal/config"
	"fourcat/internal/daemon"
	"fourcat/internal/logging"
	"fourcat/internal/processors"
	"fourcat/internal/queue"
	"fourcat/internal/registry"
	"fourcat/internal/services"
	"fourcat/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Processors replaces the built-in processor set; tests use it.
	Processors []registry.Processor
}

// Run starts the fourcat daemon and blocks until ctx is cancelled or the
// process receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{
		Level:       firstNonEmpty(opts.LogLevel, cfg.Logging.Level),
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", cfg.LogPath()},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	runCtx := services.WithRequestID(signalCtx, uuid.NewString())
	logger = logging.WithContext(runCtx, logger)

	procs := opts.Processors
	if procs == nil {
		procs = processors.All()
	}
	reg, err := registry.Build(cfg, procs...)
	if err != nil {
		logger.Error("invalid processor registry", logging.Error(err),
			logging.String(logging.FieldErrorHint, "check [processors] overrides in the config file"))
		return err
	}

	pidPath := filepath.Join(cfg.Paths.DataDir, "fourcat.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg, queue.WithTypeChecker(reg))
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}

	manager := workflow.NewManager(cfg, store, reg, logger)
	d, err := daemon.New(cfg, store, reg, manager, logger)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	logPreflight(logger, d.Preflight(runCtx))

	if err := d.Start(runCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check the lock file and queue database access"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("fourcat daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	if abandoned := d.Stop(); len(abandoned) > 0 {
		logging.WarnWithContext(logger, "jobs abandoned at shutdown", "jobs_abandoned",
			logging.Any("job_ids", abandoned),
			logging.String(logging.FieldErrorHint, "abandoned jobs are released on the next start"),
		)
	}
	return nil
}

func logPreflight(logger *slog.Logger, results []daemon.CheckResult) {
	for _, result := range results {
		if result.Passed {
			logger.Debug("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
			)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "fix permissions or paths in the config file"),
		)
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
