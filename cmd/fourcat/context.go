package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"fourcat/internal/config"
	"fourcat/internal/daemon"
	"fourcat/internal/logging"
	"fourcat/internal/processors"
	"fourcat/internal/queue"
	"fourcat/internal/registry"
	"fourcat/internal/workflow"
)

// processorSet returns the processors the CLI registers; tests replace it.
var processorSet = processors.All

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) registry() (*registry.Registry, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return registry.Build(cfg, processorSet()...)
}

// withStore opens the queue database for the duration of fn.
func (c *commandContext) withStore(fn func(store *queue.Store, reg *registry.Registry) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	reg, err := c.registry()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg, queue.WithTypeChecker(reg))
	if err != nil {
		return fmt.Errorf("open queue database: %w", err)
	}
	defer store.Close()
	return fn(store, reg)
}

// withDaemon builds a daemon that is never started; its submission and
// retry helpers only touch the database.
func (c *commandContext) withDaemon(fn func(d *daemon.Daemon, store *queue.Store) error) error {
	return c.withStore(func(store *queue.Store, reg *registry.Registry) error {
		cfg, _ := c.ensureConfig()
		logger := logging.NewNop()
		mgr := workflow.NewManager(cfg, store, reg, logger)
		d, err := daemon.New(cfg, store, reg, mgr, logger)
		if err != nil {
			return err
		}
		return fn(d, store)
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
