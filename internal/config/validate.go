package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateProcessors()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.StagingDir == c.Paths.ResultsDir {
		return errors.New("paths.staging_dir and paths.results_dir must differ; staging directories are deleted after every run")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.grace_period":         c.Workflow.GracePeriod,
	}); err != nil {
		return err
	}
	if c.Workflow.JobTimeout < 0 {
		return errors.New("workflow.job_timeout must not be negative")
	}
	if c.Workflow.StaleStagingAge < 0 {
		return errors.New("workflow.stale_staging_age must not be negative")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be at least 1")
	}
	if c.Retry.BackoffBase < 0 || c.Retry.BackoffMax < 0 {
		return errors.New("retry.backoff_base and retry.backoff_max must not be negative")
	}
	if c.Retry.BackoffMax > 0 && c.Retry.BackoffMax < c.Retry.BackoffBase {
		return errors.New("retry.backoff_max must not be smaller than retry.backoff_base")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (use console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateProcessors() error {
	for typeID, override := range c.Processors {
		if typeID == "" {
			return errors.New("processors: empty processor type in override table")
		}
		if override.Concurrency < 0 {
			return fmt.Errorf("processors.%s.concurrency must not be negative", typeID)
		}
		if override.Timeout < 0 {
			return fmt.Errorf("processors.%s.timeout must not be negative", typeID)
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
