package config

const (
	defaultDataDir            = "~/.local/share/fourcat"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultQueuePollInterval  = 1
	defaultErrorRetryInterval = 10
	defaultGracePeriod        = 30
	defaultStaleStagingAge    = 24 * 60 * 60
	defaultRetryMaxAttempts   = 3
	defaultRetryBackoffBase   = 30
	defaultRetryBackoffMax    = 30 * 60
)

// Default returns a Config populated with repository defaults. The staging,
// results and log directories are left empty and derived from the data
// directory during normalization.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			GracePeriod:        defaultGracePeriod,
			StaleStagingAge:    defaultStaleStagingAge,
		},
		Retry: Retry{
			MaxAttempts: defaultRetryMaxAttempts,
			BackoffBase: defaultRetryBackoffBase,
			BackoffMax:  defaultRetryBackoffMax,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Processors: map[string]ProcessorOverride{},
	}
}
