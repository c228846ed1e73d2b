package worker

import (
	"time"

	"fourcat/internal/config"
)

// Backoff computes retry delays for transient failures.
type Backoff struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

// BackoffFromConfig reads the [retry] section.
func BackoffFromConfig(cfg *config.Config) Backoff {
	if cfg == nil {
		return Backoff{MaxAttempts: 1}
	}
	return Backoff{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Base:        time.Duration(cfg.Retry.BackoffBase) * time.Second,
		Max:         time.Duration(cfg.Retry.BackoffMax) * time.Second,
	}
}

// Exhausted reports whether a job that has already failed attempts times may
// not be retried again. A ceiling of one or less disables automatic retry.
func (b Backoff) Exhausted(attempts int) bool {
	return attempts+1 >= b.MaxAttempts
}

// Delay returns base * 2^(attempt-1), capped at Max when Max is positive.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 || b.Base <= 0 {
		return 0
	}
	delay := b.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}
