package workflow

import (
	"context"
	"time"

	"fourcat/internal/queue"
	"fourcat/internal/worker"
)

// Runner executes one claimed job. *worker.Worker is the production runner.
type Runner interface {
	Run(ctx context.Context, job *queue.Job) worker.Report
}

// lane tracks the capacity of one processor type.
type lane struct {
	typeID string
	limit  int
	active int
}

func (l *lane) spare() bool {
	return l.active < l.limit
}

type completion struct {
	typeID string
	jobID  int64
	report worker.Report
}

// activeJob is a running job as seen by Status and shutdown.
type activeJob struct {
	ID        int64
	Type      string
	Dataset   string
	StartedAt time.Time
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithPollInterval overrides the configured queue poll interval.
func WithPollInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithErrorRetryInterval overrides the wait after a failed queue fetch.
func WithErrorRetryInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.errorRetry = d
		}
	}
}

// WithGracePeriod overrides how long Stop waits for interrupted workers.
func WithGracePeriod(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.grace = d
		}
	}
}

// WithRunner replaces the job runner, mainly for tests.
func WithRunner(r Runner) ManagerOption {
	return func(m *Manager) {
		m.runner = r
	}
}
