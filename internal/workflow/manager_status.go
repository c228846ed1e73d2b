package workflow

import (
	"context"
	"time"

	"fourcat/internal/logging"
	"fourcat/internal/queue"
	"fourcat/internal/worker"
)

// LaneStatus reports the capacity of one processor type.
type LaneStatus struct {
	Type   string
	Limit  int
	Active int
}

// RunningJob describes a job currently held by a worker.
type RunningJob struct {
	ID         int64
	Type       string
	DatasetKey string
	StartedAt  time.Time
}

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running       bool
	LastError     string
	LastCompleted *RunningJob
	Lanes         []LaneStatus
	Jobs          []RunningJob
	Outcomes      map[worker.Outcome]int
	QueueStats    []queue.TypeStats
	DatasetCounts map[queue.Status]int
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:  m.running,
		Lanes:    make([]LaneStatus, 0, len(m.laneOrder)),
		Outcomes: make(map[worker.Outcome]int, len(m.outcomes)),
	}
	for _, typeID := range m.laneOrder {
		l := m.lanes[typeID]
		summary.Lanes = append(summary.Lanes, LaneStatus{Type: l.typeID, Limit: l.limit, Active: l.active})
	}
	for outcome, count := range m.outcomes {
		summary.Outcomes[outcome] = count
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastCompleted != nil {
		last := runningJob(*m.lastCompleted)
		summary.LastCompleted = &last
	}
	m.mu.RUnlock()

	for _, job := range m.activeJobs() {
		summary.Jobs = append(summary.Jobs, runningJob(job))
	}

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}
	summary.QueueStats = stats

	counts, err := m.store.DatasetCounts(ctx)
	if err != nil {
		m.logger.Warn("failed to read dataset counts", logging.Error(err))
	}
	summary.DatasetCounts = counts
	return summary
}

func runningJob(job activeJob) RunningJob {
	return RunningJob{ID: job.ID, Type: job.Type, DatasetKey: job.Dataset, StartedAt: job.StartedAt}
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
