package workflow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"fourcat/internal/logging"
	"fourcat/internal/queue"
	"fourcat/internal/services"
	"fourcat/internal/worker"
)

// Start begins polling. Jobs run under a context derived from ctx; cancelling
// ctx has the same effect as Stop without the bounded wait.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.laneOrder) == 0 {
		m.mu.Unlock()
		return errors.New("no processors registered")
	}
	for _, l := range m.lanes {
		l.active = 0
	}

	loopCtx, stopLoop := context.WithCancel(ctx)
	workerCtx, stopWorkers := context.WithCancelCause(ctx)
	m.stopLoop = stopLoop
	m.stopWorkers = stopWorkers
	m.loopDone = make(chan struct{})
	m.running = true
	loopDone := m.loopDone
	m.mu.Unlock()

	lanes := make([]logging.Attr, 0, len(m.laneOrder))
	for _, typeID := range m.laneOrder {
		lanes = append(lanes, logging.Int(typeID, m.lanes[typeID].limit))
	}
	m.logger.Info("workflow started",
		logging.String(logging.FieldEventType, "workflow_started"),
		logging.Duration("poll_interval", m.pollInterval),
		logging.Group("lanes", lanes...),
	)

	go m.loop(loopCtx, workerCtx, loopDone)
	return nil
}

// Stop stops claiming, interrupts every running job and waits for workers up
// to the grace period. It returns the ids of jobs that did not finish in time.
func (m *Manager) Stop() []int64 {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	stopLoop, stopWorkers, loopDone := m.stopLoop, m.stopWorkers, m.loopDone
	m.running = false
	m.stopLoop, m.stopWorkers = nil, nil
	m.mu.Unlock()

	stopLoop()
	<-loopDone
	stopWorkers(services.ErrShutdown)

	waited := make(chan struct{})
	go func() {
		m.workers.Wait()
		close(waited)
	}()

	timer := time.NewTimer(m.grace + shutdownSlack)
	defer timer.Stop()
	select {
	case <-waited:
		m.logger.Info("workflow stopped", logging.String(logging.FieldEventType, "workflow_stopped"))
		return nil
	case <-timer.C:
	}

	abandoned := m.activeJobs()
	ids := make([]int64, 0, len(abandoned))
	for _, job := range abandoned {
		ids = append(ids, job.ID)
		logging.WarnWithContext(m.logger, "job still running at shutdown", "job_abandoned",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldJobType, job.Type),
			logging.String(logging.FieldDatasetKey, job.Dataset),
			logging.Duration("running_for", time.Since(job.StartedAt)),
			logging.String(logging.FieldErrorHint, "the job is released at next startup"),
			logging.String(logging.FieldImpact, "job remains claimed until restart"),
		)
	}
	return ids
}

// loop is the only goroutine that claims jobs or changes lane counts.
func (m *Manager) loop(ctx, workerCtx context.Context, done chan struct{}) {
	defer close(done)
	for {
		wait := m.pollInterval
		if err := m.dispatch(ctx, workerCtx, done); err != nil {
			wait = m.errorRetry
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case c := <-m.completions:
			timer.Stop()
			m.complete(c)
		case <-timer.C:
		}
	}
}

// dispatch fills every lane with spare capacity. It returns the first fetch
// error; other lanes are still served.
func (m *Manager) dispatch(ctx, workerCtx context.Context, done chan struct{}) error {
	var firstErr error
	for _, typeID := range m.laneOrder {
		l := m.lanes[typeID]
		for l.spare() {
			if ctx.Err() != nil {
				return firstErr
			}
			job, err := m.store.GetJob(ctx, typeID)
			if err != nil {
				if ctx.Err() == nil {
					m.handleFetchError(typeID, err)
					if firstErr == nil {
						firstErr = err
					}
				}
				break
			}
			if job == nil {
				break
			}
			m.adjustActive(l, 1)
			m.spawn(workerCtx, job, done)
		}
	}
	return firstErr
}

func (m *Manager) spawn(ctx context.Context, job *queue.Job, loopDone chan struct{}) {
	m.track(job)
	m.workers.Add(1)
	go func() {
		defer m.workers.Done()
		report := m.runJob(ctx, job)
		m.untrack(job, report)
		select {
		case m.completions <- completion{typeID: job.Type, jobID: job.ID, report: report}:
		case <-loopDone:
		}
	}()
}

// runJob shields the manager from a crashing runner. A panic releases the job
// after the error retry interval.
func (m *Manager) runJob(ctx context.Context, job *queue.Job) (report worker.Report) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		err := fmt.Errorf("worker panic: %v", recovered)
		m.setLastError(err)
		logging.ErrorWithContext(m.logger, "worker crashed; releasing job", "worker_panic",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldJobType, job.Type),
			logging.Any("panic", recovered),
			logging.String("stack", string(debug.Stack())),
			logging.String(logging.FieldErrorHint, "report this as a bug"),
		)
		if relErr := m.store.Release(context.WithoutCancel(ctx), job, m.errorRetry); relErr != nil {
			m.logger.Error("crashed job not released", logging.Error(relErr))
		}
		report = worker.Report{Outcome: worker.OutcomeInterrupted, Err: err}
	}()
	return m.runner.Run(ctx, job)
}

func (m *Manager) complete(c completion) {
	l, ok := m.lanes[c.typeID]
	if !ok {
		return
	}
	m.adjustActive(l, -1)
	if c.report.Err != nil && c.report.Outcome != worker.OutcomeInterrupted && c.report.Outcome != worker.OutcomeRetried {
		m.setLastError(c.report.Err)
	}
}

func (m *Manager) handleFetchError(typeID string, err error) {
	m.setLastError(err)
	m.logger.Error("failed to fetch next job",
		logging.String(logging.FieldJobType, typeID),
		logging.Error(err),
		logging.String(logging.FieldEventType, "queue_fetch_failed"),
		logging.String(logging.FieldErrorHint, "check queue database access"),
		logging.Duration("retry_in", m.errorRetry),
	)
}

func (m *Manager) adjustActive(l *lane, delta int) {
	m.mu.Lock()
	l.active += delta
	if l.active < 0 {
		l.active = 0
	}
	m.mu.Unlock()
}

func (m *Manager) track(job *queue.Job) {
	m.mu.Lock()
	m.active[job.ID] = activeJob{ID: job.ID, Type: job.Type, Dataset: job.DatasetKey(), StartedAt: time.Now()}
	m.mu.Unlock()
}

func (m *Manager) untrack(job *queue.Job, report worker.Report) {
	m.mu.Lock()
	if entry, ok := m.active[job.ID]; ok {
		m.lastCompleted = &entry
	}
	delete(m.active, job.ID)
	m.outcomes[report.Outcome]++
	m.mu.Unlock()
}

func (m *Manager) activeJobs() []activeJob {
	m.mu.RLock()
	jobs := make([]activeJob, 0, len(m.active))
	for _, job := range m.active {
		jobs = append(jobs, job)
	}
	m.mu.RUnlock()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}
