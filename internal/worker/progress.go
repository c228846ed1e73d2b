package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"fourcat/internal/logging"
	"fourcat/internal/queue"
)

// progressReporter turns processor progress callbacks into sampled log lines
// and dataset status messages. It stops writing once closed so an abandoned
// processor cannot race the worker's final dataset update.
type progressReporter struct {
	mu      sync.Mutex
	store   *queue.Store
	dataset *queue.Dataset
	logger  *slog.Logger
	sampler *logging.ProgressSampler
	closed  bool
}

func newProgressReporter(store *queue.Store, ds *queue.Dataset, logger *slog.Logger) *progressReporter {
	return &progressReporter{
		store:   store,
		dataset: ds,
		logger:  logger,
		sampler: logging.NewProgressSampler(10),
	}
}

func (p *progressReporter) report(percent float64, message string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || !p.sampler.ShouldLog(percent, message) {
		return
	}
	message = strings.TrimSpace(message)
	p.logger.Info("job progress",
		logging.String(logging.FieldEventType, "job_progress"),
		logging.Float64(logging.FieldProgressPercent, percent),
		logging.String(logging.FieldProgressMessage, message),
	)
	if p.dataset == nil {
		return
	}
	status := message
	if percent >= 0 {
		status = strings.TrimSpace(fmt.Sprintf("%s (%.0f%%)", message, percent))
	}
	p.dataset.StatusMessage = status
	if err := p.store.UpdateDataset(context.Background(), p.dataset); err != nil {
		p.logger.Debug("progress not persisted", logging.Error(err))
	}
}

func (p *progressReporter) close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}
