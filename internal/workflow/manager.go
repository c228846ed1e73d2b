package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fourcat/internal/config"
	"fourcat/internal/logging"
	"fourcat/internal/queue"
	"fourcat/internal/registry"
	"fourcat/internal/worker"
)

// shutdownSlack is added to the grace period when Stop waits for workers, so
// a worker whose watchdog fires at the end of its own grace period can still
// record the forced failure.
const shutdownSlack = 2 * time.Second

// Manager coordinates queue polling and the per-type worker lanes.
type Manager struct {
	cfg          *config.Config
	store        *queue.Store
	registry     *registry.Registry
	logger       *slog.Logger
	runner       Runner
	pollInterval time.Duration
	errorRetry   time.Duration
	grace        time.Duration

	lanes     map[string]*lane
	laneOrder []string

	completions chan completion

	mu            sync.RWMutex
	running       bool
	stopLoop      context.CancelFunc
	stopWorkers   context.CancelCauseFunc
	loopDone      chan struct{}
	workers       sync.WaitGroup
	active        map[int64]activeJob
	lastErr       error
	lastCompleted *activeJob
	outcomes      map[worker.Outcome]int
}

// NewManager constructs a manager with one lane per registered processor.
func NewManager(cfg *config.Config, store *queue.Store, reg *registry.Registry, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:          cfg,
		store:        store,
		registry:     reg,
		logger:       logging.NewComponentLogger(logger, "workflow-manager"),
		pollInterval: cfg.PollInterval(),
		errorRetry:   time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		grace:        cfg.GracePeriod(),
		lanes:        make(map[string]*lane),
		completions:  make(chan completion),
		active:       make(map[int64]activeJob),
		outcomes:     make(map[worker.Outcome]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.runner == nil {
		m.runner = worker.New(cfg, store, reg, logger, worker.WithGracePeriod(m.grace))
	}
	for _, desc := range reg.Descriptors() {
		limit := desc.Concurrency
		if limit < 1 {
			limit = 1
		}
		m.lanes[desc.TypeID] = &lane{typeID: desc.TypeID, limit: limit}
		m.laneOrder = append(m.laneOrder, desc.TypeID)
	}
	return m
}
