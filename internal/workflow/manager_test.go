package workflow_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fourcat/internal/config"
	"fourcat/internal/logging"
	"fourcat/internal/queue"
	"fourcat/internal/registry"
	"fourcat/internal/services"
	"fourcat/internal/testsupport"
	"fourcat/internal/worker"
	"fourcat/internal/workflow"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

func descriptor(typeID, produces string, concurrency int, accepts ...string) registry.Descriptor {
	return registry.Descriptor{
		TypeID:      typeID,
		Title:       typeID,
		Extension:   "csv",
		Version:     "1.0.0",
		Accepts:     accepts,
		Produces:    produces,
		Concurrency: concurrency,
	}
}

func setup(t *testing.T, procs ...registry.Processor) (*config.Config, *queue.Store, *registry.Registry) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	reg, err := registry.New(procs...)
	require.NoError(t, err)
	store := testsupport.MustOpenStore(t, cfg, queue.WithTypeChecker(reg))
	return cfg, store, reg
}

// gatedRunner finishes jobs once the gate of their type is closed and records
// how many jobs of each type ran at the same time.
type gatedRunner struct {
	store *queue.Store
	gates map[string]chan struct{}

	mu     sync.Mutex
	active map[string]int
	peak   map[string]int
	done   map[string]int
}

func newGatedRunner(store *queue.Store, gates map[string]chan struct{}) *gatedRunner {
	return &gatedRunner{
		store:  store,
		gates:  gates,
		active: map[string]int{},
		peak:   map[string]int{},
		done:   map[string]int{},
	}
}

func (g *gatedRunner) Run(ctx context.Context, job *queue.Job) worker.Report {
	g.mu.Lock()
	g.active[job.Type]++
	if g.active[job.Type] > g.peak[job.Type] {
		g.peak[job.Type] = g.active[job.Type]
	}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.active[job.Type]--
		g.mu.Unlock()
	}()

	if gate := g.gates[job.Type]; gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			_ = g.store.Release(context.WithoutCancel(ctx), job, 0)
			return worker.Report{Outcome: worker.OutcomeInterrupted, Err: context.Cause(ctx)}
		}
	}
	if err := g.store.Finish(context.Background(), job); err != nil {
		return worker.Report{Outcome: worker.OutcomeFailed, Err: err}
	}
	g.mu.Lock()
	g.done[job.Type]++
	g.mu.Unlock()
	return worker.Report{Outcome: worker.OutcomeFinished}
}

func (g *gatedRunner) snapshot(typeID string) (active, peak, done int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active[typeID], g.peak[typeID], g.done[typeID]
}

func addJobs(t *testing.T, store *queue.Store, jobType string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := store.AddJob(context.Background(), jobType, queue.Details{"n": i}, "", 0)
		require.NoError(t, err)
	}
}

func TestManagerRespectsLaneConcurrency(t *testing.T) {
	cfg, store, reg := setup(t,
		registry.FuncProcessor{Desc: descriptor("slow", "slow-out", 2, "raw:csv")},
		registry.FuncProcessor{Desc: descriptor("fast", "fast-out", 1, "raw:csv")},
	)
	gate := make(chan struct{})
	runner := newGatedRunner(store, map[string]chan struct{}{"slow": gate})
	addJobs(t, store, "slow", 5)
	addJobs(t, store, "fast", 3)

	mgr := workflow.NewManager(cfg, store, reg, logging.NewNop(),
		workflow.WithRunner(runner),
		workflow.WithPollInterval(tick),
	)
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(func() { mgr.Stop() })

	// A blocked lane must not stall the other type.
	require.Eventually(t, func() bool {
		_, _, done := runner.snapshot("fast")
		return done == 3
	}, waitFor, tick)

	require.Eventually(t, func() bool {
		active, _, _ := runner.snapshot("slow")
		return active == 2
	}, waitFor, tick)
	time.Sleep(5 * tick)
	active, peak, _ := runner.snapshot("slow")
	assert.Equal(t, 2, active)
	assert.Equal(t, 2, peak)

	status := mgr.Status(context.Background())
	assert.True(t, status.Running)
	require.Len(t, status.Lanes, 2)
	assert.Equal(t, workflow.LaneStatus{Type: "fast", Limit: 1, Active: 0}, status.Lanes[0])
	assert.Equal(t, workflow.LaneStatus{Type: "slow", Limit: 2, Active: 2}, status.Lanes[1])
	assert.Len(t, status.Jobs, 2)

	close(gate)
	require.Eventually(t, func() bool {
		_, _, done := runner.snapshot("slow")
		return done == 5
	}, waitFor, tick)
	_, peak, _ = runner.snapshot("slow")
	assert.Equal(t, 2, peak, "lane limit exceeded")
	_, fastPeak, _ := runner.snapshot("fast")
	assert.Equal(t, 1, fastPeak)
}

func TestManagerAppliesConcurrencyOverride(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithProcessorOverride("slow", 3, 0))
	reg, err := registry.Build(cfg, registry.FuncProcessor{Desc: descriptor("slow", "slow-out", 1, "raw:csv")})
	require.NoError(t, err)
	store := testsupport.MustOpenStore(t, cfg, queue.WithTypeChecker(reg))

	gate := make(chan struct{})
	runner := newGatedRunner(store, map[string]chan struct{}{"slow": gate})
	addJobs(t, store, "slow", 4)

	mgr := workflow.NewManager(cfg, store, reg, logging.NewNop(), workflow.WithRunner(runner), workflow.WithPollInterval(tick))
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(func() {
		close(gate)
		mgr.Stop()
	})

	require.Eventually(t, func() bool {
		active, _, _ := runner.snapshot("slow")
		return active == 3
	}, waitFor, tick)
}

func TestManagerStopInterruptsRunningJobs(t *testing.T) {
	var cause atomic.Value
	started := make(chan struct{}, 1)
	proc := registry.FuncProcessor{Desc: descriptor("collect", "items", 1, "raw:query"), RunFunc: func(ctx context.Context, _ registry.Request) (registry.Result, error) {
		started <- struct{}{}
		<-ctx.Done()
		cause.Store(context.Cause(ctx))
		return registry.Result{}, ctx.Err()
	}}
	cfg, store, reg := setup(t, proc)
	ds, job := testsupport.MustQueueDataset(t, store, "collect", nil, "")

	mgr := workflow.NewManager(cfg, store, reg, logging.NewNop(), workflow.WithPollInterval(tick), workflow.WithGracePeriod(time.Second))
	require.NoError(t, mgr.Start(context.Background()))

	select {
	case <-started:
	case <-time.After(waitFor):
		t.Fatal("processor never started")
	}

	abandoned := mgr.Stop()
	assert.Empty(t, abandoned)
	stored, ok := cause.Load().(error)
	require.True(t, ok)
	assert.ErrorIs(t, stored, services.ErrShutdown)

	current, err := store.RequireDataset(context.Background(), ds.Key)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusProcessing, current.Status)

	released, err := store.GetJobByID(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, released)
	assert.False(t, released.Claimed)
	assert.Equal(t, 0, released.Attempts)
	assert.False(t, mgr.Status(context.Background()).Running)
}

func TestManagerRunsPipelineEndToEnd(t *testing.T) {
	writeResult := func(rows int64) func(context.Context, registry.Request) (registry.Result, error) {
		return func(_ context.Context, req registry.Request) (registry.Result, error) {
			if err := os.WriteFile(req.OutputPath, []byte("x\n"), 0o644); err != nil {
				return registry.Result{}, err
			}
			return registry.Result{Rows: rows}, nil
		}
	}
	cfg, store, reg := setup(t,
		registry.FuncProcessor{Desc: descriptor("align", "model", 1, "raw:ndjson"), RunFunc: writeResult(10)},
		registry.FuncProcessor{Desc: descriptor("chart", "chart-image", 1, "model"), RunFunc: writeResult(1)},
	)
	parent, _ := testsupport.MustQueueDataset(t, store, "align", nil, "")

	mgr := workflow.NewManager(cfg, store, reg, logging.NewNop(), workflow.WithPollInterval(tick))
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(func() { mgr.Stop() })

	require.Eventually(t, func() bool {
		children, err := store.ChildrenOf(context.Background(), parent.Key)
		if err != nil || len(children) != 1 {
			return false
		}
		return children[0].Status == queue.StatusFinished
	}, waitFor, tick)

	children, err := store.ChildrenOf(context.Background(), parent.Key)
	require.NoError(t, err)
	assert.Equal(t, "chart", children[0].Type)

	require.Eventually(t, func() bool {
		stats, err := store.Stats(context.Background())
		return err == nil && len(stats) == 0
	}, waitFor, tick, "queue should drain")

	require.Eventually(t, func() bool {
		status := mgr.Status(context.Background())
		return status.Outcomes[worker.OutcomeFinished] == 2 && status.DatasetCounts[queue.StatusFinished] == 2
	}, waitFor, tick)
}

type panicRunner struct {
	calls atomic.Int32
}

func (p *panicRunner) Run(context.Context, *queue.Job) worker.Report {
	p.calls.Add(1)
	panic("runner bug")
}

func TestManagerSurvivesRunnerPanic(t *testing.T) {
	cfg, store, reg := setup(t, registry.FuncProcessor{Desc: descriptor("count", "counts", 1, "items")})
	addJobs(t, store, "count", 1)
	runner := &panicRunner{}

	mgr := workflow.NewManager(cfg, store, reg, logging.NewNop(),
		workflow.WithRunner(runner),
		workflow.WithPollInterval(tick),
		workflow.WithErrorRetryInterval(time.Hour),
	)
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(func() { mgr.Stop() })

	require.Eventually(t, func() bool {
		status := mgr.Status(context.Background())
		return status.Outcomes[worker.OutcomeInterrupted] == 1 && status.Lanes[0].Active == 0
	}, waitFor, tick)

	status := mgr.Status(context.Background())
	assert.True(t, status.Running)
	assert.Contains(t, status.LastError, "runner bug")

	jobs, err := store.ListJobs(context.Background(), "count")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.False(t, jobs[0].Claimed, "crashed job must be released")
	assert.Equal(t, int32(1), runner.calls.Load(), "released job waits for the retry interval")
}

func TestManagerStartErrors(t *testing.T) {
	cfg, store, reg := setup(t)
	mgr := workflow.NewManager(cfg, store, reg, logging.NewNop())
	err := mgr.Start(context.Background())
	require.Error(t, err)

	cfg, store, reg = setup(t, registry.FuncProcessor{Desc: descriptor("count", "counts", 1, "items")})
	mgr = workflow.NewManager(cfg, store, reg, logging.NewNop(), workflow.WithPollInterval(tick))
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(func() { mgr.Stop() })
	assert.Error(t, mgr.Start(context.Background()), "second Start must fail while running")
}
