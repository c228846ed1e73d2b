package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"fourcat/internal/config"
	"fourcat/internal/logging"
	"fourcat/internal/queue"
	"fourcat/internal/registry"
	"fourcat/internal/services"
	"fourcat/internal/staging"
)

// Outcome is the queue action a run ended with.
type Outcome string

const (
	// OutcomeFinished means the processor completed and the job was finished
	// or rescheduled.
	OutcomeFinished Outcome = "finished"
	// OutcomeRetried means a transient failure released the job with backoff.
	OutcomeRetried Outcome = "retried"
	// OutcomeFailed means the dataset was marked error and the job finished.
	OutcomeFailed Outcome = "failed"
	// OutcomeInterrupted means the job was released without counting an attempt.
	OutcomeInterrupted Outcome = "interrupted"
	// OutcomeSkipped means the job referenced a dataset that had already
	// reached a terminal status; the job was finished without running.
	OutcomeSkipped Outcome = "skipped"
)

// Report summarizes one run for the manager.
type Report struct {
	Outcome  Outcome
	Err      error
	Children int
	Duration time.Duration
}

// Worker runs claimed jobs. A single Worker is safe for concurrent use; all
// per-run state lives on the stack of Run.
type Worker struct {
	cfg      *config.Config
	store    *queue.Store
	registry *registry.Registry
	logger   *slog.Logger
	grace    time.Duration
	backoff  Backoff
}

// Option customizes a Worker.
type Option func(*Worker)

// WithGracePeriod overrides how long an interrupted or timed out processor
// may take to return before it is abandoned.
func WithGracePeriod(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.grace = d
		}
	}
}

// WithBackoff overrides the retry policy read from the configuration.
func WithBackoff(b Backoff) Option {
	return func(w *Worker) {
		w.backoff = b
	}
}

// New constructs a Worker.
func New(cfg *config.Config, store *queue.Store, reg *registry.Registry, logger *slog.Logger, opts ...Option) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	w := &Worker{
		cfg:      cfg,
		store:    store,
		registry: reg,
		logger:   logging.NewComponentLogger(logger, "worker"),
		grace:    cfg.GracePeriod(),
		backoff:  BackoffFromConfig(cfg),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// run carries the state of one job execution.
type run struct {
	job      *queue.Job
	dataset  *queue.Dataset
	desc     registry.Descriptor
	proc     registry.Processor
	logger   *slog.Logger
	progress *progressReporter
	started  time.Time
}

// Run executes job. ctx is the interruption signal: cancelling it (the
// manager uses services.ErrShutdown as cause) asks the processor to stop.
// Queue and dataset writes are made with a detached context so that an
// interrupted run can still record its outcome.
func (w *Worker) Run(ctx context.Context, job *queue.Job) Report {
	started := time.Now()
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithJobType(ctx, job.Type)
	ctx = services.WithRequestID(ctx, uuid.NewString())
	if key := job.DatasetKey(); key != "" {
		ctx = services.WithDatasetKey(ctx, key)
	}
	persistCtx := context.WithoutCancel(ctx)

	r := &run{job: job, logger: logging.WithContext(ctx, w.logger), started: started}
	r.logger.Info("job claimed",
		logging.String(logging.FieldEventType, "job_claimed"),
		logging.Int("attempts", job.Attempts),
	)

	if err := w.prepare(persistCtx, r); err != nil {
		if errors.Is(err, errStaleDataset) {
			return w.skip(persistCtx, r)
		}
		return w.handleFailure(persistCtx, r, err)
	}

	area, err := staging.NewArea(w.cfg.Paths.StagingDir, job.Type)
	if err != nil {
		return w.handleFailure(persistCtx, r, services.Wrap(services.ErrTransient, "worker", "open staging", "staging area unavailable", err))
	}
	defer func() {
		if err := area.Close(); err != nil {
			logging.WarnWithContext(r.logger, "staging area not removed", "staging_cleanup_failed",
				logging.String("staging_path", area.Path()),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "remove the directory manually or rely on startup cleanup"),
			)
		}
	}()

	req := w.request(r, area)
	res, err := w.execute(ctx, r, req)
	r.progress.close()
	if err != nil {
		return w.handleFailure(persistCtx, r, err)
	}
	return w.succeed(persistCtx, r, req, res)
}

var errStaleDataset = errors.New("dataset already terminal")

// prepare moves the run from claimed to running: resolve the processor, load
// and validate the dataset, and mark it processing.
func (w *Worker) prepare(ctx context.Context, r *run) error {
	proc, err := w.registry.Processor(r.job.Type)
	if err != nil {
		return err
	}
	r.proc = proc
	r.desc, _ = w.registry.Descriptor(r.job.Type)

	key := r.job.DatasetKey()
	if key == "" {
		return nil
	}
	ds, err := w.store.GetDataset(ctx, key)
	if err != nil {
		return services.Wrap(services.ErrTransient, "worker", "load dataset", key, err)
	}
	if ds == nil {
		return services.Wrap(services.ErrConfiguration, "worker", "load dataset", fmt.Sprintf("dataset %s does not exist", key), nil)
	}
	r.dataset = ds
	if ds.Status.Terminal() {
		return errStaleDataset
	}

	params, err := w.registry.ValidateOptions(r.job.Type, ds.Parameters)
	if err != nil {
		return err
	}
	ds.Parameters = params
	ds.SoftwareVersion = r.desc.Version
	ds.SetStatus(queue.StatusProcessing, "Processing")
	if err := w.store.UpdateDataset(ctx, ds); err != nil {
		return services.Wrap(services.ErrTransient, "worker", "mark processing", key, err)
	}
	return nil
}

func (w *Worker) request(r *run, area *staging.Area) registry.Request {
	r.progress = newProgressReporter(w.store, r.dataset, r.logger)
	req := registry.Request{
		Staging:  area,
		Logger:   r.logger.With(logging.String(logging.FieldComponent, "processor")),
		Progress: r.progress.report,
	}
	name := r.job.Type
	if r.dataset != nil {
		req.DatasetKey = r.dataset.Key
		req.Parameters = r.dataset.Parameters
		req.InputPath = r.dataset.InputPath
		name = r.dataset.Key
	} else {
		req.Parameters = r.desc.Defaults()
	}
	if ext := strings.TrimSpace(r.desc.Extension); ext != "" {
		name += "." + ext
	}
	req.OutputPath = filepath.Join(w.cfg.Paths.ResultsDir, name)
	return req
}

func (w *Worker) succeed(ctx context.Context, r *run, req registry.Request, res registry.Result) Report {
	report := Report{Outcome: OutcomeFinished}
	location := res.Location
	if location == "" {
		location = req.OutputPath
	}

	if r.dataset != nil {
		r.dataset.SetFinished(location, res.Rows)
		if err := w.store.UpdateDataset(ctx, r.dataset); err != nil {
			// The job stays claimed and is recovered by the next startup.
			logging.ErrorWithContext(r.logger, "dataset result not persisted", "dataset_update_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			report.Err = err
			return w.finishReport(r, report)
		}
	}

	if err := w.completeJob(ctx, r); err != nil {
		report.Err = err
	}

	r.logger.Info("job finished",
		logging.String(logging.FieldEventType, "job_finished"),
		logging.String("result_location", location),
		logging.Int64("row_count", res.Rows),
		logging.Duration("job_duration", time.Since(r.started)),
	)

	if r.dataset != nil {
		children, err := w.fanOut(ctx, r)
		report.Children = children
		if err != nil && report.Err == nil {
			report.Err = err
		}
	}
	return w.finishReport(r, report)
}

// skip finishes a job whose dataset is already finished or errored, which
// happens when a job is re-added for a dataset that has been processed.
func (w *Worker) skip(ctx context.Context, r *run) Report {
	r.logger.Warn("job references a completed dataset; finishing without running",
		logging.String(logging.FieldEventType, "job_skipped"),
		logging.String("dataset_status", string(r.dataset.Status)),
		logging.String(logging.FieldErrorHint, "use queue retry to re-run the dataset"),
		logging.String(logging.FieldImpact, "job removed from queue"),
	)
	report := Report{Outcome: OutcomeSkipped}
	if err := w.store.Finish(ctx, r.job); err != nil {
		report.Err = err
	}
	return w.finishReport(r, report)
}

// completeJob finishes a one-off job or reschedules a recurring one.
func (w *Worker) completeJob(ctx context.Context, r *run) error {
	if r.job.Recurring() {
		if err := w.store.Reschedule(ctx, r.job); err != nil {
			r.logger.Error("recurring job not rescheduled", logging.Error(err))
			return err
		}
		return nil
	}
	if err := w.store.Finish(ctx, r.job); err != nil {
		r.logger.Error("job not finished", logging.Error(err))
		return err
	}
	return nil
}

func (w *Worker) finishReport(r *run, report Report) Report {
	report.Duration = time.Since(r.started)
	return report
}
