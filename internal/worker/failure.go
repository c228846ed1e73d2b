package worker

import (
	"context"
	"fmt"
	"strings"

	"fourcat/internal/logging"
	"fourcat/internal/queue"
	"fourcat/internal/services"
)

// handleFailure converts a classified failure into exactly one queue action.
func (w *Worker) handleFailure(ctx context.Context, r *run, err error) Report {
	switch services.Classify(err) {
	case services.KindInterrupted:
		return w.interrupt(ctx, r, err)
	case services.KindTransient:
		if !w.backoff.Exhausted(r.job.Attempts) {
			return w.retry(ctx, r, err)
		}
		err = services.Wrap(services.ErrPermanent, "worker", "retry",
			fmt.Sprintf("giving up after %d attempt(s)", r.job.Attempts+1), err)
	}
	return w.failPermanently(ctx, r, err)
}

// interrupt releases the job without counting an attempt. The dataset stays
// processing so the next claim resumes it.
func (w *Worker) interrupt(ctx context.Context, r *run, cause error) Report {
	report := Report{Outcome: OutcomeInterrupted, Err: cause}
	if ds := r.dataset; ds != nil && ds.Status == queue.StatusProcessing {
		ds.StatusMessage = "Interrupted; waiting to resume"
		w.persistDataset(ctx, r, ds)
	}
	if err := w.store.Release(ctx, r.job, 0); err != nil {
		r.logger.Error("interrupted job not released; it will be recovered at next startup", logging.Error(err))
		report.Err = err
	}
	r.logger.Info("job interrupted",
		logging.String(logging.FieldEventType, "job_interrupted"),
		logging.String("reason", cause.Error()),
	)
	return w.finishReport(r, report)
}

func (w *Worker) retry(ctx context.Context, r *run, cause error) Report {
	report := Report{Outcome: OutcomeRetried, Err: cause}
	attempt := r.job.Attempts + 1
	delay := w.backoff.Delay(attempt)
	if ds := r.dataset; ds != nil && ds.Status == queue.StatusProcessing {
		ds.StatusMessage = fmt.Sprintf("Retrying in %s (attempt %d of %d): %s", delay, attempt, w.backoff.MaxAttempts, summarize(cause))
		w.persistDataset(ctx, r, ds)
	}
	if err := w.store.Retry(ctx, r.job, delay); err != nil {
		r.logger.Error("failed job not released for retry", logging.Error(err))
		report.Err = err
		return w.finishReport(r, report)
	}
	logging.WarnWithContext(r.logger, "job failed; retrying", "job_retry",
		append(logging.Failure(cause),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", w.backoff.MaxAttempts),
			logging.Duration("retry_delay", delay),
			logging.String(logging.FieldErrorHint, "transient failures are retried automatically"),
			logging.String(logging.FieldImpact, "dataset delayed"),
		)...,
	)
	return w.finishReport(r, report)
}

// failPermanently marks the dataset errored and finishes (or reschedules) the
// job. Configuration failures end here too; they are never retried.
func (w *Worker) failPermanently(ctx context.Context, r *run, cause error) Report {
	report := Report{Outcome: OutcomeFailed, Err: cause}
	if ds := r.dataset; ds != nil && !ds.Status.Terminal() {
		ds.SetFailed(summarize(cause))
		w.persistDataset(ctx, r, ds)
	}
	if err := w.completeJob(ctx, r); err != nil {
		report.Err = err
	}
	logging.ErrorWithContext(r.logger, "job failed", "job_failed",
		append(logging.Failure(cause),
			logging.Alert("job_failed"),
			logging.Int("attempts", r.job.Attempts),
			logging.String(logging.FieldErrorHint, failureHint(cause)),
		)...,
	)
	return w.finishReport(r, report)
}

func (w *Worker) persistDataset(ctx context.Context, r *run, ds *queue.Dataset) {
	if err := w.store.UpdateDataset(ctx, ds); err != nil {
		r.logger.Error("dataset status not persisted",
			logging.Error(err),
			logging.String(logging.FieldEventType, "dataset_update_failed"),
			logging.String("dataset_status", string(ds.Status)),
		)
	}
}

func failureHint(err error) string {
	switch services.Classify(err) {
	case services.KindConfiguration:
		return "check the dataset parameters and processor registration"
	default:
		return "inspect the processor error and re-run with queue retry"
	}
}

// summarize returns the user-facing dataset message for err.
func summarize(err error) string {
	if err == nil {
		return "failed without error detail"
	}
	message := strings.TrimSpace(err.Error())
	if len(message) > 500 {
		message = message[:497] + "..."
	}
	return message
}
