package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"fourcat/internal/logging"
	"fourcat/internal/registry"
	"fourcat/internal/services"
)

type execution struct {
	result registry.Result
	err    error
}

// timeout returns the watchdog deadline for the run; zero disables it.
func (w *Worker) timeout(r *run) time.Duration {
	if r.desc.Timeout > 0 {
		return r.desc.Timeout
	}
	return w.cfg.JobTimeout()
}

// execute runs the processor in its own goroutine. Once the run is
// interrupted or its deadline passes, the processor has the grace period to
// return; after that it is abandoned and the run fails with ErrTimeout.
func (w *Worker) execute(ctx context.Context, r *run, req registry.Request) (registry.Result, error) {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if limit := w.timeout(r); limit > 0 {
		runCtx, cancel = context.WithTimeoutCause(ctx, limit, services.ErrTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan execution, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				r.logger.Error("processor panicked",
					logging.Any("panic", recovered),
					logging.String("stack", string(debug.Stack())),
					logging.String(logging.FieldEventType, "processor_panic"),
				)
				done <- execution{err: services.Wrap(services.ErrPermanent, "worker", "run", fmt.Sprintf("processor panicked: %v", recovered), nil)}
			}
		}()
		res, err := r.proc.Run(runCtx, req)
		done <- execution{result: res, err: err}
	}()

	r.logger.Info("job started",
		logging.String(logging.FieldEventType, "job_started"),
		logging.String("input_path", req.InputPath),
	)

	select {
	case out := <-done:
		return out.result, w.interpret(ctx, runCtx, out.err)
	case <-runCtx.Done():
	}

	cause := context.Cause(runCtx)
	r.logger.Info("waiting for processor to stop",
		logging.String(logging.FieldEventType, "job_stopping"),
		logging.String("reason", cause.Error()),
		logging.Duration("grace_period", w.grace),
	)

	timer := time.NewTimer(w.grace)
	defer timer.Stop()
	select {
	case out := <-done:
		return out.result, w.interpret(ctx, runCtx, out.err)
	case <-timer.C:
		r.progress.close()
		logging.WarnWithContext(r.logger, "processor ignored stop request; abandoning run", "job_watchdog",
			logging.Duration("grace_period", w.grace),
			logging.String(logging.FieldErrorHint, "processors must return once their context is done"),
			logging.String(logging.FieldImpact, "run forced to failed"),
		)
		return registry.Result{}, services.Wrap(services.ErrTimeout, "worker", "watchdog",
			fmt.Sprintf("processor did not stop within %s after %s", w.grace, cause), nil)
	}
}

// interpret maps a processor return value onto the failure taxonomy. A
// processor that completes is accepted even when a stop was requested.
func (w *Worker) interpret(parent, runCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		if services.Classify(err) == services.KindInterrupted {
			return err
		}
		// Explicit failures keep their verdict even when the manager is stopping.
		if errors.Is(err, services.ErrPermanent) || errors.Is(err, services.ErrConfiguration) {
			return err
		}
		return services.Wrap(services.ErrInterrupted, "worker", "run", "stopped before completion", err)
	}
	if errors.Is(context.Cause(runCtx), services.ErrTimeout) {
		switch services.Classify(err) {
		case services.KindPermanent, services.KindConfiguration:
			return err
		}
		cause := err
		if services.Classify(err) == services.KindInterrupted {
			// Drop the marker so the run counts as a timeout, not an interruption.
			cause = errors.New(err.Error())
		}
		return services.Wrap(services.ErrTimeout, "worker", "watchdog", "processor exceeded its timeout", cause)
	}
	return err
}
