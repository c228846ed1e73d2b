package worker

import (
	"context"
	"fmt"

	"fourcat/internal/logging"
	"fourcat/internal/queue"
	"fourcat/internal/services"
)

// fanOut queues one child dataset and job for every processor that accepts
// the finished dataset's produced type. Child keys are derived from the
// consumer type, its default parameters and the parent key, so replaying a
// fan-out never duplicates children.
func (w *Worker) fanOut(ctx context.Context, r *run) (int, error) {
	parent := r.dataset
	consumers := w.registry.ConsumersOf(r.desc.Produces)
	queued := 0
	var firstErr error
	for _, consumer := range consumers {
		childKey, err := w.queueChild(ctx, parent, consumer.TypeID)
		if err != nil {
			logging.ErrorWithContext(r.logger, "dependent job not queued", "fanout_failed",
				logging.String("consumer_type", consumer.TypeID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "queue the child manually with queue add"),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if childKey == "" {
			continue
		}
		queued++
		r.logger.Info("dependent job queued",
			logging.String(logging.FieldEventType, "fanout_queued"),
			logging.String("consumer_type", consumer.TypeID),
			logging.String("child_key", childKey),
		)
	}
	return queued, firstErr
}

// queueChild returns the child key, or "" when the child already ran.
func (w *Worker) queueChild(ctx context.Context, parent *queue.Dataset, consumerType string) (string, error) {
	params, err := w.registry.ValidateOptions(consumerType, nil)
	if err != nil {
		return "", err
	}
	key, err := queue.DeriveKey(consumerType, params, parent.Key, "")
	if err != nil {
		return "", err
	}
	desc, _ := w.registry.Descriptor(consumerType)
	child, err := w.store.CreateDataset(ctx, &queue.Dataset{
		Key:             key,
		Type:            consumerType,
		Parameters:      params,
		Status:          queue.StatusQueued,
		StatusMessage:   fmt.Sprintf("Queued after %s", parent.Type),
		InputPath:       parent.ResultLocation,
		ParentKey:       parent.Key,
		SoftwareVersion: desc.Version,
	})
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "worker", "fan-out", consumerType, err)
	}
	if child.Status.Terminal() {
		return "", nil
	}
	if _, err := w.store.AddJob(ctx, consumerType, queue.Details{queue.DetailDatasetKey: child.Key}, child.Key, 0); err != nil {
		return "", err
	}
	return child.Key, nil
}
