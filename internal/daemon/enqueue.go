package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"fourcat/internal/logging"
	"fourcat/internal/queue"
	"fourcat/internal/registry"
	"fourcat/internal/services"
)

const rawPrefix = "raw:"

// QueueRequest describes a top-level dataset submission.
type QueueRequest struct {
	Type       string
	Parameters map[string]any
	InputPath  string
	// RemoteID makes submissions idempotent: requests with the same type,
	// parameters and remote id resolve to the same dataset. Without one
	// every submission creates a new dataset.
	RemoteID string
}

// Queue validates a submission, creates its dataset in the queued state and
// adds the job that processes it. A submission that resolves to an existing
// finished or errored dataset returns that dataset and a nil job.
func (d *Daemon) Queue(ctx context.Context, req QueueRequest) (*queue.Dataset, *queue.Job, error) {
	desc, ok := d.registry.Descriptor(strings.TrimSpace(req.Type))
	if !ok {
		return nil, nil, services.Wrap(services.ErrConfiguration, "daemon", "queue", fmt.Sprintf("unknown processor type %q", req.Type), nil)
	}
	params, err := d.registry.ValidateOptions(desc.TypeID, req.Parameters)
	if err != nil {
		return nil, nil, err
	}
	input, err := resolveInput(desc, req.InputPath)
	if err != nil {
		return nil, nil, err
	}

	salt := strings.TrimSpace(req.RemoteID)
	if salt == "" {
		salt = uuid.NewString()
	}
	key, err := queue.DeriveKey(desc.TypeID, params, "", salt+"\x00"+input)
	if err != nil {
		return nil, nil, fmt.Errorf("derive dataset key: %w", err)
	}

	ds, err := d.store.CreateDataset(ctx, &queue.Dataset{
		Key:             key,
		Type:            desc.TypeID,
		Parameters:      params,
		Status:          queue.StatusQueued,
		StatusMessage:   "Queued",
		InputPath:       input,
		SoftwareVersion: desc.Version,
	})
	if err != nil {
		return nil, nil, err
	}
	if ds.Status.Terminal() {
		return ds, nil, nil
	}
	job, err := d.addDatasetJob(ctx, ds)
	if err != nil {
		return nil, nil, err
	}
	d.logger.Info("dataset queued",
		logging.String(logging.FieldEventType, "dataset_queued"),
		logging.String(logging.FieldDatasetKey, ds.Key),
		logging.String(logging.FieldJobType, ds.Type),
		logging.Int64(logging.FieldJobID, job.ID),
	)
	return ds, job, nil
}

// Schedule adds a datasetless recurring job that runs every interval.
func (d *Daemon) Schedule(ctx context.Context, typeID string, interval time.Duration) (*queue.Job, error) {
	if interval <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, "daemon", "schedule", "interval must be positive", nil)
	}
	if !d.registry.Known(typeID) {
		return nil, services.Wrap(services.ErrConfiguration, "daemon", "schedule", fmt.Sprintf("unknown processor type %q", typeID), nil)
	}
	return d.store.AddJob(ctx, typeID, nil, "every:"+interval.String(), interval)
}

// Retry re-runs a dataset. An errored dataset is cloned into a new queued
// dataset with the same type, parameters, parent and input. A dataset that
// has not reached a terminal status gets its job re-added; this is a no-op
// while the original job is still live.
func (d *Daemon) Retry(ctx context.Context, key string) (*queue.Dataset, *queue.Job, error) {
	ds, err := d.store.RequireDataset(ctx, strings.TrimSpace(key))
	if err != nil {
		return nil, nil, err
	}
	if !d.registry.Known(ds.Type) {
		return nil, nil, services.Wrap(services.ErrConfiguration, "daemon", "retry", fmt.Sprintf("processor %q is no longer registered", ds.Type), nil)
	}

	switch ds.Status {
	case queue.StatusFinished:
		return nil, nil, services.Wrap(services.ErrConfiguration, "daemon", "retry", fmt.Sprintf("dataset %s already finished", ds.Key), nil)
	case queue.StatusError:
		cloneKey, err := queue.DeriveKey(ds.Type, ds.Parameters, ds.ParentKey, "retry:"+uuid.NewString())
		if err != nil {
			return nil, nil, fmt.Errorf("derive dataset key: %w", err)
		}
		desc, _ := d.registry.Descriptor(ds.Type)
		clone, err := d.store.CreateDataset(ctx, &queue.Dataset{
			Key:             cloneKey,
			Type:            ds.Type,
			Parameters:      ds.Parameters,
			Status:          queue.StatusQueued,
			StatusMessage:   fmt.Sprintf("Retry of %s", ds.Key),
			InputPath:       ds.InputPath,
			ParentKey:       ds.ParentKey,
			SoftwareVersion: desc.Version,
		})
		if err != nil {
			return nil, nil, err
		}
		ds = clone
	case queue.StatusCreated:
		ds.SetStatus(queue.StatusQueued, "Queued")
		if err := d.store.UpdateDataset(ctx, ds); err != nil {
			return nil, nil, err
		}
	}

	job, err := d.addDatasetJob(ctx, ds)
	if err != nil {
		return nil, nil, err
	}
	d.logger.Info("dataset requeued",
		logging.String(logging.FieldEventType, "dataset_requeued"),
		logging.String(logging.FieldDatasetKey, ds.Key),
		logging.String("requested_key", key),
		logging.Int64(logging.FieldJobID, job.ID),
	)
	return ds, job, nil
}

func (d *Daemon) addDatasetJob(ctx context.Context, ds *queue.Dataset) (*queue.Job, error) {
	return d.store.AddJob(ctx, ds.Type, queue.Details{queue.DetailDatasetKey: ds.Key}, ds.Key, 0)
}

// resolveInput checks a raw input file against the formats the processor
// accepts and returns its absolute path.
func resolveInput(desc registry.Descriptor, path string) (string, error) {
	var formats []string
	for _, accepted := range desc.Accepts {
		if format, ok := strings.CutPrefix(accepted, rawPrefix); ok {
			formats = append(formats, format)
		}
	}
	path = strings.TrimSpace(path)
	if path == "" {
		if len(formats) > 0 {
			return "", services.Wrap(services.ErrConfiguration, "daemon", "queue",
				fmt.Sprintf("%s needs an input file (%s)", desc.TypeID, strings.Join(formats, ", ")), nil)
		}
		return "", nil
	}
	if len(formats) == 0 {
		return "", services.Wrap(services.ErrConfiguration, "daemon", "queue",
			fmt.Sprintf("%s only runs on the output of another processor", desc.TypeID), nil)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve input path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "daemon", "queue", "input file unavailable", err)
	}
	if info.IsDir() {
		return "", services.Wrap(services.ErrConfiguration, "daemon", "queue", fmt.Sprintf("input %q is a directory", abs), nil)
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(abs)), ".")
	for _, format := range formats {
		if ext == format {
			return abs, nil
		}
	}
	return "", services.Wrap(services.ErrConfiguration, "daemon", "queue",
		fmt.Sprintf("%s does not accept .%s input (accepts %s)", desc.TypeID, ext, strings.Join(formats, ", ")), nil)
}
