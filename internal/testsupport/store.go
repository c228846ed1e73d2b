package testsupport

import (
	"context"
	"testing"

	"fourcat/internal/config"
	"fourcat/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config, opts ...queue.Option) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg, opts...)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustQueueDataset creates a queued dataset of jobType and the job that
// processes it, keyed by the dataset key.
func MustQueueDataset(t testing.TB, store *queue.Store, jobType string, params map[string]any, inputPath string) (*queue.Dataset, *queue.Job) {
	t.Helper()

	ctx := context.Background()
	key, err := queue.DeriveKey(jobType, params, "", t.Name()+inputPath)
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	ds, err := store.CreateDataset(ctx, &queue.Dataset{
		Key:        key,
		Type:       jobType,
		Parameters: params,
		Status:     queue.StatusQueued,
		InputPath:  inputPath,
	})
	if err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	job, err := store.AddJob(ctx, jobType, queue.Details{queue.DetailDatasetKey: ds.Key}, ds.Key, 0)
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	return ds, job
}
