package queue_test

import (
	"context"
	"errors"
	"testing"

	"fourcat/internal/queue"
	"fourcat/internal/services"
	"fourcat/internal/testsupport"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to queue.Status
		want     bool
	}{
		{queue.StatusCreated, queue.StatusQueued, true},
		{queue.StatusQueued, queue.StatusProcessing, true},
		{queue.StatusProcessing, queue.StatusFinished, true},
		{queue.StatusCreated, queue.StatusFinished, true},
		{queue.StatusProcessing, queue.StatusProcessing, true},
		{queue.StatusProcessing, queue.StatusQueued, false},
		{queue.StatusQueued, queue.StatusError, true},
		{queue.StatusProcessing, queue.StatusError, true},
		{queue.StatusFinished, queue.StatusError, false},
		{queue.StatusError, queue.StatusProcessing, false},
		{queue.StatusError, queue.StatusError, true},
		{queue.StatusFinished, queue.StatusFinished, true},
	}
	for _, tt := range tests {
		if got := queue.CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestDeriveKeyIsDeterministic(t *testing.T) {
	params := map[string]any{"min-count": 2, "lowercase": true}
	a, err := queue.DeriveKey("count-tokens", params, "parent", "")
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	b, err := queue.DeriveKey("count-tokens", map[string]any{"lowercase": true, "min-count": 2}, "parent", "")
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	if a != b {
		t.Fatalf("expected identical keys, got %s and %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256 key, got %q", a)
	}
	c, _ := queue.DeriveKey("count-tokens", params, "parent", "salt")
	d, _ := queue.DeriveKey("count-tokens", params, "other", "")
	if c == a || d == a {
		t.Fatal("salt and parent must change the key")
	}
}

func TestDatasetLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	ds, err := store.CreateDataset(ctx, &queue.Dataset{
		Key:             "parent-key",
		Type:            "import-items",
		Parameters:      map[string]any{"source": "x"},
		Status:          queue.StatusQueued,
		InputPath:       "/tmp/items.ndjson",
		SoftwareVersion: "1.0.0",
	})
	if err != nil {
		t.Fatalf("CreateDataset failed: %v", err)
	}
	if ds.Status != queue.StatusQueued || ds.InputPath != "/tmp/items.ndjson" || ds.CreatedAt.IsZero() {
		t.Fatalf("unexpected stored dataset: %#v", ds)
	}

	ds.SetStatus(queue.StatusProcessing, "Reading items")
	if err := store.UpdateDataset(ctx, ds); err != nil {
		t.Fatalf("UpdateDataset processing failed: %v", err)
	}
	ds.SetFinished("/results/parent-key.ndjson", 42)
	if err := store.UpdateDataset(ctx, ds); err != nil {
		t.Fatalf("UpdateDataset finished failed: %v", err)
	}

	stored, err := store.GetDataset(ctx, "parent-key")
	if err != nil {
		t.Fatalf("GetDataset failed: %v", err)
	}
	if stored.Status != queue.StatusFinished || stored.RowCount != 42 || stored.ResultLocation != "/results/parent-key.ndjson" {
		t.Fatalf("unexpected finished dataset: %#v", stored)
	}
	if stored.FinishedAt.IsZero() {
		t.Fatal("expected finished_at to be recorded")
	}
	if stored.Parameters["source"] != "x" {
		t.Fatalf("expected parameters to round trip, got %v", stored.Parameters)
	}

	stored.SetFailed("too late")
	err = store.UpdateDataset(ctx, stored)
	if !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition from finished, got %v", err)
	}
}

func TestDatasetErrorIsTerminal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	ds, err := store.CreateDataset(ctx, &queue.Dataset{Key: "k", Type: "count-tokens", Status: queue.StatusQueued})
	if err != nil {
		t.Fatalf("CreateDataset failed: %v", err)
	}
	ds.SetFailed("processor crashed")
	if err := store.UpdateDataset(ctx, ds); err != nil {
		t.Fatalf("UpdateDataset error failed: %v", err)
	}
	ds.SetStatus(queue.StatusProcessing, "")
	if err := store.UpdateDataset(ctx, ds); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected error to be terminal, got %v", err)
	}
	stored, _ := store.GetDataset(ctx, "k")
	if stored.Status != queue.StatusError || stored.StatusMessage != "processor crashed" {
		t.Fatalf("unexpected dataset after rejected update: %#v", stored)
	}
}

func TestCreateDatasetIsIdempotentAndTracksChildren(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := store.CreateDataset(ctx, &queue.Dataset{Key: "parent", Type: "align", Status: queue.StatusFinished}); err != nil {
		t.Fatalf("CreateDataset parent failed: %v", err)
	}
	child := &queue.Dataset{Key: "child", Type: "chart", ParentKey: "parent", Status: queue.StatusQueued}
	if _, err := store.CreateDataset(ctx, child); err != nil {
		t.Fatalf("CreateDataset child failed: %v", err)
	}
	again, err := store.CreateDataset(ctx, &queue.Dataset{Key: "child", Type: "chart", ParentKey: "parent", Status: queue.StatusCreated})
	if err != nil {
		t.Fatalf("CreateDataset repeat failed: %v", err)
	}
	if again.Status != queue.StatusQueued {
		t.Fatalf("expected existing row to be returned unchanged, got %s", again.Status)
	}

	children, err := store.ChildrenOf(ctx, "parent")
	if err != nil {
		t.Fatalf("ChildrenOf failed: %v", err)
	}
	if len(children) != 1 || children[0].Key != "child" || children[0].ParentKey != "parent" {
		t.Fatalf("unexpected children: %#v", children)
	}

	queued, err := store.ListDatasets(ctx, queue.DatasetFilter{Statuses: []queue.Status{queue.StatusQueued}})
	if err != nil {
		t.Fatalf("ListDatasets failed: %v", err)
	}
	if len(queued) != 1 || queued[0].Key != "child" {
		t.Fatalf("unexpected queued datasets: %#v", queued)
	}

	if _, err := store.CreateDataset(ctx, &queue.Dataset{Key: "orphan", Type: "chart", ParentKey: "missing"}); err == nil {
		t.Fatal("expected foreign key violation for unknown parent")
	}
}

func TestUpdateMissingDatasetReportsNotFound(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	err := store.UpdateDataset(context.Background(), &queue.Dataset{Key: "ghost", Status: queue.StatusProcessing})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.RequireDataset(context.Background(), "ghost"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found from RequireDataset, got %v", err)
	}
}

func TestCheckHealthReportsTables(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.MustQueueDataset(t, store, "count-tokens", map[string]any{"min-count": 1}, "")

	health, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.IntegrityCheck {
		t.Fatalf("unexpected health: %#v", health)
	}
	if len(health.MissingColumns) != 0 {
		t.Fatalf("unexpected missing columns: %v", health.MissingColumns)
	}
	if health.TotalJobs != 1 || health.TotalDatasets != 1 || health.SchemaVersion != 2 {
		t.Fatalf("unexpected counts: %#v", health)
	}

	counts, err := store.DatasetCounts(ctx)
	if err != nil {
		t.Fatalf("DatasetCounts failed: %v", err)
	}
	if counts[queue.StatusQueued] != 1 {
		t.Fatalf("unexpected dataset counts: %v", counts)
	}
}
