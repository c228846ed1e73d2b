package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fourcat/internal/queue"
	"fourcat/internal/services"
	"fourcat/internal/testsupport"
)

type knownTypes map[string]bool

func (k knownTypes) Known(typeID string) bool { return k[typeID] }

func TestAddJobDeduplicatesByRemoteID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first, err := store.AddJob(ctx, "collect-items", queue.Details{"query": "x"}, "q1", 0)
	if err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	second, err := store.AddJob(ctx, "collect-items", queue.Details{"query": "changed"}, "q1", 0)
	if err != nil {
		t.Fatalf("AddJob (duplicate) failed: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected dedup to return job %d, got %d", first.ID, second.ID)
	}
	if second.Details["query"] != "x" {
		t.Fatalf("expected existing job unchanged, got details %v", second.Details)
	}

	jobs, err := store.ListJobs(ctx, "collect-items")
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job for remote id q1, got %d", len(jobs))
	}

	other, err := store.AddJob(ctx, "collect-other", nil, "q1", 0)
	if err != nil {
		t.Fatalf("AddJob other type failed: %v", err)
	}
	if other.ID == first.ID {
		t.Fatal("same remote id under another type must not be deduplicated")
	}
}

func TestAddJobWithoutRemoteIDNeverDeduplicates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a, err := store.AddJob(ctx, "collect-items", nil, "", 0)
	if err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	b, err := store.AddJob(ctx, "collect-items", nil, "", 0)
	if err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	if a.ID == b.ID {
		t.Fatal("expected distinct jobs without remote id")
	}
}

func TestAddJobAfterFinishCreatesNewJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first, err := store.AddJob(ctx, "collect-items", nil, "q1", 0)
	if err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	if err := store.Finish(ctx, first); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	second, err := store.AddJob(ctx, "collect-items", nil, "q1", 0)
	if err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("expected a new job once the first is finished")
	}
}

func TestAddJobRejectsUnknownType(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg, queue.WithTypeChecker(knownTypes{"count-tokens": true}))

	_, err := store.AddJob(context.Background(), "nope", nil, "", 0)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := store.AddJob(context.Background(), "count-tokens", nil, "", 0); err != nil {
		t.Fatalf("expected known type to be accepted: %v", err)
	}
}

func TestGetJobClaimsOldestFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	clock := testsupport.NewClock()
	store := testsupport.MustOpenStore(t, cfg, queue.WithClock(clock.Now))
	ctx := context.Background()

	var ids []int64
	for _, remote := range []string{"a", "b", "c"} {
		job, err := store.AddJob(ctx, "transform", nil, remote, 0)
		if err != nil {
			t.Fatalf("AddJob failed: %v", err)
		}
		ids = append(ids, job.ID)
		clock.Advance(time.Second)
	}
	if _, err := store.AddJob(ctx, "other", nil, "z", 0); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}

	for i, want := range ids {
		job, err := store.GetJob(ctx, "transform")
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if job == nil || job.ID != want {
			t.Fatalf("claim %d: expected job %d, got %#v", i, want, job)
		}
		if !job.Claimed || !job.ClaimedAt.Equal(clock.Now()) || !job.LastClaimedAt.Equal(clock.Now()) {
			t.Fatalf("expected claim timestamps to be set, got %#v", job)
		}
	}
	job, err := store.GetJob(ctx, "transform")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job != nil {
		t.Fatalf("expected no eligible job, got %#v", job)
	}
}

func TestGetJobMutualExclusion(t *testing.T) {
	cases := []struct {
		name    string
		jobs    int
		pollers int
	}{
		{"three pollers one job", 1, 3},
		{"many pollers few jobs", 5, 24},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testsupport.NewConfig(t)
			store := testsupport.MustOpenStore(t, cfg)
			ctx := context.Background()

			for i := 0; i < tc.jobs; i++ {
				if _, err := store.AddJob(ctx, "transform", queue.Details{"n": i}, "", 0); err != nil {
					t.Fatalf("AddJob failed: %v", err)
				}
			}

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				claimed = map[int64]int{}
				empty   int
				errs    []error
			)
			start := make(chan struct{})
			for i := 0; i < tc.pollers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					job, err := store.GetJob(ctx, "transform")
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err != nil:
						errs = append(errs, err)
					case job == nil:
						empty++
					default:
						claimed[job.ID]++
					}
				}()
			}
			close(start)
			wg.Wait()

			if len(errs) > 0 {
				t.Fatalf("unexpected claim errors: %v", errs)
			}
			if len(claimed) != tc.jobs {
				t.Fatalf("expected %d distinct claims, got %d", tc.jobs, len(claimed))
			}
			for id, count := range claimed {
				if count != 1 {
					t.Fatalf("job %d claimed %d times", id, count)
				}
			}
			if empty != tc.pollers-tc.jobs {
				t.Fatalf("expected %d empty polls, got %d", tc.pollers-tc.jobs, empty)
			}
		})
	}
}

func TestReleaseAllRecoversClaimsAfterRestart(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	ctx := context.Background()

	job, err := store.AddJob(ctx, "transform", nil, "r1", 0)
	if err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	if claimed, err := store.GetJob(ctx, "transform"); err != nil || claimed == nil {
		t.Fatalf("expected claim, got %v %v", claimed, err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	restarted := testsupport.MustOpenStore(t, cfg)
	if again, err := restarted.GetJob(ctx, "transform"); err != nil || again != nil {
		t.Fatalf("claimed job must stay claimed until release_all, got %v %v", again, err)
	}
	released, err := restarted.ReleaseAll(ctx)
	if err != nil {
		t.Fatalf("ReleaseAll failed: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected 1 released job, got %d", released)
	}
	again, err := restarted.GetJob(ctx, "transform")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if again == nil || again.ID != job.ID {
		t.Fatalf("expected job %d to be claimable after release_all, got %#v", job.ID, again)
	}
}

func TestFinishIsTerminalAndIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := store.AddJob(ctx, "transform", nil, "f1", 0); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	job, err := store.GetJob(ctx, "transform")
	if err != nil || job == nil {
		t.Fatalf("GetJob: %v %v", job, err)
	}
	if err := store.Finish(ctx, job); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if err := store.Finish(ctx, job); err != nil {
		t.Fatalf("second Finish should be a no-op, got %v", err)
	}
	if _, err := store.ReleaseAll(ctx); err != nil {
		t.Fatalf("ReleaseAll failed: %v", err)
	}
	if next, err := store.GetJob(ctx, "transform"); err != nil || next != nil {
		t.Fatalf("finished job must never be returned again, got %v %v", next, err)
	}
	if fetched, err := store.GetJobByID(ctx, job.ID); err != nil || fetched != nil {
		t.Fatalf("expected job row to be gone, got %v %v", fetched, err)
	}
}

func TestReleaseWithDelayDefersEligibility(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	clock := testsupport.NewClock()
	store := testsupport.MustOpenStore(t, cfg, queue.WithClock(clock.Now))
	ctx := context.Background()

	if _, err := store.AddJob(ctx, "transform", nil, "d1", 0); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	job, err := store.GetJob(ctx, "transform")
	if err != nil || job == nil {
		t.Fatalf("GetJob: %v %v", job, err)
	}
	if err := store.Release(ctx, job, 30*time.Second); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	clock.Advance(29 * time.Second)
	if early, err := store.GetJob(ctx, "transform"); err != nil || early != nil {
		t.Fatalf("expected job to stay ineligible, got %v %v", early, err)
	}
	clock.Advance(time.Second)
	ready, err := store.GetJob(ctx, "transform")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if ready == nil || ready.ID != job.ID {
		t.Fatalf("expected job after delay, got %#v", ready)
	}
}

func TestReleaseWithRealDelay(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := store.AddJob(ctx, "transform", nil, "", 0); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	job, err := store.GetJob(ctx, "transform")
	if err != nil || job == nil {
		t.Fatalf("GetJob: %v %v", job, err)
	}
	const delay = 150 * time.Millisecond
	released := time.Now()
	if err := store.Release(ctx, job, delay); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	for {
		next, err := store.GetJob(ctx, "transform")
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if next != nil {
			if elapsed := time.Since(released); elapsed < delay {
				t.Fatalf("job returned after %s, before delay %s", elapsed, delay)
			}
			return
		}
		if time.Since(released) > 5*time.Second {
			t.Fatal("job never became eligible")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRetryCountsAttempts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	clock := testsupport.NewClock()
	store := testsupport.MustOpenStore(t, cfg, queue.WithClock(clock.Now))
	ctx := context.Background()

	if _, err := store.AddJob(ctx, "transform", nil, "", 0); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	for attempt := 1; attempt <= 2; attempt++ {
		job, err := store.GetJob(ctx, "transform")
		if err != nil || job == nil {
			t.Fatalf("GetJob: %v %v", job, err)
		}
		if job.Attempts != attempt-1 {
			t.Fatalf("expected %d prior attempts, got %d", attempt-1, job.Attempts)
		}
		if err := store.Retry(ctx, job, time.Minute); err != nil {
			t.Fatalf("Retry failed: %v", err)
		}
		if job.Attempts != attempt {
			t.Fatalf("expected in-memory attempts %d, got %d", attempt, job.Attempts)
		}
		clock.Advance(time.Minute)
	}
}

func TestRescheduleRecurringJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	clock := testsupport.NewClock()
	store := testsupport.MustOpenStore(t, cfg, queue.WithClock(clock.Now))
	ctx := context.Background()

	if _, err := store.AddJob(ctx, "collect-items", nil, "daily", time.Hour); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	job, err := store.GetJob(ctx, "collect-items")
	if err != nil || job == nil {
		t.Fatalf("GetJob: %v %v", job, err)
	}
	if !job.Recurring() || job.Interval != time.Hour {
		t.Fatalf("expected recurring job with 1h interval, got %#v", job)
	}
	clock.Advance(10 * time.Minute)
	if err := store.Reschedule(ctx, job); err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}

	clock.Advance(49 * time.Minute)
	if early, err := store.GetJob(ctx, "collect-items"); err != nil || early != nil {
		t.Fatalf("expected job to wait for its interval, got %v %v", early, err)
	}
	clock.Advance(time.Minute)
	if next, err := store.GetJob(ctx, "collect-items"); err != nil || next == nil || next.ID != job.ID {
		t.Fatalf("expected recurring job to be claimable, got %v %v", next, err)
	}

	plain, err := store.AddJob(ctx, "transform", nil, "", 0)
	if err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	if err := store.Reschedule(ctx, plain); err == nil {
		t.Fatal("expected reschedule of a non-recurring job to fail")
	}
}

func TestSubSecondIntervalsRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	clock := testsupport.NewClock()
	store := testsupport.MustOpenStore(t, cfg, queue.WithClock(clock.Now))
	ctx := context.Background()

	for _, interval := range []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond} {
		added, err := store.AddJob(ctx, "refresh-"+interval.String(), nil, "", interval)
		if err != nil {
			t.Fatalf("AddJob(%s) failed: %v", interval, err)
		}
		stored, err := store.GetJobByID(ctx, added.ID)
		if err != nil || stored == nil {
			t.Fatalf("GetJobByID(%d): %v %v", added.ID, stored, err)
		}
		if !stored.Recurring() || stored.Interval != interval {
			t.Fatalf("expected recurring job every %s, got %s", interval, stored.Interval)
		}

		claimed, err := store.GetJob(ctx, stored.Type)
		if err != nil || claimed == nil {
			t.Fatalf("GetJob(%s): %v %v", stored.Type, claimed, err)
		}
		if err := store.Reschedule(ctx, claimed); err != nil {
			t.Fatalf("Reschedule failed: %v", err)
		}
		again, err := store.GetJobByID(ctx, added.ID)
		if err != nil || again == nil {
			t.Fatalf("GetJobByID after reschedule: %v %v", again, err)
		}
		if want := claimed.LastClaimedAt.Add(interval); !again.ClaimAfter.Equal(want) {
			t.Fatalf("expected next run at %v, got %v", want, again.ClaimAfter)
		}
	}
}

func TestStatsAndClear(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	clock := testsupport.NewClock()
	store := testsupport.MustOpenStore(t, cfg, queue.WithClock(clock.Now))
	ctx := context.Background()

	for _, remote := range []string{"a", "b", "c"} {
		if _, err := store.AddJob(ctx, "transform", nil, remote, 0); err != nil {
			t.Fatalf("AddJob failed: %v", err)
		}
	}
	first, _ := store.GetJob(ctx, "transform")
	second, _ := store.GetJob(ctx, "transform")
	if err := store.Release(ctx, second, time.Hour); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected stats for one type, got %#v", stats)
	}
	got := stats[0]
	if got.Type != "transform" || got.Queued != 1 || got.Delayed != 1 || got.Claimed != 1 || got.Total() != 3 {
		t.Fatalf("unexpected stats: %#v", got)
	}

	removed, err := store.Clear(ctx, "transform")
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 unclaimed jobs removed, got %d", removed)
	}
	if still, err := store.GetJobByID(ctx, first.ID); err != nil || still == nil {
		t.Fatalf("claimed job must survive Clear, got %v %v", still, err)
	}
}
