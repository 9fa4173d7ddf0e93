package worker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"documind/internal/pipeline"
)

func TestCallbackFiresOnceWhenBatchCompletes(t *testing.T) {
	var fired int32
	var got BatchStatus
	tracker := NewBatchTracker(func(url string, status BatchStatus) {
		atomic.AddInt32(&fired, 1)
		got = status
	})

	tracker.Register("b1", "s1", 3, "http://example.com/hook")
	tracker.Record("b1", FileOutcome{Filename: "a.txt", Result: &pipeline.Result{ChunkCount: 2}})
	tracker.Record("b1", FileOutcome{Filename: "b.txt", Error: "extract failed"})
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("callback fired before the batch finished")
	}
	tracker.Record("b1", FileOutcome{Filename: "c.txt", Result: &pipeline.Result{ChunkCount: 1}})

	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("callback fired %d times", fired)
	}
	if !got.Done || got.Completed != 2 || got.Failed != 1 {
		t.Errorf("unexpected status: %+v", got)
	}
	if got.CompletedAt == nil {
		t.Error("completed batch missing completion time")
	}
}

func TestConcurrentRecordsFireCallbackOnce(t *testing.T) {
	var fired int32
	tracker := NewBatchTracker(func(url string, status BatchStatus) {
		atomic.AddInt32(&fired, 1)
	})

	const total = 20
	tracker.Register("b1", "s1", total, "http://example.com/hook")

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Record("b1", FileOutcome{Filename: "f"})
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("callback fired %d times", fired)
	}
}

func TestNoCallbackURLMeansNoDelivery(t *testing.T) {
	var fired int32
	tracker := NewBatchTracker(func(url string, status BatchStatus) {
		atomic.AddInt32(&fired, 1)
	})
	tracker.Register("b1", "s1", 1, "")
	tracker.Record("b1", FileOutcome{Filename: "a"})

	if atomic.LoadInt32(&fired) != 0 {
		t.Error("callback fired despite empty url")
	}
	status, ok := tracker.Status("b1")
	if !ok || !status.Done {
		t.Errorf("batch should still complete: %+v", status)
	}
}

func TestStatusUnknownBatch(t *testing.T) {
	tracker := NewBatchTracker(nil)
	if _, ok := tracker.Status("nope"); ok {
		t.Error("unknown batch reported as present")
	}
}

func TestFinishedBatchesEvictedAfterRetention(t *testing.T) {
	tracker := NewBatchTracker(nil)
	tracker.Register("b1", "s1", 1, "")
	tracker.Record("b1", FileOutcome{Filename: "a"})

	// still queryable right after completion
	if _, ok := tracker.Status("b1"); !ok {
		t.Fatal("finished batch dropped before retention expired")
	}

	tracker.mu.Lock()
	stale := time.Now().Add(-2 * batchRetention)
	tracker.batches["b1"].status.CompletedAt = &stale
	tracker.mu.Unlock()

	tracker.Register("b2", "s1", 1, "")
	if _, ok := tracker.Status("b1"); ok {
		t.Error("finished batch retained past retention window")
	}
	if _, ok := tracker.Status("b2"); !ok {
		t.Error("fresh batch missing after sweep")
	}
}

func TestInFlightBatchesNeverEvicted(t *testing.T) {
	tracker := NewBatchTracker(nil)
	tracker.Register("b1", "s1", 2, "")
	tracker.Record("b1", FileOutcome{Filename: "a"})

	tracker.mu.Lock()
	tracker.batches["b1"].status.CreatedAt = time.Now().Add(-2 * batchRetention)
	tracker.mu.Unlock()

	tracker.Register("b2", "s1", 1, "")
	if _, ok := tracker.Status("b1"); !ok {
		t.Error("in-flight batch evicted")
	}
}

func TestForgetDropsBatch(t *testing.T) {
	tracker := NewBatchTracker(nil)
	tracker.Register("b1", "s1", 1, "")
	tracker.Forget("b1")
	if _, ok := tracker.Status("b1"); ok {
		t.Error("forgotten batch still present")
	}
}
