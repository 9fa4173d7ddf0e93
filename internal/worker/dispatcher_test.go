package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"documind/internal/pipeline"
)

type blockingIngester struct {
	release  chan struct{}
	started  int32
	sessions sync.Map
}

func (b *blockingIngester) Ingest(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	atomic.AddInt32(&b.started, 1)
	b.sessions.Store(req.Filename, req.SessionID)
	if b.release != nil {
		<-b.release
	}
	return &pipeline.Result{Filename: req.Filename}, nil
}

func ingestJob(batchID, sessionID, filename string) Job {
	return Job{
		Type: Ingest,
		IngestTask: &IngestTask{
			BatchID: batchID,
			Request: pipeline.Request{SessionID: sessionID, Filename: filename},
		},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSubmitReturnsBusyWhenQueueFull(t *testing.T) {
	ingester := &blockingIngester{release: make(chan struct{})}
	defer close(ingester.release)
	tracker := NewBatchTracker(nil)
	tracker.Register("b1", "s1", 100, "")
	manager := NewManager(ingester, tracker)
	d := NewDispatcher(1, 1, 1, manager, time.Minute)

	// saturate the single worker, then the queue
	waitForBusy := func() error {
		for i := 0; i < 50; i++ {
			if err := d.Submit(ingestJob("b1", "s1", "f")); err != nil {
				return err
			}
			time.Sleep(2 * time.Millisecond)
		}
		return nil
	}
	err := waitForBusy()
	if !errors.Is(err, ErrDispatcherBusy) {
		t.Fatalf("expected ErrDispatcherBusy, got %v", err)
	}
}

func TestJobsFlowThroughPoolToIngester(t *testing.T) {
	ingester := &blockingIngester{}
	tracker := NewBatchTracker(nil)
	tracker.Register("b1", "s1", 3, "")
	manager := NewManager(ingester, tracker)
	d := NewDispatcher(2, 4, 16, manager, time.Minute)

	for _, name := range []string{"a", "b", "c"} {
		if err := d.Submit(ingestJob("b1", "s1", name)); err != nil {
			t.Fatalf("submit %s: %v", name, err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		status, _ := tracker.Status("b1")
		return status.Done
	})
	status, _ := tracker.Status("b1")
	if status.Completed != 3 || status.Failed != 0 {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestJobsFromMultipleSessionsAllComplete(t *testing.T) {
	ingester := &blockingIngester{}
	tracker := NewBatchTracker(nil)
	tracker.Register("b1", "", 6, "")
	manager := NewManager(ingester, tracker)
	d := NewDispatcher(2, 4, 32, manager, time.Minute)

	for _, sess := range []string{"s1", "s2", "s3"} {
		for _, name := range []string{"x", "y"} {
			if err := d.Submit(ingestJob("b1", sess, sess+name)); err != nil {
				t.Fatalf("submit %s/%s: %v", sess, name, err)
			}
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		status, _ := tracker.Status("b1")
		return status.Done
	})
	status, _ := tracker.Status("b1")
	if status.Completed != 6 {
		t.Errorf("completed %d of 6", status.Completed)
	}
	for _, sess := range []string{"s1", "s2", "s3"} {
		if got, ok := ingester.sessions.Load(sess + "x"); !ok || got != sess {
			t.Errorf("job %sx ran with session %v", sess, got)
		}
	}

	// cancel on an idle dispatcher is a no-op
	d.CancelSession("s1")
}
