package worker

import (
	"context"
	"log"
	"os"

	"documind/internal/pipeline"
)

// Ingester runs the ingestion flow for one source.
type Ingester interface {
	Ingest(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Manager executes ingestion jobs and reports their outcomes to the
// batch tracker.
type Manager struct {
	ingester Ingester
	tracker  *BatchTracker
}

func NewManager(ingester Ingester, tracker *BatchTracker) *Manager {
	return &Manager{
		ingester: ingester,
		tracker:  tracker,
	}
}

func (m *Manager) handleIngest(task *IngestTask) {
	if task == nil {
		return
	}
	ctx := task.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := m.ingester.Ingest(ctx, task.Request)

	if task.CleanupPath != "" {
		if rmErr := os.Remove(task.CleanupPath); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Printf("cleanup %s: %v", task.CleanupPath, rmErr)
		}
	}

	outcome := FileOutcome{Filename: task.Request.Filename}
	if err != nil {
		log.Printf("ingest %s for session %s failed: %v", task.Request.Filename, task.Request.SessionID, err)
		outcome.Error = err.Error()
	} else {
		outcome.Result = result
		debugLog("[worker] ingested %s for session %s (%d chunks, fast_tracked=%v)",
			task.Request.Filename, task.Request.SessionID, result.ChunkCount, result.FastTracked)
	}
	m.tracker.Record(task.BatchID, outcome)
}
