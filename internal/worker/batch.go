package worker

import (
	"sync"
	"time"

	"documind/internal/pipeline"
)

// FileOutcome is one file's result inside a batch.
type FileOutcome struct {
	Filename string           `json:"filename"`
	Result   *pipeline.Result `json:"result,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// BatchStatus is the aggregate view of one upload batch.
type BatchStatus struct {
	BatchID     string        `json:"batch_id"`
	SessionID   string        `json:"session_id"`
	Total       int           `json:"total"`
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	Done        bool          `json:"done"`
	Outcomes    []FileOutcome `json:"outcomes"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

type batchState struct {
	status      BatchStatus
	callbackURL string
	fired       bool
}

// batchRetention is how long a finished batch stays queryable before
// it is dropped from memory.
const batchRetention = time.Hour

// BatchTracker aggregates per-file results and fires the completion
// callback exactly once when the last file of a batch finishes.
type BatchTracker struct {
	mu        sync.Mutex
	batches   map[string]*batchState
	notify    func(callbackURL string, status BatchStatus)
	retention time.Duration
}

func NewBatchTracker(notify func(callbackURL string, status BatchStatus)) *BatchTracker {
	return &BatchTracker{
		batches:   make(map[string]*batchState),
		notify:    notify,
		retention: batchRetention,
	}
}

// Register announces a batch before its jobs are submitted. Finished
// batches past the retention window are dropped here, so memory stays
// bounded under sustained use.
func (t *BatchTracker) Register(batchID, sessionID string, total int, callbackURL string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweep(time.Now())
	t.batches[batchID] = &batchState{
		status: BatchStatus{
			BatchID:   batchID,
			SessionID: sessionID,
			Total:     total,
			CreatedAt: time.Now(),
		},
		callbackURL: callbackURL,
	}
}

// Record stores one file's outcome. When it is the batch's last, the
// callback fires once, outside the lock.
func (t *BatchTracker) Record(batchID string, outcome FileOutcome) {
	t.mu.Lock()
	state, ok := t.batches[batchID]
	if !ok {
		t.mu.Unlock()
		return
	}
	state.status.Outcomes = append(state.status.Outcomes, outcome)
	if outcome.Error != "" {
		state.status.Failed++
	} else {
		state.status.Completed++
	}

	finished := state.status.Completed+state.status.Failed >= state.status.Total
	var fire bool
	var snapshot BatchStatus
	var callbackURL string
	if finished && !state.fired {
		state.fired = true
		now := time.Now()
		state.status.Done = true
		state.status.CompletedAt = &now
		snapshot = state.status
		callbackURL = state.callbackURL
		fire = callbackURL != "" && t.notify != nil
	}
	t.mu.Unlock()

	if fire {
		t.notify(callbackURL, snapshot)
	}
}

// Status returns a copy of the batch's current state.
func (t *BatchTracker) Status(batchID string) (BatchStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.batches[batchID]
	if !ok {
		return BatchStatus{}, false
	}
	return state.status, true
}

// Forget drops a finished batch from memory.
func (t *BatchTracker) Forget(batchID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.batches, batchID)
}

// sweep drops batches whose completion is older than the retention
// window. In-flight batches are never dropped. Caller holds the lock.
func (t *BatchTracker) sweep(now time.Time) {
	for id, state := range t.batches {
		done := state.status.Done && state.status.CompletedAt != nil
		if done && now.Sub(*state.status.CompletedAt) >= t.retention {
			delete(t.batches, id)
		}
	}
}
