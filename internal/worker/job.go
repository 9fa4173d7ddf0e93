package worker

import (
	"context"

	"documind/internal/pipeline"
)

type JobType int

const (
	Ingest JobType = iota
	Stop
)

// IngestTask is one file or URL to process as part of a batch.
type IngestTask struct {
	Ctx         context.Context
	BatchID     string
	Request     pipeline.Request
	CleanupPath string // temp upload to remove when the job finishes
}

type Job struct {
	Type       JobType
	IngestTask *IngestTask
}

func (job Job) sessionID() string {
	if job.Type == Ingest && job.IngestTask != nil {
		return job.IngestTask.Request.SessionID
	}
	return ""
}
