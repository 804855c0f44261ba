package adapter

import (
	"context"
	"time"
)

// Submission is one unit of work handed to the execution backend.
// The job id is the only argument a work function receives.
type Submission struct {
	JobType string `json:"job_type"`
	JobID   string `json:"job_id"`
	Queue   string `json:"queue"`
}

// Envelope is the backend's view of a queued submission.
type Envelope struct {
	Submission
	TaskRef    string    `json:"task_ref"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// ExecutionBackend is the task queue / worker pool that runs work functions.
// The boundary is unreliable: Submit may fail, Revoke may be a no-op.
type ExecutionBackend interface {
	// Submit queues the work and returns the backend task reference.
	Submit(ctx context.Context, sub Submission) (taskRef string, err error)
	// Revoke asks the backend to drop or terminate the task. Best effort.
	Revoke(ctx context.Context, taskRef string, terminate bool) error
}
