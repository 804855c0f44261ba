package usecase

import (
	"context"

	"jobs-engine/internal/domain/model"
)

// JobDispatcher is the trigger side of the engine.
type JobDispatcher interface {
	Start(ctx context.Context, jobType string, triggeredBy *string) (*model.JobRecord, error)
}

// JobCanceller stops pending or running jobs.
type JobCanceller interface {
	Stop(ctx context.Context, jobID, requestedBy string) (*model.JobRecord, error)
}

// JobInspector is the read side used by dashboards and operators.
type JobInspector interface {
	Get(ctx context.Context, jobID string) (*model.JobRecord, error)
	List(ctx context.Context, filter model.JobFilter) ([]*model.JobRecord, error)
	ListJobTypes() []model.JobTypeDescriptor
}
