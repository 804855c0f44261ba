package repository

import (
	"context"
	"time"

	"jobs-engine/internal/domain/model"
)

// JobRepository persists job records. Every write except Create is refused
// with domain.ErrJobFinished once the record reached a terminal status.
type JobRepository interface {
	// Create inserts a Pending record. Returns domain.ErrAlreadyRunning when
	// the store already holds an active record for jobType.
	Create(ctx context.Context, jobType string, triggeredBy *string) (*model.JobRecord, error)
	// UpdateFields applies the non-nil fields of upd as a single atomic write.
	UpdateFields(ctx context.Context, id string, upd model.JobUpdate) error
	// AppendLog appends one line without reading the existing log.
	AppendLog(ctx context.Context, id, line string) error
	Get(ctx context.Context, id string) (*model.JobRecord, error)
	// FindActive returns the Pending or Running record of jobType, or domain.ErrNotFound.
	FindActive(ctx context.Context, jobType string) (*model.JobRecord, error)
	// Recent returns the n newest records.
	Recent(ctx context.Context, n int) ([]*model.JobRecord, error)
	List(ctx context.Context, filter model.JobFilter) ([]*model.JobRecord, error)
	// ListStale returns Running records not written to for longer than olderThan.
	ListStale(ctx context.Context, olderThan time.Duration) ([]*model.JobRecord, error)
	// UpdateIfUnchanged applies upd only while the record is still Running and
	// its UpdatedAt equals seen. It reports false when the record was written
	// after seen was read.
	UpdateIfUnchanged(ctx context.Context, id string, seen time.Time, upd model.JobUpdate) (bool, error)
}
