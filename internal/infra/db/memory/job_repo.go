// Package memory is an in-process JobRepository used by tests and by the
// single-binary dev mode. The mutex is the storage layer's serialization
// point, the same role row locks play in Postgres.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"jobs-engine/internal/domain"
	"jobs-engine/internal/domain/model"
	"jobs-engine/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*JobRepo)(nil)

type JobRepo struct {
	mu   sync.RWMutex
	jobs map[string]*model.JobRecord
	now  func() time.Time
}

func NewJobRepo() *JobRepo {
	return &JobRepo{jobs: make(map[string]*model.JobRecord), now: time.Now}
}

// WithClock replaces the time source; tests use it to age records.
func (r *JobRepo) WithClock(now func() time.Time) *JobRepo {
	r.now = now
	return r
}

func (r *JobRepo) Create(_ context.Context, jobType string, triggeredBy *string) (*model.JobRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, j := range r.jobs {
		if j.JobType == jobType && j.Status.IsActive() {
			return nil, domain.ErrAlreadyRunning
		}
	}
	rec := model.NewJobRecord(ulid.Make().String(), jobType, triggeredBy, r.now())
	r.jobs[rec.ID] = rec
	return clone(rec), nil
}

func (r *JobRepo) UpdateFields(_ context.Context, id string, upd model.JobUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if rec.Status.IsTerminal() {
		return domain.ErrJobFinished
	}
	upd.Apply(rec, r.now())
	return nil
}

func (r *JobRepo) UpdateIfUnchanged(_ context.Context, id string, seen time.Time, upd model.JobUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if rec.Status.IsTerminal() {
		return false, domain.ErrJobFinished
	}
	if rec.Status != model.JobStatusRunning || !rec.UpdatedAt.Equal(seen) {
		return false, nil
	}
	upd.Apply(rec, r.now())
	return true, nil
}

func (r *JobRepo) AppendLog(ctx context.Context, id, line string) error {
	if line == "" {
		return nil
	}
	return r.UpdateFields(ctx, id, model.JobUpdate{AppendLog: line})
}

func (r *JobRepo) Get(_ context.Context, id string) (*model.JobRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(rec), nil
}

func (r *JobRepo) FindActive(_ context.Context, jobType string) (*model.JobRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, j := range r.jobs {
		if j.JobType == jobType && j.Status.IsActive() {
			return clone(j), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *JobRepo) Recent(ctx context.Context, n int) ([]*model.JobRecord, error) {
	return r.List(ctx, model.JobFilter{Limit: n})
}

func (r *JobRepo) List(_ context.Context, f model.JobFilter) ([]*model.JobRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.JobRecord, 0, len(r.jobs))
	for _, j := range r.jobs {
		if f.JobType != "" && j.JobType != f.JobType {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		out = append(out, clone(j))
	}
	sortNewestFirst(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *JobRepo) ListStale(_ context.Context, olderThan time.Duration) ([]*model.JobRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := r.now().Add(-olderThan)
	var out []*model.JobRecord
	for _, j := range r.jobs {
		if j.Status == model.JobStatusRunning && j.UpdatedAt.Before(cutoff) {
			out = append(out, clone(j))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// ULIDs sort by creation time; the id breaks ties within one millisecond.
func sortNewestFirst(recs []*model.JobRecord) {
	sort.Slice(recs, func(a, b int) bool {
		if !recs[a].CreatedAt.Equal(recs[b].CreatedAt) {
			return recs[a].CreatedAt.After(recs[b].CreatedAt)
		}
		return recs[a].ID > recs[b].ID
	})
}

func clone(j *model.JobRecord) *model.JobRecord {
	cp := *j
	if j.Result != nil {
		cp.Result = make(map[string]any, len(j.Result))
		for k, v := range j.Result {
			cp.Result[k] = v
		}
	}
	if j.TriggeredBy != nil {
		s := *j.TriggeredBy
		cp.TriggeredBy = &s
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
