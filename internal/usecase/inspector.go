package usecase

import (
	"context"

	"jobs-engine/internal/domain/model"
	"jobs-engine/internal/domain/ports/repository"
	ucport "jobs-engine/internal/domain/ports/usecase"
	"jobs-engine/internal/registry"
)

var _ ucport.JobInspector = (*Inspector)(nil)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

type Inspector struct {
	reg  *registry.Registry
	repo repository.JobRepository
}

func NewInspector(reg *registry.Registry, repo repository.JobRepository) *Inspector {
	return &Inspector{reg: reg, repo: repo}
}

func (i *Inspector) Get(ctx context.Context, jobID string) (*model.JobRecord, error) {
	return i.repo.Get(ctx, jobID)
}

// List clamps the limit to (0, MaxListLimit].
func (i *Inspector) List(ctx context.Context, f model.JobFilter) ([]*model.JobRecord, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	return i.repo.List(ctx, f)
}

func (i *Inspector) ListJobTypes() []model.JobTypeDescriptor {
	return i.reg.List()
}
