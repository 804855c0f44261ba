package usecase_test

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"jobs-engine/internal/domain/model"
	"jobs-engine/internal/domain/ports/adapter"
	"jobs-engine/internal/registry"
)

// MockBackend records submissions and revocations.
type MockBackend struct {
	mu        sync.Mutex
	submitted []adapter.Submission
	revoked   []string

	SubmitFunc func(ctx context.Context, sub adapter.Submission) (string, error)
	RevokeFunc func(ctx context.Context, taskRef string, terminate bool) error
}

func (m *MockBackend) Submit(ctx context.Context, sub adapter.Submission) (string, error) {
	m.mu.Lock()
	m.submitted = append(m.submitted, sub)
	m.mu.Unlock()
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, sub)
	}
	return "task-" + sub.JobID, nil
}

func (m *MockBackend) Revoke(ctx context.Context, taskRef string, terminate bool) error {
	m.mu.Lock()
	m.revoked = append(m.revoked, taskRef)
	m.mu.Unlock()
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, taskRef, terminate)
	}
	return nil
}

func (m *MockBackend) Submitted() []adapter.Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]adapter.Submission(nil), m.submitted...)
}

func (m *MockBackend) Revoked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.revoked...)
}

type MockLocker struct {
	TryLockFunc func(ctx context.Context, key string, ttl time.Duration) (string, error)
	unlocked    []string
}

func (m *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if m.TryLockFunc != nil {
		return m.TryLockFunc(ctx, key, ttl)
	}
	return "token", nil
}

func (m *MockLocker) Unlock(_ context.Context, key, _ string) error {
	m.unlocked = append(m.unlocked, key)
	return nil
}

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func noop(context.Context, string) error { return nil }

func testRegistry() *registry.Registry {
	return registry.NewBuilder().
		MustRegister(model.JobTypeDescriptor{Key: "sync_members", Label: "Sync members"}, noop).
		MustRegister(model.JobTypeDescriptor{Key: "generate_bios", Label: "Generate bios", Queue: "slow"}, noop).
		Build()
}
