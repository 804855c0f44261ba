package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobs-engine/internal/domain"
	"jobs-engine/internal/domain/model"
)

func noop(context.Context, string) error { return nil }

func TestBuilder_RegisterAndLookup(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Register(model.JobTypeDescriptor{Key: "sync_members", Label: "Sync members", Queue: "sync"}, noop))
	require.NoError(t, b.Register(model.JobTypeDescriptor{Key: "generate_bios"}, noop))
	r := b.Build()

	e, err := r.Lookup("sync_members")
	require.NoError(t, err)
	assert.Equal(t, "sync", e.Queue)
	assert.NotNil(t, e.Work)

	bios, err := r.Lookup("generate_bios")
	require.NoError(t, err)
	assert.Equal(t, DefaultQueue, bios.Queue)
	assert.Equal(t, "generate_bios", bios.Label)
}

func TestRegistry_UnknownKey(t *testing.T) {
	r := NewBuilder().Build()
	_, err := r.Lookup("unknown_job")
	assert.ErrorIs(t, err, domain.ErrUnknownJobType)
}

func TestBuilder_Rejects(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Register(model.JobTypeDescriptor{Key: "a"}, noop))

	assert.ErrorIs(t, b.Register(model.JobTypeDescriptor{Key: "a"}, noop), domain.ErrDuplicateJobKey)
	assert.ErrorIs(t, b.Register(model.JobTypeDescriptor{Key: "  "}, noop), domain.ErrInvalidArgument)
	assert.ErrorIs(t, b.Register(model.JobTypeDescriptor{Key: "b"}, nil), domain.ErrInvalidArgument)
}

func TestRegistry_ListKeepsRegistrationOrder(t *testing.T) {
	b := NewBuilder()
	for _, k := range []string{"zeta", "alpha", "mid"} {
		b.MustRegister(model.JobTypeDescriptor{Key: k, Queue: "q-" + k[:1]}, noop)
	}
	r := b.Build()

	var keys []string
	for _, d := range r.List() {
		keys = append(keys, d.Key)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, keys)
	assert.Equal(t, []string{"q-z", "q-a", "q-m"}, r.Queues())
}

func TestRegistry_FrozenAfterBuild(t *testing.T) {
	b := NewBuilder().MustRegister(model.JobTypeDescriptor{Key: "first"}, noop)
	r := b.Build()
	b.MustRegister(model.JobTypeDescriptor{Key: "second"}, noop)

	assert.Equal(t, 1, r.Len())
	_, err := r.Lookup("second")
	assert.ErrorIs(t, err, domain.ErrUnknownJobType)
}

func TestMustRegister_Panics(t *testing.T) {
	b := NewBuilder()
	assert.Panics(t, func() { b.MustRegister(model.JobTypeDescriptor{Key: ""}, noop) })
}
