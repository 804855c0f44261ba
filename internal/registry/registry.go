// Package registry holds the process-wide table of job types. It is built
// once at startup and read-only afterwards.
package registry

import (
	"context"
	"fmt"
	"strings"

	"jobs-engine/internal/domain"
	"jobs-engine/internal/domain/model"
)

// DefaultQueue is used for descriptors registered without a queue name.
const DefaultQueue = "default"

// WorkFunc is the body of a job. It receives the job id and reports
// everything else through a progress.Reporter.
type WorkFunc func(ctx context.Context, jobID string) error

// Entry couples a descriptor with its work function.
type Entry struct {
	model.JobTypeDescriptor
	Work WorkFunc
}

// Builder collects entries before the registry is frozen.
type Builder struct {
	entries []Entry
	index   map[string]int
}

func NewBuilder() *Builder {
	return &Builder{index: make(map[string]int)}
}

// Register validates and adds a job type. Keys are trimmed; the work
// function is bound here, not looked up at submission time.
func (b *Builder) Register(desc model.JobTypeDescriptor, work WorkFunc) error {
	desc.Key = strings.TrimSpace(desc.Key)
	if desc.Key == "" {
		return fmt.Errorf("register job type: empty key: %w", domain.ErrInvalidArgument)
	}
	if work == nil {
		return fmt.Errorf("register job type %q: nil work function: %w", desc.Key, domain.ErrInvalidArgument)
	}
	if _, dup := b.index[desc.Key]; dup {
		return fmt.Errorf("register job type %q: %w", desc.Key, domain.ErrDuplicateJobKey)
	}
	if desc.Queue == "" {
		desc.Queue = DefaultQueue
	}
	if desc.Label == "" {
		desc.Label = desc.Key
	}
	b.index[desc.Key] = len(b.entries)
	b.entries = append(b.entries, Entry{JobTypeDescriptor: desc, Work: work})
	return nil
}

// MustRegister panics on registration errors. Meant for static tables.
func (b *Builder) MustRegister(desc model.JobTypeDescriptor, work WorkFunc) *Builder {
	if err := b.Register(desc, work); err != nil {
		panic(err)
	}
	return b
}

// Build freezes the collected entries. The builder can keep being used;
// later registrations do not affect registries already built.
func (b *Builder) Build() *Registry {
	entries := make([]Entry, len(b.entries))
	copy(entries, b.entries)
	index := make(map[string]int, len(b.index))
	for k, v := range b.index {
		index[k] = v
	}
	return &Registry{entries: entries, index: index}
}

// Registry is immutable and safe for concurrent reads.
type Registry struct {
	entries []Entry
	index   map[string]int
}

// Lookup returns the entry for key or domain.ErrUnknownJobType.
func (r *Registry) Lookup(key string) (Entry, error) {
	i, ok := r.index[key]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", domain.ErrUnknownJobType, key)
	}
	return r.entries[i], nil
}

// List returns descriptors in registration order.
func (r *Registry) List() []model.JobTypeDescriptor {
	out := make([]model.JobTypeDescriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.JobTypeDescriptor)
	}
	return out
}

// Queues returns the distinct queue names, in first-seen order.
func (r *Registry) Queues() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range r.entries {
		if _, ok := seen[e.Queue]; ok {
			continue
		}
		seen[e.Queue] = struct{}{}
		out = append(out, e.Queue)
	}
	return out
}

func (r *Registry) Len() int { return len(r.entries) }
