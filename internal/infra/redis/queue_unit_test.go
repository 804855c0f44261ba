//go:build !integration

package redis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobs-engine/internal/domain/ports/adapter"
)

func TestQueueKey(t *testing.T) {
	assert.Equal(t, "jobs:queue:default", QueueKey(""))
	assert.Equal(t, "jobs:queue:slow", QueueKey("slow"))
	assert.Equal(t, "jobs:rate_limit:trigger:admin", TriggerKey("admin"))
}

func TestDecodeEnvelope(t *testing.T) {
	env := adapter.Envelope{
		Submission: adapter.Submission{JobType: "generate_bios", JobID: "01HJOB", Queue: "slow"},
		TaskRef:    "2f1c",
		EnqueuedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	b, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"job_type":"generate_bios","job_id":"01HJOB","queue":"slow","task_ref":"2f1c","enqueued_at":"2024-01-02T03:04:05Z"}`, string(b))

	got, err := decodeEnvelope(string(b))
	require.NoError(t, err)
	assert.Equal(t, env, got)

	_, err = decodeEnvelope(`{"job_type":"x"}`)
	assert.Error(t, err)
	_, err = decodeEnvelope(`not json`)
	assert.Error(t, err)
}
