package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMustRegister_Once(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() {
		MustRegister(reg)
		MustRegister(reg)
	})
}

func TestJobCounters(t *testing.T) {
	IncJobDispatched(" Sync_Members ")
	assert.Equal(t, 1.0, testutil.ToFloat64(jobsDispatchedTotal.WithLabelValues("sync_members")))

	AddJobItems("generate_bios", 2, 1)
	AddJobItems("generate_bios", 0, 0)
	assert.Equal(t, 2.0, testutil.ToFloat64(jobItemsTotal.WithLabelValues("generate_bios", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(jobItemsTotal.WithLabelValues("generate_bios", "failed")))

	ObserveJobFinished("generate_bios", "completed", 3*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(jobsFinishedTotal.WithLabelValues("generate_bios", "completed")))
}

func TestReasonAndResultLabels(t *testing.T) {
	for _, reason := range []string{"unknown_type", "already_running", "dispatch_failed"} {
		IncJobRejected("reindex", reason)
		assert.Equal(t, 1.0, testutil.ToFloat64(jobsRejectedTotal.WithLabelValues("reindex", reason)), reason)
	}
	for _, result := range []string{"dispatched", "skipped", "error"} {
		IncScheduledTrigger("reindex", result)
		assert.Equal(t, 1.0, testutil.ToFloat64(scheduledTriggersTotal.WithLabelValues("reindex", result)), result)
	}
}
