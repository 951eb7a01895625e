package jobqueue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_IsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		job       *Job
		retryable bool
	}{
		{"Failed job with retries remaining", &Job{Status: JobStatusFailed, RetryCount: 1, MaxRetries: 3}, true},
		{"Failed job with no retries remaining", &Job{Status: JobStatusFailed, RetryCount: 3, MaxRetries: 3}, false},
		{"Completed job", &Job{Status: JobStatusCompleted, RetryCount: 1, MaxRetries: 3}, false},
		{"Pending job", &Job{Status: JobStatusPending, MaxRetries: 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.job.IsRetryable())
		})
	}
}

func TestJob_StatusTransitions(t *testing.T) {
	job := &Job{Status: JobStatusPending, MaxRetries: 3}
	before := time.Now()

	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.ProcessedAt)
	assert.False(t, job.UpdatedAt.Before(before))

	job.MarkAsFailed("still orphaned")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "still orphaned", job.ErrorMsg)
	assert.Equal(t, 1, job.RetryCount)
	assert.True(t, job.IsRetryable())

	job.MarkAsRetrying()
	assert.Equal(t, JobStatusRetrying, job.Status)

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.ErrorMsg)
}

// Payloads read back from Redis carry JSON numbers as float64.
func TestLedgerRepairJobPayloadFromStoredJob(t *testing.T) {
	job := Job{
		ID:      "job-1",
		Type:    JobTypeLedgerRepair,
		Payload: LedgerRepairJobPayload{EventID: 42}.ToMap(),
	}
	raw, err := json.Marshal(job)
	require.NoError(t, err)

	var stored Job
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.Equal(t, float64(42), stored.Payload["event_id"])

	payload, err := LedgerRepairJobPayloadFromMap(stored.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint(42), payload.EventID)
}

func TestLedgerRepairJobPayloadFromMapErrors(t *testing.T) {
	_, err := LedgerRepairJobPayloadFromMap(map[string]interface{}{"event_id": make(chan int)})
	assert.Error(t, err)

	_, err = LedgerRepairJobPayloadFromMap(map[string]interface{}{"event_id": "not-a-number"})
	assert.Error(t, err)
}
