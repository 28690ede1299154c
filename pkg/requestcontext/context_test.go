package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	id "brokerguard/pkg/domain"
)

func TestNow_FallsBackToWallClock(t *testing.T) {
	before := time.Now()
	got := Now(context.Background())
	assert.False(t, got.Before(before))
}

func TestWithTime_Overrides(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := WithTime(context.Background(), fixed)
	assert.Equal(t, fixed, Now(ctx))
}

func TestJobScopedValues(t *testing.T) {
	ctx := context.Background()
	assert.True(t, JobID(ctx).IsNil())
	assert.Equal(t, 0, Attempt(ctx))
	assert.Empty(t, CorrelationID(ctx))

	jobID := id.NewJobID()
	ctx = WithJobID(ctx, jobID)
	ctx = WithAttempt(ctx, 2)
	ctx = WithCorrelationID(ctx, "batch-1")

	assert.Equal(t, jobID, JobID(ctx))
	assert.Equal(t, 2, Attempt(ctx))
	assert.Equal(t, "batch-1", CorrelationID(ctx))
}
