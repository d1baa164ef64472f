package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/eliteGoblin/egd/internal/domain"
)

func TestIsDue_RespectsInitDelay(t *testing.T) {
	now := time.Now()
	rt := NewRuntime(time.Minute, now)
	assert.False(t, IsDue(&rt, 10*time.Second, now))
	assert.True(t, IsDue(&rt, 10*time.Second, now.Add(2*time.Minute)))
}

func TestIsDue_RespectsInterval(t *testing.T) {
	now := time.Now()
	rt := NewRuntime(0, now)
	rt.LastAttempt = now
	assert.False(t, IsDue(&rt, 30*time.Second, now.Add(10*time.Second)))
	assert.True(t, IsDue(&rt, 30*time.Second, now.Add(31*time.Second)))
}

func TestIsDue_FalseWhenDisabled(t *testing.T) {
	now := time.Now()
	rt := NewRuntime(0, now)
	rt.Disabled = true
	assert.False(t, IsDue(&rt, time.Second, now.Add(time.Hour)))
}

func TestRecordFailure_DisablesAtThreshold(t *testing.T) {
	now := time.Now()
	rt := domain.SourceRuntime{}

	for i := 0; i < domain.MaxConsecutiveFailures-1; i++ {
		disabled := recordFailure(&rt, now)
		assert.False(t, disabled)
		assert.Equal(t, domain.StateFailedOnce, rt.State)
	}

	disabled := recordFailure(&rt, now)
	assert.True(t, disabled)
	assert.True(t, rt.Disabled)
	assert.Equal(t, domain.StateDisabled, rt.State)
	assert.Equal(t, domain.MaxConsecutiveFailures, rt.ConsecutiveFailures)
}

func TestRecordSuccess_ResetsFailureCounter(t *testing.T) {
	now := time.Now()
	rt := domain.SourceRuntime{ConsecutiveFailures: 3}
	recordSuccess(&rt, now)
	assert.Equal(t, 0, rt.ConsecutiveFailures)
	assert.Equal(t, domain.StateDeposited, rt.State)
	assert.Equal(t, now, rt.LastSuccess)
}
