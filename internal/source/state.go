// Package source implements the per-source state machine and the four
// fetch strategies (C5, spec §4.5), driving each configured producer
// through fetch→compress→stir→scale→deposit.
package source

import (
	"time"

	"github.com/eliteGoblin/egd/internal/domain"
)

// NewRuntime creates the initial runtime state for a freshly configured
// source: Idle, never attempted, gated only by init_delay.
func NewRuntime(initDelay time.Duration, now time.Time) domain.SourceRuntime {
	return domain.SourceRuntime{
		State:            domain.StateIdle,
		FirstRunDeadline: now.Add(initDelay),
	}
}

// IsDue reports whether a source is ready to run a cycle (spec §4.5): not
// disabled, past its first-run deadline, and past its interval since the
// last attempt.
func IsDue(rt *domain.SourceRuntime, interval time.Duration, now time.Time) bool {
	if rt.Disabled {
		return false
	}
	if now.Before(rt.FirstRunDeadline) {
		return false
	}
	return !now.Before(rt.LastAttempt.Add(interval))
}

// recordSuccess resets the failure counter, advances last_attempt and
// last_success, and leaves the source in the Deposited state (spec §4.5's
// happy path).
func recordSuccess(rt *domain.SourceRuntime, now time.Time) {
	rt.State = domain.StateDeposited
	rt.LastAttempt = now
	rt.LastSuccess = now
	rt.ConsecutiveFailures = 0
}

// recordFailure increments the failure counter and disables the source
// once it reaches domain.MaxConsecutiveFailures (spec §4.5).
func recordFailure(rt *domain.SourceRuntime, now time.Time) (justDisabled bool) {
	rt.LastAttempt = now
	rt.ConsecutiveFailures++
	if rt.ConsecutiveFailures >= domain.MaxConsecutiveFailures {
		rt.State = domain.StateDisabled
		rt.Disabled = true
		return true
	}
	rt.State = domain.StateFailedOnce
	return false
}
