// Package lockout implements the account-lockout state machine. It only
// mutates the AccountStatus it is handed; persisting the result is the
// caller's job.
package lockout

import (
	"time"

	"github.com/tu2l/identity-platform/internal/models"
)

const (
	DefaultThreshold    = 5
	DefaultLockDuration = 15 * time.Minute
)

type Policy struct {
	Threshold    int
	LockDuration time.Duration
}

func NewPolicy(threshold int, lockDuration time.Duration) Policy {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if lockDuration <= 0 {
		lockDuration = DefaultLockDuration
	}
	return Policy{Threshold: threshold, LockDuration: lockDuration}
}

// RecordFailure increments the failure counter and, once the threshold is
// reached, opens a lock window. Returns true when this failure locked the
// account.
func (p Policy) RecordFailure(status *models.AccountStatus, now time.Time) bool {
	status.FailedLoginAttempts++
	if status.FailedLoginAttempts >= p.Threshold {
		lockedUntil := now.Add(p.LockDuration)
		status.AccountLockedUntil = &lockedUntil
		return true
	}
	return false
}

// RecordSuccess clears the failure counter after a successful credential
// check. An elapsed lock window is only cleared here, never by the passage
// of time alone.
func (p Policy) RecordSuccess(status *models.AccountStatus, now time.Time) {
	status.FailedLoginAttempts = 0
	status.AccountLockedUntil = nil
	status.LastLoginAt = &now
}

// Locked reports whether authentication must be refused outright.
func (p Policy) Locked(status *models.AccountStatus, now time.Time) bool {
	return status.Locked(now)
}

// Unlock is the administrative escape hatch: clears both fields
// unconditionally.
func Unlock(status *models.AccountStatus) {
	status.AccountLockedUntil = nil
	status.FailedLoginAttempts = 0
}
