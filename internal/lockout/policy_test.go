package lockout

import (
	"testing"
	"time"

	"github.com/tu2l/identity-platform/internal/models"
)

func TestRecordFailureLocksAtThreshold(t *testing.T) {
	policy := NewPolicy(5, 15*time.Minute)
	status := &models.AccountStatus{Enabled: true}
	now := time.Now()

	for i := 1; i <= 4; i++ {
		if locked := policy.RecordFailure(status, now); locked {
			t.Fatalf("locked after %d failures, threshold is 5", i)
		}
	}
	if policy.Locked(status, now) {
		t.Fatal("Locked = true before threshold")
	}

	if locked := policy.RecordFailure(status, now); !locked {
		t.Fatal("fifth failure did not lock")
	}
	if !policy.Locked(status, now) {
		t.Fatal("Locked = false after threshold")
	}
	if status.AccountLockedUntil == nil {
		t.Fatal("AccountLockedUntil not set")
	}
	wantUntil := now.Add(15 * time.Minute)
	if !status.AccountLockedUntil.Equal(wantUntil) {
		t.Errorf("lock until %v, want %v", status.AccountLockedUntil, wantUntil)
	}
}

func TestLockWindowElapsesWithoutResettingCounter(t *testing.T) {
	policy := NewPolicy(5, 15*time.Minute)
	status := &models.AccountStatus{Enabled: true}
	now := time.Now()

	for i := 0; i < 5; i++ {
		policy.RecordFailure(status, now)
	}

	later := now.Add(16 * time.Minute)
	if policy.Locked(status, later) {
		t.Fatal("still locked after window elapsed")
	}
	if status.FailedLoginAttempts != 5 {
		t.Errorf("counter = %d after window elapsed, want 5", status.FailedLoginAttempts)
	}

	// The very next failure reopens the window.
	if locked := policy.RecordFailure(status, later); !locked {
		t.Fatal("failure after elapsed window did not relock")
	}
}

func TestRecordSuccessResetsState(t *testing.T) {
	policy := NewPolicy(5, 15*time.Minute)
	status := &models.AccountStatus{Enabled: true}
	now := time.Now()

	for i := 0; i < 5; i++ {
		policy.RecordFailure(status, now)
	}

	loginAt := now.Add(20 * time.Minute)
	policy.RecordSuccess(status, loginAt)

	if status.FailedLoginAttempts != 0 {
		t.Errorf("counter = %d, want 0", status.FailedLoginAttempts)
	}
	if status.AccountLockedUntil != nil {
		t.Error("AccountLockedUntil not cleared")
	}
	if status.LastLoginAt == nil || !status.LastLoginAt.Equal(loginAt) {
		t.Errorf("LastLoginAt = %v, want %v", status.LastLoginAt, loginAt)
	}
}

func TestUnlockClearsLockAndCounter(t *testing.T) {
	policy := NewPolicy(5, 15*time.Minute)
	status := &models.AccountStatus{Enabled: true}
	now := time.Now()

	for i := 0; i < 5; i++ {
		policy.RecordFailure(status, now)
	}

	Unlock(status)

	if status.FailedLoginAttempts != 0 {
		t.Errorf("counter = %d, want 0", status.FailedLoginAttempts)
	}
	if status.AccountLockedUntil != nil {
		t.Error("AccountLockedUntil not cleared")
	}
	if policy.Locked(status, now) {
		t.Error("still locked after Unlock")
	}
}

func TestNewPolicyDefaults(t *testing.T) {
	policy := NewPolicy(0, 0)
	if policy.Threshold != DefaultThreshold {
		t.Errorf("threshold = %d, want %d", policy.Threshold, DefaultThreshold)
	}
	if policy.LockDuration != DefaultLockDuration {
		t.Errorf("lock duration = %v, want %v", policy.LockDuration, DefaultLockDuration)
	}
}
