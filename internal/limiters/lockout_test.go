package limiters

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/guestauth/ratecounter"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLockout() (*Lockout, *testClock) {
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	counter := ratecounter.NewMemory(ratecounter.WithClock(clock.Now))
	return NewLockout(counter, LockoutConfig{
		Enabled:   true,
		Threshold: 10,
		Duration:  30 * time.Minute,
	}), clock
}

func TestLockoutThreshold(t *testing.T) {
	l, clock := newTestLockout()
	ctx := context.Background()

	for i := 1; i < 10; i++ {
		status, err := l.RecordFailure(ctx, "user@example.com")
		if err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
		if status.Locked {
			t.Fatalf("locked early after %d failures", i)
		}
	}

	status, err := l.RecordFailure(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if !status.Locked {
		t.Fatal("expected lock on the 10th failure")
	}
	if want := clock.Now().Add(30 * time.Minute); !status.LockedUntil.Equal(want) {
		t.Fatalf("lockedUntil = %v, want %v", status.LockedUntil, want)
	}

	check, err := l.CheckLocked(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("CheckLocked failed: %v", err)
	}
	if !check.Locked {
		t.Fatal("expected CheckLocked to report the lock")
	}
}

func TestLockoutNormalizesIdentity(t *testing.T) {
	l, _ := newTestLockout()
	ctx := context.Background()

	spellings := []string{"User@Example.com", " user@example.com", "USER@EXAMPLE.COM "}
	for i := 0; i < 10; i++ {
		if _, err := l.RecordFailure(ctx, spellings[i%len(spellings)]); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
	}

	status, err := l.CheckLocked(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("CheckLocked failed: %v", err)
	}
	if !status.Locked {
		t.Fatal("expected equivalent spellings to share one counter")
	}
}

func TestLockoutRecordSuccessClears(t *testing.T) {
	l, _ := newTestLockout()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _ = l.RecordFailure(ctx, "a@example.com")
	}
	if err := l.RecordSuccess(ctx, "a@example.com"); err != nil {
		t.Fatalf("RecordSuccess failed: %v", err)
	}

	status, _ := l.CheckLocked(ctx, "a@example.com")
	if status.Locked {
		t.Fatal("expected lock to be cleared")
	}
	if n, _ := l.Failures(ctx, "a@example.com"); n != 0 {
		t.Fatalf("expected zero failures, got %d", n)
	}

	for i := 0; i < 3; i++ {
		_, _ = l.RecordFailure(ctx, "a@example.com")
	}
	_ = l.RecordSuccess(ctx, "a@example.com")
	if n, _ := l.Failures(ctx, "a@example.com"); n != 0 {
		t.Fatalf("expected streak reset, got %d", n)
	}
}

func TestLockoutExpiresLazily(t *testing.T) {
	l, clock := newTestLockout()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _ = l.RecordFailure(ctx, "b@example.com")
	}
	clock.Advance(30*time.Minute + time.Second)

	status, err := l.CheckLocked(ctx, "b@example.com")
	if err != nil {
		t.Fatalf("CheckLocked failed: %v", err)
	}
	if status.Locked {
		t.Fatal("expected lock to lapse after the window")
	}
}

func TestLockoutIdentitiesAreIndependent(t *testing.T) {
	l, _ := newTestLockout()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _ = l.RecordFailure(ctx, "victim@example.com")
	}
	status, _ := l.CheckLocked(ctx, "other@example.com")
	if status.Locked {
		t.Fatal("lock leaked to another identity")
	}
}

func TestLockoutDisabledAndNil(t *testing.T) {
	ctx := context.Background()

	var nilLockout *Lockout
	if status, err := nilLockout.RecordFailure(ctx, "x@example.com"); err != nil || status.Locked {
		t.Fatalf("nil lockout should allow, got %+v %v", status, err)
	}

	disabled := NewLockout(ratecounter.NewMemory(), LockoutConfig{Threshold: 1, Duration: time.Minute})
	if status, _ := disabled.RecordFailure(ctx, "x@example.com"); status.Locked {
		t.Fatal("disabled lockout must not lock")
	}
}
