package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"nextbb-automation/testutil"
)

func TestLeaseLockerExclusive(t *testing.T) {
	db := testutil.NewDB(t)
	clock := testutil.NewClock()
	ctx := context.Background()
	const key = "automation-rule-1"

	a := NewLeaseLocker(db, "node-a", 50*time.Second, clock)
	b := NewLeaseLocker(db, "node-b", 50*time.Second, clock)

	lock, err := a.Lock(ctx, key)
	if err != nil {
		t.Fatalf("a.Lock: %v", err)
	}
	if err := lock.Unlock(ctx); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	// the lease outlives Unlock until it expires
	if _, err := b.Lock(ctx, key); !errors.Is(err, errLeaseHeld) {
		t.Fatalf("b.Lock err = %v, want errLeaseHeld", err)
	}
	if _, err := a.Lock(ctx, key); err != nil {
		t.Fatalf("owner re-lock: %v", err)
	}

	clock.Advance(51 * time.Second)
	if _, err := b.Lock(ctx, key); err != nil {
		t.Fatalf("b.Lock after expiry: %v", err)
	}
	if _, err := a.Lock(ctx, key); !errors.Is(err, errLeaseHeld) {
		t.Fatalf("a.Lock err = %v, want errLeaseHeld", err)
	}

	if _, err := a.Lock(ctx, "automation-rule-2"); err != nil {
		t.Errorf("independent key: %v", err)
	}
}
