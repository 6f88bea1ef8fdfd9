package store

import (
	"context"
	"testing"
	"time"
)

func TestAcquireLock_Exclusive(t *testing.T) {
	clock := newTestClock()
	s := createTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	ok, err := s.AcquireLock(ctx, "4ap_sync", "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("AcquireLock(a) = %v, %v; want true", ok, err)
	}

	ok, err = s.AcquireLock(ctx, "4ap_sync", "b", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock(b) failed: %v", err)
	}
	if ok {
		t.Error("AcquireLock(b) = true while a holds the lock")
	}

	ok, err = s.AcquireLock(ctx, "4ap_sync", "a", time.Minute)
	if err != nil || !ok {
		t.Errorf("re-AcquireLock(a) = %v, %v; want true", ok, err)
	}
}

func TestAcquireLock_TakesOverExpired(t *testing.T) {
	clock := newTestClock()
	s := createTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	if ok, _ := s.AcquireLock(ctx, "4ap_sync", "a", time.Minute); !ok {
		t.Fatal("AcquireLock(a) = false")
	}
	clock.Advance(2 * time.Minute)

	ok, err := s.AcquireLock(ctx, "4ap_sync", "b", time.Minute)
	if err != nil || !ok {
		t.Fatalf("AcquireLock(b) after expiry = %v, %v; want true", ok, err)
	}

	released, err := s.ReleaseLock(ctx, "4ap_sync", "a")
	if err != nil {
		t.Fatalf("ReleaseLock(a) failed: %v", err)
	}
	if released {
		t.Error("ReleaseLock(a) = true after takeover")
	}
}

func TestReleaseLock(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	released, err := s.ReleaseLock(ctx, "4ap_sync", "a")
	if err != nil || released {
		t.Errorf("ReleaseLock() on free lock = %v, %v; want false, nil", released, err)
	}

	s.AcquireLock(ctx, "4ap_sync", "a", time.Minute)
	released, err = s.ReleaseLock(ctx, "4ap_sync", "a")
	if err != nil || !released {
		t.Errorf("ReleaseLock() = %v, %v; want true, nil", released, err)
	}

	ok, err := s.AcquireLock(ctx, "4ap_sync", "b", time.Minute)
	if err != nil || !ok {
		t.Errorf("AcquireLock(b) after release = %v, %v; want true", ok, err)
	}
}

func TestRefreshLock(t *testing.T) {
	clock := newTestClock()
	s := createTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	if ok, _ := s.AcquireLock(ctx, "4ap_sync", "a", time.Minute); !ok {
		t.Fatal("AcquireLock(a) = false")
	}

	// Refreshed before expiry, so a run past the original ttl keeps the lock.
	clock.Advance(50 * time.Second)
	ok, err := s.RefreshLock(ctx, "4ap_sync", "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("RefreshLock(a) = %v, %v; want true", ok, err)
	}
	clock.Advance(50 * time.Second)
	if ok, _ := s.AcquireLock(ctx, "4ap_sync", "b", time.Minute); ok {
		t.Error("AcquireLock(b) = true on a refreshed lock")
	}

	clock.Advance(2 * time.Minute)
	if ok, _ := s.AcquireLock(ctx, "4ap_sync", "b", time.Minute); !ok {
		t.Fatal("AcquireLock(b) = false on an expired lock")
	}
	ok, err = s.RefreshLock(ctx, "4ap_sync", "a", time.Minute)
	if err != nil {
		t.Fatalf("RefreshLock(a) failed: %v", err)
	}
	if ok {
		t.Error("RefreshLock(a) = true after b took the lock over")
	}
}
