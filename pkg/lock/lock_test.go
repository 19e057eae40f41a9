package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// These tests exercise a live Redis. Point TEST_REDIS_ADDR at one to
// enable them.

func testManager(t *testing.T) *Manager {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis not reachable at %s: %v", addr, err)
	}

	return NewManager(rdb, 10*time.Millisecond)
}

func uniqueUnitID(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("lock-test-%s-%d", t.Name(), time.Now().UnixNano())
}

func TestAcquireRelease(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	unitID := uniqueUnitID(t)

	token, err := m.Acquire(ctx, unitID, 100*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}
	if token == "" {
		t.Fatal("expected a holder token")
	}

	if err := m.Release(ctx, unitID, token); err != nil {
		t.Fatalf("unexpected release error: %v", err)
	}

	if _, err := m.Acquire(ctx, unitID, 100*time.Millisecond, time.Second); err != nil {
		t.Fatalf("expected reacquire after release, got %v", err)
	}
}

func TestAcquire_ContentionTimesOut(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	unitID := uniqueUnitID(t)

	if _, err := m.Acquire(ctx, unitID, 100*time.Millisecond, 10*time.Second); err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}

	_, err := m.Acquire(ctx, unitID, 100*time.Millisecond, time.Second)
	if !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
}

// A holder that crashes without releasing must not wedge the unit: the
// lease expiry frees the lock on its own.
func TestAcquire_LeaseExpiryFreesCrashedHolder(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	unitID := uniqueUnitID(t)

	lease := 200 * time.Millisecond
	if _, err := m.Acquire(ctx, unitID, 100*time.Millisecond, lease); err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}

	// No Release. The second acquire polls past the lease expiry.
	start := time.Now()
	if _, err := m.Acquire(ctx, unitID, 2*lease, time.Second); err != nil {
		t.Fatalf("expected acquire after lease expiry, got %v", err)
	}
	if waited := time.Since(start); waited > 2*lease {
		t.Errorf("acquire took %v, expected within the %v lease plus polling slack", waited, lease)
	}
}

// Releasing with a stale token after the lease has expired and the lock
// changed hands must not free the new holder's lock.
func TestRelease_StaleTokenIsNoOp(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	unitID := uniqueUnitID(t)

	staleToken, err := m.Acquire(ctx, unitID, 100*time.Millisecond, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}

	if _, err := m.Acquire(ctx, unitID, time.Second, 10*time.Second); err != nil {
		t.Fatalf("expected acquire after lease expiry, got %v", err)
	}

	if err := m.Release(ctx, unitID, staleToken); err != nil {
		t.Fatalf("stale release must be a no-op, got %v", err)
	}

	_, err = m.Acquire(ctx, unitID, 100*time.Millisecond, time.Second)
	if !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected current holder's lock intact, got %v", err)
	}
}
