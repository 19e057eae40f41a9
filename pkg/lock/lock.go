// Package lock implements a lease-based mutual exclusion primitive on Redis.
//
// A lock is one Redis key per inventory unit, written with SET NX PX and a
// random holder token. The PX expiry is the lease: a crashed holder's lock
// disappears on its own, so no unit stays wedged behind a dead process.
// Release compares the token before deleting, which makes it idempotent and
// safe against deleting a lock that has already expired and been re-acquired
// by someone else.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lock could not be acquired within the
// wait timeout. This is a definite "try again later": the caller must never
// proceed unlocked.
var ErrNotAcquired = errors.New("lock not acquired within wait timeout")

const keyPrefix = "lock:"

// Compare-and-delete: only the holder identified by ARGV[1] may remove the
// key. Returns 1 when the lock was deleted, 0 when it was expired or held
// by someone else.
const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

type Manager struct {
	rdb          *redis.Client
	pollInterval time.Duration
	release      *redis.Script
}

func NewManager(rdb *redis.Client, pollInterval time.Duration) *Manager {
	return &Manager{
		rdb:          rdb,
		pollInterval: pollInterval,
		release:      redis.NewScript(releaseScript),
	}
}

func Key(unitID string) string {
	return keyPrefix + unitID
}

// Acquire takes the lock for unitID, polling until waitTimeout elapses.
// On success it returns the holder token needed for Release. The lease
// starts on the successful SET, not on the first attempt.
func (m *Manager) Acquire(ctx context.Context, unitID string, waitTimeout, leaseTimeout time.Duration) (string, error) {
	token := uuid.NewString()
	key := Key(unitID)
	deadline := time.Now().Add(waitTimeout)

	for {
		ok, err := m.rdb.SetNX(ctx, key, token, leaseTimeout).Result()
		if err != nil {
			return "", fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if ok {
			return token, nil
		}

		if time.Now().After(deadline) {
			return "", ErrNotAcquired
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.pollInterval):
		}
	}
}

// Release frees the lock if and only if token still owns it. Releasing an
// expired or foreign lock is a no-op.
func (m *Manager) Release(ctx context.Context, unitID, token string) error {
	if err := m.release.Run(ctx, m.rdb, []string{Key(unitID)}, token).Err(); err != nil {
		return fmt.Errorf("lock: release %s: %w", Key(unitID), err)
	}
	return nil
}
