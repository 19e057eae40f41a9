// Package quota tracks the remaining claimable quantity per inventory unit
// as an atomic Redis counter.
//
// Reservation is a single conditional decrement in Lua: the counter only
// moves when the balance covers the requested amount, so no reader can ever
// observe it negative and the exhausted path needs no compensating write.
// Release (the compensation for a failed ledger insert) is a plain INCRBY.
package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrExhausted is returned when the counter cannot cover the requested
// amount. The counter is left untouched.
var ErrExhausted = errors.New("quota exhausted")

// ErrUninitialized is returned when no counter exists for the unit. A
// missing counter reserves as a hard failure rather than treating the
// balance as zero or unlimited; reconciliation or Init must run first.
var ErrUninitialized = errors.New("quota counter not initialized")

const keyPrefix = "quota:"

// KEYS[1] = quota key, ARGV[1] = amount.
// Returns the remaining balance after a successful reservation,
// -1 when the balance is insufficient, -2 when the key does not exist.
const reserveScript = `
local balance = redis.call('GET', KEYS[1])
if balance == false then
  return -2
end
balance = tonumber(balance)
local amount = tonumber(ARGV[1])
if balance < amount then
  return -1
end
return redis.call('DECRBY', KEYS[1], amount)
`

type Store struct {
	rdb     *redis.Client
	reserve *redis.Script
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{
		rdb:     rdb,
		reserve: redis.NewScript(reserveScript),
	}
}

func Key(unitID string) string {
	return keyPrefix + unitID
}

// Init writes the counter for a freshly created unit.
func (s *Store) Init(ctx context.Context, unitID string, total int64) error {
	if err := s.rdb.Set(ctx, Key(unitID), total, 0).Err(); err != nil {
		return fmt.Errorf("quota: init %s: %w", Key(unitID), err)
	}
	return nil
}

// Reserve atomically decrements the counter by amount, failing with
// ErrExhausted when the balance is insufficient. Concurrent reservations
// serialize through Redis itself, independent of the distributed lock.
func (s *Store) Reserve(ctx context.Context, unitID string, amount int64) (int64, error) {
	remaining, err := s.reserve.Run(ctx, s.rdb, []string{Key(unitID)}, amount).Int64()
	if err != nil {
		return 0, fmt.Errorf("quota: reserve %s: %w", Key(unitID), err)
	}
	switch remaining {
	case -1:
		return 0, ErrExhausted
	case -2:
		return 0, ErrUninitialized
	}
	return remaining, nil
}

// Release returns a previously reserved amount to the counter. Used as the
// compensation step when the ledger write fails after a reservation.
func (s *Store) Release(ctx context.Context, unitID string, amount int64) (int64, error) {
	remaining, err := s.rdb.IncrBy(ctx, Key(unitID), amount).Result()
	if err != nil {
		return 0, fmt.Errorf("quota: release %s: %w", Key(unitID), err)
	}
	return remaining, nil
}

// Remaining reads the current balance. Returns ErrUninitialized when the
// counter is missing.
func (s *Store) Remaining(ctx context.Context, unitID string) (int64, error) {
	remaining, err := s.rdb.Get(ctx, Key(unitID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrUninitialized
		}
		return 0, fmt.Errorf("quota: remaining %s: %w", Key(unitID), err)
	}
	return remaining, nil
}
