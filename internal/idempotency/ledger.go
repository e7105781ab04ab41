// Package idempotency keeps a Redis ledger of idempotency keys so a savings
// transfer is claimed by one run before it reaches the bank.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "budget:transfer:"

const releaseScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"

// Claim is the result of trying to claim a key.
type Claim struct {
	// Acquired is true when the caller holds the key, including when it
	// already held it.
	Acquired bool
	// Holder is the owner currently holding the key.
	Holder string
	// TransferID is set once the holder recorded a completed transfer.
	TransferID string
}

// Ledger records claims and completed transfers per idempotency key.
type Ledger struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewLedger creates a ledger. Entries expire after ttl.
func NewLedger(client redis.UniversalClient, ttl time.Duration) *Ledger {
	return &Ledger{client: client, ttl: ttl}
}

// NewClient opens a Redis client for addr.
func NewClient(addr string) redis.UniversalClient {
	return redis.NewClient(&redis.Options{Addr: addr})
}

func claimKey(key string) string  { return keyPrefix + key }
func resultKey(key string) string { return keyPrefix + key + ":id" }

// Claim marks key as being acted on by owner.
func (l *Ledger) Claim(ctx context.Context, key, owner string) (Claim, error) {
	ok, err := l.client.SetNX(ctx, claimKey(key), owner, l.ttl).Result()
	if err != nil {
		return Claim{}, fmt.Errorf("Claim: failed to claim %s: %w", key, err)
	}
	if ok {
		return Claim{Acquired: true, Holder: owner}, nil
	}

	holder, err := l.client.Get(ctx, claimKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		ok, err = l.client.SetNX(ctx, claimKey(key), owner, l.ttl).Result()
		if err != nil {
			return Claim{}, fmt.Errorf("Claim: failed to claim %s: %w", key, err)
		}
		if ok {
			return Claim{Acquired: true, Holder: owner}, nil
		}
		holder, err = l.client.Get(ctx, claimKey(key)).Result()
	}
	if err != nil {
		return Claim{}, fmt.Errorf("Claim: failed to read holder of %s: %w", key, err)
	}

	transferID, err := l.transferID(ctx, key)
	if err != nil {
		return Claim{}, err
	}
	return Claim{Acquired: holder == owner && transferID == "", Holder: holder, TransferID: transferID}, nil
}

// Complete records the bank transfer id created under key.
func (l *Ledger) Complete(ctx context.Context, key, transferID string) error {
	if err := l.client.Set(ctx, resultKey(key), transferID, l.ttl).Err(); err != nil {
		return fmt.Errorf("Complete: failed to record transfer for %s: %w", key, err)
	}
	return nil
}

// Release drops owner's claim on key so a later run may try again. Claims
// held by someone else are left alone.
func (l *Ledger) Release(ctx context.Context, key, owner string) error {
	res, err := l.client.Eval(ctx, releaseScript, []string{claimKey(key)}, owner).Result()
	if err != nil {
		return fmt.Errorf("Release: failed to release %s: %w", key, err)
	}
	if res == int64(0) {
		return fmt.Errorf("Release: %s is not held by %s", key, owner)
	}
	return nil
}

func (l *Ledger) transferID(ctx context.Context, key string) (string, error) {
	id, err := l.client.Get(ctx, resultKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("Claim: failed to read transfer for %s: %w", key, err)
	}
	return id, nil
}
