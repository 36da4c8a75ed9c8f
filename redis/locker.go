package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/sharedcode/strata"
)

// Lock attempts to acquire the lock key with the given TTL. A second read
// confirms the attempt actually won, since concurrent SetIfNotExists winners on
// a cluster can race with failovers. Returns the owner ID to use on unlock, or
// a LockAcquisitionFailure error when another owner holds the key.
func Lock(ctx context.Context, cache Cache, key string, ttl time.Duration) (strata.UUID, error) {
	id := strata.NewUUID()
	won, err := cache.SetIfNotExists(ctx, key, id.String(), ttl)
	if err != nil {
		return strata.NilUUID, err
	}
	if !won {
		return strata.NilUUID, strata.Error{Code: strata.LockAcquisitionFailure, Err: fmt.Errorf("lock %s is held by another owner", key)}
	}
	// Use a 2nd "get" to ensure we "won" the lock attempt & fail if not.
	found, readItem, err := cache.Get(ctx, key)
	if err != nil {
		return strata.NilUUID, err
	}
	if !found || readItem != id.String() {
		return strata.NilUUID, strata.Error{Code: strata.LockAcquisitionFailure, Err: fmt.Errorf("lost lock %s after acquisition", key)}
	}
	return id, nil
}

// Unlock releases the lock key if still owned by owner; a lock lost to TTL
// expiry is not an error.
func Unlock(ctx context.Context, cache Cache, key string, owner strata.UUID) error {
	found, readItem, err := cache.Get(ctx, key)
	if err != nil {
		return err
	}
	if !found || readItem != owner.String() {
		return nil
	}
	return cache.Delete(ctx, key)
}
