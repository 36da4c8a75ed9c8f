package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sharedcode/strata"
)

// Cache is the slice of Redis commands the cluster backend needs. The concrete
// client talks to a live server; a map-backed mock (NewMockClient) serves unit
// tests and embedding without a server.
type Cache interface {
	// Ping tests connectivity.
	Ping(ctx context.Context) error

	// Set stores a string value with expiration (0 = no expiry).
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	// Get fetches a string value; first result is false when the key is absent.
	Get(ctx context.Context, key string) (bool, string, error)
	// SetIfNotExists stores value only when key is absent & reports whether it won.
	SetIfNotExists(ctx context.Context, key string, value string, expiration time.Duration) (bool, error)
	// Delete removes keys; missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// SetStruct JSON-encodes value under key.
	SetStruct(ctx context.Context, key string, value any, expiration time.Duration) error
	// GetStruct decodes the JSON stored under key into target; false when absent.
	GetStruct(ctx context.Context, key string, target any) (bool, error)

	// HSetStruct JSON-encodes value under a hash field.
	HSetStruct(ctx context.Context, key string, field string, value any) error
	// HGetStruct decodes the JSON stored under a hash field; false when absent.
	HGetStruct(ctx context.Context, key string, field string, target any) (bool, error)
	// HGetAll returns all field/JSON pairs of a hash.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// HDelete removes hash fields.
	HDelete(ctx context.Context, key string, fields ...string) error
}

type client struct {
	conn *Connection
}

// NewClient wraps the singleton Connection in the Cache interface. OpenConnection
// must have been called.
func NewClient() Cache {
	return &client{
		conn: connection,
	}
}

// keyNotFound will detect whether error signifies key not found by Redis.
func (c client) keyNotFound(err error) bool {
	return err == redis.Nil
}

func (c client) Ping(ctx context.Context) error {
	if c.conn == nil {
		return fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	return c.conn.Client.Ping(ctx).Err()
}

func (c client) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	if c.conn == nil {
		return fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	return c.conn.Client.Set(ctx, key, value, expiration).Err()
}

func (c client) Get(ctx context.Context, key string) (bool, string, error) {
	if c.conn == nil {
		return false, "", fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	s, err := c.conn.Client.Get(ctx, key).Result()
	// Convert key not found into returning false and nil err.
	r := err == nil
	if c.keyNotFound(err) {
		err = nil
	}
	return r, s, err
}

func (c client) SetIfNotExists(ctx context.Context, key string, value string, expiration time.Duration) (bool, error) {
	if c.conn == nil {
		return false, fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	return c.conn.Client.SetNX(ctx, key, value, expiration).Result()
}

func (c client) Delete(ctx context.Context, keys ...string) error {
	if c.conn == nil {
		return fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	return c.conn.Client.Del(ctx, keys...).Err()
}

func (c client) SetStruct(ctx context.Context, key string, value any, expiration time.Duration) error {
	if c.conn == nil {
		return fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	ba, err := strata.NewMarshaler().Marshal(value)
	if err != nil {
		return err
	}
	return c.conn.Client.Set(ctx, key, ba, expiration).Err()
}

func (c client) GetStruct(ctx context.Context, key string, target any) (bool, error) {
	if c.conn == nil {
		return false, fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	ba, err := c.conn.Client.Get(ctx, key).Bytes()
	if c.keyNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, strata.NewMarshaler().Unmarshal(ba, target)
}

func (c client) HSetStruct(ctx context.Context, key string, field string, value any) error {
	if c.conn == nil {
		return fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	ba, err := strata.NewMarshaler().Marshal(value)
	if err != nil {
		return err
	}
	return c.conn.Client.HSet(ctx, key, field, ba).Err()
}

func (c client) HGetStruct(ctx context.Context, key string, field string, target any) (bool, error) {
	if c.conn == nil {
		return false, fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	ba, err := c.conn.Client.HGet(ctx, key, field).Bytes()
	if c.keyNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, strata.NewMarshaler().Unmarshal(ba, target)
}

func (c client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	return c.conn.Client.HGetAll(ctx, key).Result()
}

func (c client) HDelete(ctx context.Context, key string, fields ...string) error {
	if c.conn == nil {
		return fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	return c.conn.Client.HDel(ctx, key, fields...).Err()
}
