package redis

import (
	"context"
	"sync"
	"time"

	"github.com/sharedcode/strata"
)

// mockRedis is a map-backed Cache for unit tests and single-process embedding;
// expirations are ignored.
type mockRedis struct {
	mu     sync.Mutex
	lookup map[string][]byte
	hashes map[string]map[string][]byte
}

// NewMockClient returns a new Redis mock client.
func NewMockClient() Cache {
	return &mockRedis{
		lookup: make(map[string][]byte),
		hashes: make(map[string]map[string][]byte),
	}
}

func (m *mockRedis) Ping(ctx context.Context) error {
	return nil
}

func (m *mockRedis) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookup[key] = []byte(value)
	return nil
}

func (m *mockRedis) Get(ctx context.Context, key string) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ba, ok := m.lookup[key]
	if !ok {
		return false, "", nil
	}
	return true, string(ba), nil
}

func (m *mockRedis) SetIfNotExists(ctx context.Context, key string, value string, expiration time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup[key]; ok {
		return false, nil
	}
	m.lookup[key] = []byte(value)
	return true, nil
}

func (m *mockRedis) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.lookup, k)
	}
	return nil
}

func (m *mockRedis) SetStruct(ctx context.Context, key string, value any, expiration time.Duration) error {
	ba, err := strata.NewMarshaler().Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookup[key] = ba
	return nil
}

func (m *mockRedis) GetStruct(ctx context.Context, key string, target any) (bool, error) {
	m.mu.Lock()
	ba, ok := m.lookup[key]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, strata.NewMarshaler().Unmarshal(ba, target)
}

func (m *mockRedis) HSetStruct(ctx context.Context, key string, field string, value any) error {
	ba, err := strata.NewMarshaler().Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string][]byte)
		m.hashes[key] = h
	}
	h[field] = ba
	return nil
}

func (m *mockRedis) HGetStruct(ctx context.Context, key string, field string, target any) (bool, error) {
	m.mu.Lock()
	ba, ok := m.hashes[key][field]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, strata.NewMarshaler().Unmarshal(ba, target)
}

func (m *mockRedis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := make(map[string]string, len(m.hashes[key]))
	for f, ba := range m.hashes[key] {
		r[f] = string(ba)
	}
	return r, nil
}

func (m *mockRedis) HDelete(ctx context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range fields {
		delete(m.hashes[key], f)
	}
	return nil
}
