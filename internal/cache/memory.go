package cache

import (
	"context"
	"sync"
)

// Memory is an in-process cache. It does not survive restarts and is meant
// for tests and throwaway development runs.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
	closed bool
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	if err := validateKey("get", key); err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, &CacheError{Op: "get", Key: key, Err: ErrClosed}
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(ctx context.Context, key, value string) error {
	if err := validateKey("set", key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return &CacheError{Op: "set", Key: key, Err: ErrClosed}
	}
	m.values[key] = value
	return nil
}

func (m *Memory) Remove(ctx context.Context, key string) error {
	if err := validateKey("remove", key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return &CacheError{Op: "remove", Key: key, Err: ErrClosed}
	}
	delete(m.values, key)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Failing wraps a cache and returns err from every write while armed. It
// lets tests exercise write-failure paths.
type Failing struct {
	Cache
	mu  sync.Mutex
	err error
}

// NewFailing wraps c.
func NewFailing(c Cache) *Failing {
	return &Failing{Cache: c}
}

// FailWrites makes subsequent Set and Remove calls return err. A nil err
// disarms the wrapper.
func (f *Failing) FailWrites(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *Failing) armed() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Failing) Set(ctx context.Context, key, value string) error {
	if err := f.armed(); err != nil {
		return &CacheError{Op: "set", Key: key, Err: err}
	}
	return f.Cache.Set(ctx, key, value)
}

func (f *Failing) Remove(ctx context.Context, key string) error {
	if err := f.armed(); err != nil {
		return &CacheError{Op: "remove", Key: key, Err: err}
	}
	return f.Cache.Remove(ctx, key)
}
