package cache

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process Store with full TTL semantics. It backs unit tests
// and lets the collector keep serving the most recent data when Redis is
// unreachable. Expired keys are dropped lazily on read.
type Memory struct {
	mu     sync.RWMutex
	values map[string]memoryValue
	hashes map[string]memoryHash

	// now is stubbed in tests to exercise expiry without sleeping.
	now func() time.Time
}

type memoryValue struct {
	value     string
	expiresAt time.Time
}

type memoryHash struct {
	fields    map[string]string
	expiresAt time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		values: make(map[string]memoryValue),
		hashes: make(map[string]memoryHash),
		now:    time.Now,
	}
}

func (m *Memory) expired(deadline time.Time) bool {
	return !deadline.IsZero() && m.now().After(deadline)
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	v, ok := m.values[key]
	m.mu.RUnlock()
	if !ok || m.expired(v.expiresAt) {
		return "", ErrMiss
	}
	return v.value, nil
}

func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var deadline time.Time
	if ttl > 0 {
		deadline = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.values[key] = memoryValue{value: value, expiresAt: deadline}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	for _, key := range keys {
		delete(m.values, key)
		delete(m.hashes, key)
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) HSet(ctx context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok || m.expired(h.expiresAt) {
		h = memoryHash{fields: make(map[string]string)}
	}
	for k, v := range fields {
		h.fields[k] = v
	}
	m.hashes[key] = h
	return nil
}

func (m *Memory) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hashes[key]
	if !ok || m.expired(h.expiresAt) {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(h.fields))
	for k, v := range h.fields {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for key, v := range m.values {
		if m.expired(v.expiresAt) {
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	for key, h := range m.hashes {
		if m.expired(h.expiresAt) {
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *Memory) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var current int64
	if v, ok := m.values[key]; ok && !m.expired(v.expiresAt) {
		current, _ = strconv.ParseInt(v.value, 10, 64)
	}
	current += delta
	m.values[key] = memoryValue{value: strconv.FormatInt(current, 10)}
	return current, nil
}

func (m *Memory) BatchGet(ctx context.Context, keys []string) ([]string, error) {
	out := make([]string, len(keys))
	for i, key := range keys {
		if v, err := m.Get(ctx, key); err == nil {
			out[i] = v
		}
	}
	return out, nil
}

func (m *Memory) BatchSet(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if err := m.Set(ctx, e.Key, e.Value, e.TTL); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) BatchHGetAll(ctx context.Context, keys []string) ([]map[string]string, error) {
	out := make([]map[string]string, len(keys))
	for i, key := range keys {
		fields, err := m.HGetAll(ctx, key)
		if err != nil {
			return nil, err
		}
		if len(fields) > 0 {
			out[i] = fields
		}
	}
	return out, nil
}

func (m *Memory) BatchHSet(ctx context.Context, entries []HashEntry) error {
	for _, e := range entries {
		if err := m.HSet(ctx, e.Key, e.Fields); err != nil {
			return err
		}
		if e.TTL > 0 {
			m.mu.Lock()
			h := m.hashes[e.Key]
			h.expiresAt = m.now().Add(e.TTL)
			m.hashes[e.Key] = h
			m.mu.Unlock()
		}
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}
