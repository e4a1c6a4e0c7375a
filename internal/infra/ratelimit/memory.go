package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

const defaultMaxKeys = 10000

var ErrCapacityExceeded = errors.New("rate limiter capacity exceeded")

// Memory is a fixed-window limiter for a single registryd process.
type Memory struct {
	policy  Policy
	now     func() time.Time
	maxKeys int

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	count     int
	windowEnd time.Time
}

type MemoryOptions struct {
	Now     func() time.Time
	MaxKeys int
}

func NewMemory(policy Policy, opts MemoryOptions) *Memory {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxKeys <= 0 {
		opts.MaxKeys = defaultMaxKeys
	}
	return &Memory{
		policy:  policy,
		now:     opts.Now,
		maxKeys: opts.MaxKeys,
		buckets: make(map[string]*bucket),
	}
}

func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	if m.policy.Limit <= 0 {
		return m.policy.unlimited(), nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if ok && now.After(b.windowEnd) {
		delete(m.buckets, key)
		ok = false
	}
	if !ok {
		if len(m.buckets) >= m.maxKeys {
			m.evictExpired(now)
		}
		if len(m.buckets) >= m.maxKeys {
			return Decision{}, ErrCapacityExceeded
		}
		b = &bucket{windowEnd: now.Add(m.policy.Window)}
		m.buckets[key] = b
	}

	if b.count >= m.policy.Limit {
		return Decision{Limit: m.policy.Limit, ResetAt: b.windowEnd}, nil
	}
	b.count++
	return Decision{
		Allowed:   true,
		Limit:     m.policy.Limit,
		Remaining: m.policy.Limit - b.count,
		ResetAt:   b.windowEnd,
	}, nil
}

func (m *Memory) evictExpired(now time.Time) {
	for key, b := range m.buckets {
		if now.After(b.windowEnd) {
			delete(m.buckets, key)
		}
	}
}
