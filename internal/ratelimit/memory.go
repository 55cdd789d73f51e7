package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory is a fixed-window limiter local to the process.
type Memory struct {
	mu      sync.Mutex
	rule    Rule
	clients map[string]*bucket
	now     func() time.Time

	sweepEvery int
	calls      int
}

type bucket struct {
	count     int64
	windowEnd time.Time
}

func NewMemory(rule Rule) *Memory {
	return &Memory{
		rule:       rule,
		clients:    make(map[string]*bucket),
		now:        time.Now,
		sweepEvery: 1024,
	}
}

func (m *Memory) Allow(ctx context.Context, key string) (Decision, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.calls%m.sweepEvery == 0 {
		m.evictExpired(now)
	}

	b, ok := m.clients[key]
	if !ok || !now.Before(b.windowEnd) {
		b = &bucket{windowEnd: now.Add(m.rule.Window)}
		m.clients[key] = b
	}

	b.count++

	return decide(m.rule, b.count, b.windowEnd.Sub(now)), nil
}

// evictExpired drops finished windows so one-off keys don't accumulate.
func (m *Memory) evictExpired(now time.Time) {
	for k, b := range m.clients {
		if !now.Before(b.windowEnd) {
			delete(m.clients, k)
		}
	}
}

func (m *Memory) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}
