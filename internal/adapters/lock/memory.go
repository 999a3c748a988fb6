// Package lock provides per-key mutual exclusion for the settlement engine:
// an in-process locker for a single node and a Redis locker for several.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/nhowze/overunder/internal/ports"
)

// Memory serialises holders of the same key within one process. The ttl is
// ignored; a lock is held until released. A key's slot lives only while
// someone holds or waits for it.
type Memory struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int // holder plus waiters
}

var _ ports.Locker = (*Memory)(nil)

// NewMemory creates an empty in-process locker.
func NewMemory() *Memory {
	return &Memory{slots: make(map[string]*slot)}
}

func (m *Memory) ref(key string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	return s
}

func (m *Memory) unref(key string, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}

// Acquire blocks until key is free or ctx is done.
func (m *Memory) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	s := m.ref(key)
	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		m.unref(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			m.unref(key, s)
		})
	}, nil
}

// Len returns the number of keys currently held or awaited.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}
