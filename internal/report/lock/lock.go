package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrHeld is returned when another run holds the lock
var ErrHeld = errors.New("lock: already held")

// Release frees a lock obtained from Acquire
type Release func()

// Locker serializes pipeline runs per report
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
	Backend() string
}

// Memory is an in-process Locker. It only serializes runs within one
// instance.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemory creates an empty in-process locker
func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

// Acquire takes key or fails with ErrHeld without waiting
func (m *Memory) Acquire(ctx context.Context, key string) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return nil, ErrHeld
	}
	m.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
	}, nil
}

// Backend names the lock implementation
func (m *Memory) Backend() string {
	return "memory"
}
