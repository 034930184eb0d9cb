// Package lock serializes planning runs per owner. Two runs for the same
// owner must never interleave their read-solve-write cycle; runs for
// different owners are independent.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"dayplan/internal/config"
)

// ErrLocked is returned when another run holds the key.
var ErrLocked = errors.New("lock: already held")

// Release gives a held lock back. It is safe to call more than once.
type Release func()

// Locker hands out exclusive, non-blocking per-key locks.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// New builds the locker selected by cfg.Backend.
func New(cfg config.LockConfig, logger zerolog.Logger) (Locker, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(cfg, logger)
	default:
		return nil, fmt.Errorf("lock: unknown backend %q", cfg.Backend)
	}
}

// Memory is an in-process Locker.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

func (m *Memory) Acquire(ctx context.Context, key string) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return nil, ErrLocked
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
