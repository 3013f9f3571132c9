// Package runlock guarantees at most one pipeline run per meeting.
package runlock

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrLocked = errors.New("run already in progress")

// Lease is held for the lifetime of one run. Release is idempotent.
type Lease interface {
	Key() string
	Release(ctx context.Context) error
}

type Locker interface {
	// TryLock acquires the run lock for key or fails fast with ErrLocked.
	TryLock(ctx context.Context, key string) (Lease, error)
}

type memoryLocker struct {
	mu   sync.Mutex
	held map[string]string
}

// NewMemory returns a Locker for a single process.
func NewMemory() Locker {
	return &memoryLocker{held: make(map[string]string)}
}

func (l *memoryLocker) TryLock(ctx context.Context, key string) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, ErrLocked
	}
	token := uuid.NewString()
	l.held[key] = token
	return &memoryLease{locker: l, key: key, token: token}, nil
}

type memoryLease struct {
	locker *memoryLocker
	key    string
	token  string
	once   sync.Once
}

func (m *memoryLease) Key() string {
	return m.key
}

func (m *memoryLease) Release(ctx context.Context) error {
	m.once.Do(func() {
		m.locker.mu.Lock()
		defer m.locker.mu.Unlock()
		if m.locker.held[m.key] == m.token {
			delete(m.locker.held, m.key)
		}
	})
	return nil
}
