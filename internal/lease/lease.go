package lease

import (
	"context"
	"sync"
	"time"
)

// Manager grants exclusive ownership of a saga id for the duration of one
// engine run. Acquire reports ok=false when another run already holds the
// saga; Release must be called by the winning run when it finishes.
type Manager interface {
	Acquire(ctx context.Context, sagaID string, ttl time.Duration) (Lease, bool, error)
}

// Lease is one granted ownership claim.
type Lease interface {
	Release(ctx context.Context) error
}

// NewInMemoryManager constructs a process-local lease manager.
func NewInMemoryManager() *InMemoryManager {
	return &InMemoryManager{held: make(map[string]struct{})}
}

// InMemoryManager tracks held sagas in memory. It serializes engine runs
// within a single process; the Redis manager extends the same guarantee
// across processes.
type InMemoryManager struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func (m *InMemoryManager) Acquire(ctx context.Context, sagaID string, ttl time.Duration) (Lease, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.held[sagaID]; taken {
		return nil, false, nil
	}
	m.held[sagaID] = struct{}{}
	return &memoryLease{manager: m, sagaID: sagaID}, true, nil
}

type memoryLease struct {
	manager *InMemoryManager
	sagaID  string
	once    sync.Once
}

func (l *memoryLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.manager.mu.Lock()
		delete(l.manager.held, l.sagaID)
		l.manager.mu.Unlock()
	})
	return nil
}
