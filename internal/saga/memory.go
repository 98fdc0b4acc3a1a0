package saga

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// NewInMemoryStateStore constructs an in-memory state store.
func NewInMemoryStateStore() *InMemoryStateStore {
	return &InMemoryStateStore{
		states: make(map[string]*State),
		now:    time.Now,
	}
}

// InMemoryStateStore keeps saga states in memory. It honors the same
// conditional-update contract as the Postgres store.
type InMemoryStateStore struct {
	mu     sync.Mutex
	states map[string]*State
	now    func() time.Time
}

func (s *InMemoryStateStore) Create(ctx context.Context, state *State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.states[state.SagaID]; ok {
		return fmt.Errorf("saga %s: %w", state.SagaID, ErrConflict)
	}
	state.Version = 1
	s.states[state.SagaID] = state.Clone()
	return nil
}

func (s *InMemoryStateStore) FindByID(ctx context.Context, sagaID string) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[sagaID]
	if !ok {
		return nil, fmt.Errorf("saga %s: %w", sagaID, ErrNotFound)
	}
	return state.Clone(), nil
}

func (s *InMemoryStateStore) Update(ctx context.Context, state *State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.states[state.SagaID]
	if !ok {
		return fmt.Errorf("saga %s: %w", state.SagaID, ErrNotFound)
	}
	if current.Version != state.Version {
		return fmt.Errorf("saga %s version %d: %w", state.SagaID, state.Version, ErrConflict)
	}
	state.Version++
	state.UpdatedAt = s.now().UTC()
	s.states[state.SagaID] = state.Clone()
	return nil
}

func (s *InMemoryStateStore) FindIncomplete(ctx context.Context) ([]*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var incomplete []*State
	for _, state := range s.states {
		if !state.Status.Terminal() {
			incomplete = append(incomplete, state.Clone())
		}
	}
	return incomplete, nil
}
