package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"helmsman/internal/saga"
)

// NewInMemoryDefinitionStore constructs an in-memory definition store.
func NewInMemoryDefinitionStore() *InMemoryDefinitionStore {
	return &InMemoryDefinitionStore{definitions: make(map[string]Definition)}
}

// InMemoryDefinitionStore keeps workflow definitions in memory.
type InMemoryDefinitionStore struct {
	mu          sync.Mutex
	definitions map[string]Definition
}

func (s *InMemoryDefinitionStore) Register(ctx context.Context, def Definition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := def.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.definitions[def.Name]; ok {
		return fmt.Errorf("workflow %q: %w", def.Name, saga.ErrAlreadyExists)
	}
	s.definitions[def.Name] = def
	return nil
}

func (s *InMemoryDefinitionStore) Get(ctx context.Context, name string) (*Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.definitions[name]
	if !ok {
		return nil, fmt.Errorf("workflow %q: %w", name, saga.ErrNotFound)
	}
	return &def, nil
}

func (s *InMemoryDefinitionStore) List(ctx context.Context) ([]Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	defs := make([]Definition, 0, len(s.definitions))
	for _, def := range s.definitions {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}
