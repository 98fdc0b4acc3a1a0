package workflow

import (
	"context"

	"github.com/dgraph-io/ristretto"
)

const defaultCacheEntries = 1024

// NewCachedDefinitionStore wraps a definition store with a read-through
// ristretto cache. Definitions are immutable once registered, so cached
// entries never go stale.
func NewCachedDefinitionStore(inner DefinitionStore) (*CachedDefinitionStore, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: defaultCacheEntries * 10,
		MaxCost:     defaultCacheEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedDefinitionStore{inner: inner, cache: cache}, nil
}

// CachedDefinitionStore serves Get from cache and delegates everything else.
type CachedDefinitionStore struct {
	inner DefinitionStore
	cache *ristretto.Cache
}

func (s *CachedDefinitionStore) Register(ctx context.Context, def Definition) error {
	return s.inner.Register(ctx, def)
}

func (s *CachedDefinitionStore) Get(ctx context.Context, name string) (*Definition, error) {
	if cached, ok := s.cache.Get(name); ok {
		def := cached.(Definition)
		return &def, nil
	}

	def, err := s.inner.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	s.cache.Set(name, *def, 1)
	return def, nil
}

func (s *CachedDefinitionStore) List(ctx context.Context) ([]Definition, error) {
	return s.inner.List(ctx)
}

// Close releases cache resources.
func (s *CachedDefinitionStore) Close() {
	s.cache.Close()
}
