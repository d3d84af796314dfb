package store

import (
	"context"

	"github.com/hupe1980/idtrack/cache"
	"github.com/hupe1980/idtrack/model"
)

// CachedStore decorates a Store with a snapshot cache.
//
// GetAllEmbeddings serves from the cache while it is valid. Every mutation
// delegates to the inner store and then refreshes the cache with a freshly
// built authoritative snapshot, so a valid cache always equals the store
// state as of the last mutation through this instance.
type CachedStore struct {
	inner Store
	cache *cache.Cache
}

var _ Store = (*CachedStore)(nil)

// NewCachedStore wraps inner with the given snapshot cache.
func NewCachedStore(inner Store, c *cache.Cache) *CachedStore {
	return &CachedStore{
		inner: inner,
		cache: c,
	}
}

// Cache returns the underlying snapshot cache.
func (s *CachedStore) Cache() *cache.Cache {
	return s.cache
}

// Inner returns the wrapped store.
func (s *CachedStore) Inner() Store {
	return s.inner
}

func (s *CachedStore) refresh(ctx context.Context) error {
	snapshot, err := s.inner.GetAllEmbeddings(ctx)
	if err != nil {
		// Do not serve a snapshot that predates the mutation.
		s.cache.Invalidate()
		return err
	}
	s.cache.Refresh(snapshot)
	return nil
}

// CreateIdentity creates an identity and refreshes the cache.
func (s *CachedStore) CreateIdentity(ctx context.Context, vector model.Vector) (model.IdentityID, error) {
	id, err := s.inner.CreateIdentity(ctx, vector)
	if err != nil {
		return 0, err
	}
	if err := s.refresh(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

// AppendEmbedding appends an embedding and refreshes the cache.
func (s *CachedStore) AppendEmbedding(ctx context.Context, id model.IdentityID, vector model.Vector) error {
	if err := s.inner.AppendEmbedding(ctx, id, vector); err != nil {
		return err
	}
	return s.refresh(ctx)
}

// GetAllEmbeddings returns the cached snapshot when valid, otherwise reads
// through to the inner store and refreshes the cache.
func (s *CachedStore) GetAllEmbeddings(ctx context.Context) (model.Snapshot, error) {
	if snapshot, ok := s.cache.Get(false); ok {
		return snapshot, nil
	}

	snapshot, err := s.inner.GetAllEmbeddings(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Refresh(snapshot)
	return snapshot, nil
}

// GetEmbeddings reads through to the inner store.
func (s *CachedStore) GetEmbeddings(ctx context.Context, id model.IdentityID) ([]model.Vector, error) {
	return s.inner.GetEmbeddings(ctx, id)
}

// IncrementAppearance increments the count and refreshes the cache.
func (s *CachedStore) IncrementAppearance(ctx context.Context, id model.IdentityID) error {
	if err := s.inner.IncrementAppearance(ctx, id); err != nil {
		return err
	}
	return s.refresh(ctx)
}

// AppearanceCount reads through to the inner store.
func (s *CachedStore) AppearanceCount(ctx context.Context, id model.IdentityID) (uint64, error) {
	return s.inner.AppearanceCount(ctx, id)
}

// ClearAll clears the inner store and refreshes the cache with the empty
// snapshot.
func (s *CachedStore) ClearAll(ctx context.Context) error {
	if err := s.inner.ClearAll(ctx); err != nil {
		return err
	}
	return s.refresh(ctx)
}

// Close closes the inner store.
func (s *CachedStore) Close() error {
	s.cache.Invalidate()
	return s.inner.Close()
}
