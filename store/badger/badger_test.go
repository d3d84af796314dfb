package badger

import (
	"context"
	"testing"

	"github.com/hupe1980/idtrack/model"
	"github.com/hupe1980/idtrack/store"
	"github.com/hupe1980/idtrack/store/storetest"
	"github.com/stretchr/testify/require"
)

func newInMemory(t *testing.T) store.Store {
	s, err := New(func(o *Options) {
		o.InMemory = true
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func vec(x float32) model.Vector {
	v := make(model.Vector, model.DefaultDimension)
	v[0] = x
	return v
}

func TestBadgerStore_Contract(t *testing.T) {
	storetest.Run(t, newInMemory)
}

func TestBadgerStore_RequiresDir(t *testing.T) {
	_, err := New()
	require.Error(t, err)
}

func TestBadgerStore_ClearAllKeepsIDsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := newInMemory(t)

	id1, err := s.CreateIdentity(ctx, vec(1))
	require.NoError(t, err)

	require.NoError(t, s.ClearAll(ctx))

	// The data is gone but the counters survive: the same vector is
	// accepted again, under a strictly higher id.
	id2, err := s.CreateIdentity(ctx, vec(1))
	require.NoError(t, err)
	require.Greater(t, id2, id1)

	_, err = s.AppearanceCount(ctx, id1)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestBadgerStore_RestartPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := New(func(o *Options) {
		o.Dir = dir
	})
	require.NoError(t, err)

	id, err := s.CreateIdentity(ctx, vec(1))
	require.NoError(t, err)
	require.NoError(t, s.AppendEmbedding(ctx, id, vec(2)))
	require.NoError(t, s.IncrementAppearance(ctx, id))
	require.NoError(t, s.Close())

	// Reopen from the same directory: identities, embeddings, appearance
	// counts, and the hash index all survive.
	s, err = New(func(o *Options) {
		o.Dir = dir
	})
	require.NoError(t, err)
	defer s.Close()

	count, err := s.AppearanceCount(ctx, id)
	require.NoError(t, err)
	require.Equal(t, uint64(2), count)

	vecs, err := s.GetEmbeddings(ctx, id)
	require.NoError(t, err)
	require.Len(t, vecs, 2)

	_, err = s.CreateIdentity(ctx, vec(1))
	require.ErrorIs(t, err, store.ErrDuplicateEmbedding)

	// Id assignment continues past the persisted high-water mark.
	id2, err := s.CreateIdentity(ctx, vec(3))
	require.NoError(t, err)
	require.Greater(t, id2, id)
}
