// Package store defines the embedding store capability interface and its
// error taxonomy. Backends live in the subpackages memory, badger, and
// durable; CachedStore decorates any backend with a snapshot cache.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/idtrack/model"
)

// MaxEmbeddingsPerIdentity is the per-identity embedding cap. When an
// identity already holds this many embeddings, the embedding nearest to
// the incoming vector is evicted before the insert.
const MaxEmbeddingsPerIdentity = 5

var (
	// ErrNotFound is returned when an identity does not exist.
	ErrNotFound = errors.New("identity not found")

	// ErrDuplicateEmbedding is returned when a vector's content hash already
	// exists store-wide at identity creation.
	ErrDuplicateEmbedding = errors.New("duplicate embedding")

	// ErrStoreUnavailable indicates a backend fault (I/O, connectivity).
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("store closed")
)

// NotFoundError reports an unknown identity id.
//
// The sentinel ErrNotFound can be matched via errors.Is.
type NotFoundError struct {
	ID model.IdentityID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("identity %d not found", e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// DuplicateEmbeddingError reports a store-wide content hash collision at
// identity creation.
//
// The sentinel ErrDuplicateEmbedding can be matched via errors.Is.
type DuplicateEmbeddingError struct {
	Hash model.Hash
}

func (e *DuplicateEmbeddingError) Error() string {
	return fmt.Sprintf("duplicate embedding: hash %016x already stored", uint64(e.Hash))
}

func (e *DuplicateEmbeddingError) Unwrap() error { return ErrDuplicateEmbedding }

// StoreError wraps a backend fault with the failing operation.
//
// The sentinel ErrStoreUnavailable can be matched via errors.Is; the
// original backend error via errors.Unwrap chains.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return ErrStoreUnavailable }

// Store is the embedding store capability interface.
// Implementations must be safe for concurrent use.
type Store interface {
	// CreateIdentity creates a new identity seeded with the given vector.
	// The appearance count starts at 1. A store-wide duplicate content hash
	// is rejected with DuplicateEmbeddingError.
	CreateIdentity(ctx context.Context, vector model.Vector) (model.IdentityID, error)

	// AppendEmbedding attaches another vector to an existing identity.
	// If the identity already holds MaxEmbeddingsPerIdentity embeddings,
	// the embedding nearest to the incoming vector is evicted first.
	// A duplicate content hash is a silent no-op.
	AppendEmbedding(ctx context.Context, id model.IdentityID, vector model.Vector) error

	// GetAllEmbeddings returns an authoritative full snapshot.
	GetAllEmbeddings(ctx context.Context) (model.Snapshot, error)

	// GetEmbeddings returns the vectors attached to an identity.
	GetEmbeddings(ctx context.Context, id model.IdentityID) ([]model.Vector, error)

	// IncrementAppearance increments an identity's appearance count by one.
	IncrementAppearance(ctx context.Context, id model.IdentityID) error

	// AppearanceCount returns an identity's appearance count.
	AppearanceCount(ctx context.Context, id model.IdentityID) (uint64, error)

	// ClearAll removes all identities and embeddings.
	ClearAll(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
