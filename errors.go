package idtrack

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/hupe1980/idtrack/blobstore"
	"github.com/hupe1980/idtrack/model"
	"github.com/hupe1980/idtrack/store"
)

var (
	// ErrNotFound is returned when an identity is not found.
	ErrNotFound = store.ErrNotFound

	// ErrDuplicateEmbedding is returned when a vector's content hash is
	// already stored under another identity.
	ErrDuplicateEmbedding = store.ErrDuplicateEmbedding

	// ErrInvalidDimension is returned for vectors with the wrong number of
	// components.
	ErrInvalidDimension = model.ErrInvalidDimension

	// ErrStoreUnavailable is returned when the backend fails.
	ErrStoreUnavailable = store.ErrStoreUnavailable

	// ErrClosed is returned after Close.
	ErrClosed = store.ErrClosed

	// ErrNoExtractor is returned by ClassifyImage when no extractor is
	// configured.
	ErrNoExtractor = errors.New("no extractor configured")
)

// translateError normalizes backend-specific errors into the package's
// error taxonomy.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, blobstore.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	return err
}
