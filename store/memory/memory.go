// Package memory provides the in-memory embedding store backend.
//
// State is held in a map guarded by a RWMutex; a roaring64 bitmap over all
// content hashes provides O(1) store-wide deduplication checks. The durable
// backend embeds this store and replays its WAL into it on recovery.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/idtrack/distance"
	"github.com/hupe1980/idtrack/model"
	"github.com/hupe1980/idtrack/store"
)

// Options contains configuration for the memory store.
type Options struct {
	// Dimension is the required vector dimension.
	Dimension int

	// MaxEmbeddingsPerIdentity caps embeddings per identity; the nearest
	// embedding to the incoming vector is evicted when the cap is reached.
	MaxEmbeddingsPerIdentity int
}

// DefaultOptions returns default memory store options.
var DefaultOptions = Options{
	Dimension:                model.DefaultDimension,
	MaxEmbeddingsPerIdentity: store.MaxEmbeddingsPerIdentity,
}

type identity struct {
	appearances uint64
	embeddings  []model.Embedding
}

// Store is the in-memory embedding store.
type Store struct {
	mu         sync.RWMutex
	identities map[model.IdentityID]*identity
	hashes     *roaring64.Bitmap
	nextID     model.IdentityID
	nextEmbID  model.EmbeddingID
	closed     bool

	dimension int
	maxPerID  int
}

var _ store.Store = (*Store)(nil)

// New creates a new in-memory store.
func New(optFns ...func(o *Options)) *Store {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Store{
		identities: make(map[model.IdentityID]*identity),
		hashes:     roaring64.New(),
		dimension:  opts.Dimension,
		maxPerID:   opts.MaxEmbeddingsPerIdentity,
	}
}

// CreateIdentity creates a new identity seeded with the given vector.
func (s *Store) CreateIdentity(_ context.Context, vector model.Vector) (model.IdentityID, error) {
	if err := model.ValidateDimension(vector, s.dimension); err != nil {
		return 0, err
	}
	hash := model.HashVector(vector)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, store.ErrClosed
	}
	if s.hashes.Contains(uint64(hash)) {
		return 0, &store.DuplicateEmbeddingError{Hash: hash}
	}

	s.nextID++
	s.nextEmbID++
	id := s.nextID

	s.identities[id] = &identity{
		appearances: 1,
		embeddings: []model.Embedding{{
			ID:       s.nextEmbID,
			Identity: id,
			Vector:   vector.Clone(),
			Hash:     hash,
		}},
	}
	s.hashes.Add(uint64(hash))

	return id, nil
}

// AppendEmbedding attaches another vector to an existing identity.
// A duplicate content hash is a silent no-op. When the identity is at
// capacity, the stored embedding nearest to the incoming vector is evicted.
func (s *Store) AppendEmbedding(_ context.Context, id model.IdentityID, vector model.Vector) error {
	if err := model.ValidateDimension(vector, s.dimension); err != nil {
		return err
	}
	hash := model.HashVector(vector)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	ident, ok := s.identities[id]
	if !ok {
		return &store.NotFoundError{ID: id}
	}
	if s.hashes.Contains(uint64(hash)) {
		return nil
	}

	if len(ident.embeddings) >= s.maxPerID {
		evictNearest(ident, vector, s.hashes)
	}

	s.nextEmbID++
	ident.embeddings = append(ident.embeddings, model.Embedding{
		ID:       s.nextEmbID,
		Identity: id,
		Vector:   vector.Clone(),
		Hash:     hash,
	})
	s.hashes.Add(uint64(hash))

	return nil
}

// evictNearest removes the embedding nearest to the incoming vector.
// Caller must hold the write lock.
func evictNearest(ident *identity, incoming model.Vector, hashes *roaring64.Bitmap) {
	nearest := 0
	nearestDist := float32(0)
	for i, emb := range ident.embeddings {
		d := distance.SquaredL2(incoming, emb.Vector)
		if i == 0 || d < nearestDist {
			nearest = i
			nearestDist = d
		}
	}

	hashes.Remove(uint64(ident.embeddings[nearest].Hash))
	ident.embeddings = append(ident.embeddings[:nearest], ident.embeddings[nearest+1:]...)
}

// GetAllEmbeddings returns an authoritative full snapshot.
func (s *Store) GetAllEmbeddings(_ context.Context) (model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}

	snapshot := make(model.Snapshot, len(s.identities))
	for id, ident := range s.identities {
		vecs := make([]model.Vector, len(ident.embeddings))
		for i, emb := range ident.embeddings {
			vecs[i] = emb.Vector.Clone()
		}
		snapshot[id] = vecs
	}
	return snapshot, nil
}

// GetEmbeddings returns the vectors attached to an identity.
func (s *Store) GetEmbeddings(_ context.Context, id model.IdentityID) ([]model.Vector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}
	ident, ok := s.identities[id]
	if !ok {
		return nil, &store.NotFoundError{ID: id}
	}

	vecs := make([]model.Vector, len(ident.embeddings))
	for i, emb := range ident.embeddings {
		vecs[i] = emb.Vector.Clone()
	}
	return vecs, nil
}

// IncrementAppearance increments an identity's appearance count.
func (s *Store) IncrementAppearance(_ context.Context, id model.IdentityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	ident, ok := s.identities[id]
	if !ok {
		return &store.NotFoundError{ID: id}
	}

	ident.appearances++
	return nil
}

// AppearanceCount returns an identity's appearance count.
func (s *Store) AppearanceCount(_ context.Context, id model.IdentityID) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, store.ErrClosed
	}
	ident, ok := s.identities[id]
	if !ok {
		return 0, &store.NotFoundError{ID: id}
	}
	return ident.appearances, nil
}

// ClearAll removes all identities and embeddings.
func (s *Store) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}

	s.identities = make(map[model.IdentityID]*identity)
	s.hashes.Clear()
	return nil
}

// Close marks the store closed. Further operations return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Export returns the full persisted state, sorted by identity id.
// Used by the durable backend for snapshot checkpoints.
func (s *Store) Export(_ context.Context) ([]model.IdentityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}

	records := make([]model.IdentityRecord, 0, len(s.identities))
	for id, ident := range s.identities {
		embs := make([]model.Embedding, len(ident.embeddings))
		copy(embs, ident.embeddings)
		records = append(records, model.IdentityRecord{
			ID:          id,
			Appearances: ident.appearances,
			Embeddings:  embs,
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// Counters returns the next-id high-water marks.
// The durable backend persists them so replayed operations reproduce the
// exact id assignment of the original run.
func (s *Store) Counters(_ context.Context) (model.IdentityID, model.EmbeddingID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, 0, store.ErrClosed
	}
	return s.nextID, s.nextEmbID, nil
}

// SetCounters overrides the next-id high-water marks.
// Counters only ever move forward; values below the current marks are ignored.
func (s *Store) SetCounters(_ context.Context, nextID model.IdentityID, nextEmbID model.EmbeddingID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	if nextID > s.nextID {
		s.nextID = nextID
	}
	if nextEmbID > s.nextEmbID {
		s.nextEmbID = nextEmbID
	}
	return nil
}

// ExportIdentity returns the persisted state of one identity.
// The durable backend captures it before a mutation so a failed WAL write
// can be undone.
func (s *Store) ExportIdentity(_ context.Context, id model.IdentityID) (model.IdentityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return model.IdentityRecord{}, store.ErrClosed
	}
	ident, ok := s.identities[id]
	if !ok {
		return model.IdentityRecord{}, &store.NotFoundError{ID: id}
	}

	embs := make([]model.Embedding, len(ident.embeddings))
	copy(embs, ident.embeddings)
	return model.IdentityRecord{
		ID:          id,
		Appearances: ident.appearances,
		Embeddings:  embs,
	}, nil
}

// RestoreIdentity reinstates a previously exported identity record,
// replacing the identity's current state and fixing up the hash index.
// Counters are left untouched; ids consumed by the undone mutation are
// not reissued.
func (s *Store) RestoreIdentity(_ context.Context, rec model.IdentityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}

	if cur, ok := s.identities[rec.ID]; ok {
		for _, emb := range cur.embeddings {
			s.hashes.Remove(uint64(emb.Hash))
		}
	}

	embs := make([]model.Embedding, len(rec.Embeddings))
	copy(embs, rec.Embeddings)
	s.identities[rec.ID] = &identity{
		appearances: rec.Appearances,
		embeddings:  embs,
	}
	for _, emb := range rec.Embeddings {
		s.hashes.Add(uint64(emb.Hash))
	}
	return nil
}

// DropIdentity removes an identity and its hash entries. Counters are left
// untouched.
func (s *Store) DropIdentity(_ context.Context, id model.IdentityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	ident, ok := s.identities[id]
	if !ok {
		return &store.NotFoundError{ID: id}
	}

	for _, emb := range ident.embeddings {
		s.hashes.Remove(uint64(emb.Hash))
	}
	delete(s.identities, id)
	return nil
}

// Import replaces the store state with the given records.
// Used by the durable backend when loading a snapshot checkpoint.
func (s *Store) Import(_ context.Context, records []model.IdentityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}

	s.identities = make(map[model.IdentityID]*identity, len(records))
	s.hashes.Clear()
	s.nextID = 0
	s.nextEmbID = 0

	for _, rec := range records {
		embs := make([]model.Embedding, len(rec.Embeddings))
		copy(embs, rec.Embeddings)
		s.identities[rec.ID] = &identity{
			appearances: rec.Appearances,
			embeddings:  embs,
		}
		if rec.ID > s.nextID {
			s.nextID = rec.ID
		}
		for _, emb := range rec.Embeddings {
			s.hashes.Add(uint64(emb.Hash))
			if emb.ID > s.nextEmbID {
				s.nextEmbID = emb.ID
			}
		}
	}
	return nil
}
