// Package badger provides a BadgerDB-backed embedding store.
//
// Layout (hierarchical string keys, ids zero-padded hex for ordered scans):
//
//	identity:<id>        -> msgpack identityValue{appearances}
//	embedding:<id>:<eid> -> msgpack model.Embedding
//	hash:<hash>          -> owning identity id (8 bytes LE)
//	meta:next_identity   -> uint64 LE counter
//	meta:next_embedding  -> uint64 LE counter
//
// Every operation runs in a single badger Update/View transaction, so each
// store mutation is atomic against the backend.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/hupe1980/idtrack/distance"
	"github.com/hupe1980/idtrack/model"
	"github.com/hupe1980/idtrack/store"
	"github.com/vmihailenco/msgpack/v5"
)

// Options configures the BadgerDB store.
type Options struct {
	// Dir is the directory for BadgerDB data files.
	// Required unless InMemory is set.
	Dir string

	// InMemory runs BadgerDB in memory-only mode (no disk persistence).
	// Useful for testing with a real badger engine.
	InMemory bool

	// Dimension is the required vector dimension.
	Dimension int

	// MaxEmbeddingsPerIdentity caps embeddings per identity.
	MaxEmbeddingsPerIdentity int

	// Logger sets the badger logger. If nil, a quiet logger suppressing
	// info/debug output is used.
	Logger badger.Logger
}

// Store is the BadgerDB-backed embedding store.
type Store struct {
	db       *badger.DB
	dim      int
	maxPerID int
}

var _ store.Store = (*Store)(nil)

type identityValue struct {
	Appearances uint64 `msgpack:"appearances"`
}

// New opens a BadgerDB-backed store.
func New(optFns ...func(o *Options)) (*Store, error) {
	opts := Options{
		Dimension:                model.DefaultDimension,
		MaxEmbeddingsPerIdentity: store.MaxEmbeddingsPerIdentity,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badger: Options.Dir is required for on-disk mode")
	}

	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	if opts.Logger != nil {
		dbOpts = dbOpts.WithLogger(opts.Logger)
	} else {
		dbOpts = dbOpts.WithLogger(quietLogger{})
	}

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, &store.StoreError{Op: "open", Err: err}
	}

	return &Store{
		db:       db,
		dim:      opts.Dimension,
		maxPerID: opts.MaxEmbeddingsPerIdentity,
	}, nil
}

func identityKey(id model.IdentityID) []byte {
	return []byte(fmt.Sprintf("identity:%016x", uint64(id)))
}

func embeddingKey(id model.IdentityID, eid model.EmbeddingID) []byte {
	return []byte(fmt.Sprintf("embedding:%016x:%016x", uint64(id), uint64(eid)))
}

func embeddingPrefix(id model.IdentityID) []byte {
	return []byte(fmt.Sprintf("embedding:%016x:", uint64(id)))
}

func hashKey(h model.Hash) []byte {
	return []byte(fmt.Sprintf("hash:%016x", uint64(h)))
}

var (
	keyNextIdentity  = []byte("meta:next_identity")
	keyNextEmbedding = []byte("meta:next_embedding")
)

// nextCounter reads, increments, and writes back a uint64 counter key.
func nextCounter(txn *badger.Txn, key []byte) (uint64, error) {
	var next uint64 = 1
	item, err := txn.Get(key)
	if err == nil {
		var cur uint64
		err = item.Value(func(val []byte) error {
			if len(val) != 8 {
				return errors.New("corrupt counter value")
			}
			cur = binary.LittleEndian.Uint64(val)
			return nil
		})
		if err != nil {
			return 0, err
		}
		next = cur + 1
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return 0, err
	}

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], next)
	if err := txn.Set(key, buf[:]); err != nil {
		return 0, err
	}
	return next, nil
}

func hashExists(txn *badger.Txn, h model.Hash) (bool, error) {
	_, err := txn.Get(hashKey(h))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateIdentity creates a new identity seeded with the given vector.
func (s *Store) CreateIdentity(_ context.Context, vector model.Vector) (model.IdentityID, error) {
	if err := model.ValidateDimension(vector, s.dim); err != nil {
		return 0, err
	}
	hash := model.HashVector(vector)

	var id model.IdentityID
	err := s.db.Update(func(txn *badger.Txn) error {
		exists, err := hashExists(txn, hash)
		if err != nil {
			return err
		}
		if exists {
			return &store.DuplicateEmbeddingError{Hash: hash}
		}

		rawID, err := nextCounter(txn, keyNextIdentity)
		if err != nil {
			return err
		}
		rawEID, err := nextCounter(txn, keyNextEmbedding)
		if err != nil {
			return err
		}
		id = model.IdentityID(rawID)

		identData, err := msgpack.Marshal(identityValue{Appearances: 1})
		if err != nil {
			return err
		}
		if err := txn.Set(identityKey(id), identData); err != nil {
			return err
		}

		emb := model.Embedding{
			ID:       model.EmbeddingID(rawEID),
			Identity: id,
			Vector:   vector,
			Hash:     hash,
		}
		embData, err := msgpack.Marshal(emb)
		if err != nil {
			return err
		}
		if err := txn.Set(embeddingKey(id, emb.ID), embData); err != nil {
			return err
		}

		var owner [8]byte
		binary.LittleEndian.PutUint64(owner[:], uint64(id))
		return txn.Set(hashKey(hash), owner[:])
	})
	if err != nil {
		return 0, translate("create identity", err)
	}
	return id, nil
}

// AppendEmbedding attaches another vector to an existing identity.
func (s *Store) AppendEmbedding(_ context.Context, id model.IdentityID, vector model.Vector) error {
	if err := model.ValidateDimension(vector, s.dim); err != nil {
		return err
	}
	hash := model.HashVector(vector)

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(identityKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &store.NotFoundError{ID: id}
			}
			return err
		}

		exists, err := hashExists(txn, hash)
		if err != nil {
			return err
		}
		if exists {
			// Duplicate content hash: silent no-op.
			return nil
		}

		embs, err := readEmbeddings(txn, id)
		if err != nil {
			return err
		}

		if len(embs) >= s.maxPerID {
			nearest := 0
			nearestDist := float32(0)
			for i, emb := range embs {
				d := distance.SquaredL2(vector, emb.Vector)
				if i == 0 || d < nearestDist {
					nearest = i
					nearestDist = d
				}
			}
			victim := embs[nearest]
			if err := txn.Delete(embeddingKey(id, victim.ID)); err != nil {
				return err
			}
			if err := txn.Delete(hashKey(victim.Hash)); err != nil {
				return err
			}
		}

		rawEID, err := nextCounter(txn, keyNextEmbedding)
		if err != nil {
			return err
		}
		emb := model.Embedding{
			ID:       model.EmbeddingID(rawEID),
			Identity: id,
			Vector:   vector,
			Hash:     hash,
		}
		embData, err := msgpack.Marshal(emb)
		if err != nil {
			return err
		}
		if err := txn.Set(embeddingKey(id, emb.ID), embData); err != nil {
			return err
		}

		var owner [8]byte
		binary.LittleEndian.PutUint64(owner[:], uint64(id))
		return txn.Set(hashKey(hash), owner[:])
	})
	return translate("append embedding", err)
}

func readEmbeddings(txn *badger.Txn, id model.IdentityID) ([]model.Embedding, error) {
	prefix := embeddingPrefix(id)

	iterOpts := badger.DefaultIteratorOptions
	iterOpts.Prefix = prefix
	it := txn.NewIterator(iterOpts)
	defer it.Close()

	var embs []model.Embedding
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var emb model.Embedding
		err := it.Item().Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &emb)
		})
		if err != nil {
			return nil, err
		}
		embs = append(embs, emb)
	}
	return embs, nil
}

// GetAllEmbeddings returns an authoritative full snapshot.
func (s *Store) GetAllEmbeddings(_ context.Context) (model.Snapshot, error) {
	snapshot := model.Snapshot{}

	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte("embedding:")

		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var emb model.Embedding
			err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &emb)
			})
			if err != nil {
				return err
			}
			snapshot[emb.Identity] = append(snapshot[emb.Identity], emb.Vector)
		}
		return nil
	})
	if err != nil {
		return nil, translate("get all embeddings", err)
	}
	return snapshot, nil
}

// GetEmbeddings returns the vectors attached to an identity.
func (s *Store) GetEmbeddings(_ context.Context, id model.IdentityID) ([]model.Vector, error) {
	var vecs []model.Vector

	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(identityKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &store.NotFoundError{ID: id}
			}
			return err
		}

		embs, err := readEmbeddings(txn, id)
		if err != nil {
			return err
		}
		vecs = make([]model.Vector, len(embs))
		for i, emb := range embs {
			vecs[i] = emb.Vector
		}
		return nil
	})
	if err != nil {
		return nil, translate("get embeddings", err)
	}
	return vecs, nil
}

// IncrementAppearance increments an identity's appearance count.
func (s *Store) IncrementAppearance(_ context.Context, id model.IdentityID) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(identityKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &store.NotFoundError{ID: id}
			}
			return err
		}

		var ident identityValue
		if err := item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &ident)
		}); err != nil {
			return err
		}

		ident.Appearances++
		data, err := msgpack.Marshal(ident)
		if err != nil {
			return err
		}
		return txn.Set(identityKey(id), data)
	})
	return translate("increment appearance", err)
}

// AppearanceCount returns an identity's appearance count.
func (s *Store) AppearanceCount(_ context.Context, id model.IdentityID) (uint64, error) {
	var count uint64

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(identityKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &store.NotFoundError{ID: id}
			}
			return err
		}
		var ident identityValue
		if err := item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &ident)
		}); err != nil {
			return err
		}
		count = ident.Appearances
		return nil
	})
	if err != nil {
		return 0, translate("appearance count", err)
	}
	return count, nil
}

// ClearAll removes all identities, embeddings, and hash entries. The meta
// counters are preserved so id assignment stays monotonic across a clear,
// the same contract as the other backends.
func (s *Store) ClearAll(_ context.Context) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, prefix := range []string{"identity:", "embedding:", "hash:"} {
			if err := deletePrefix(txn, []byte(prefix)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &store.StoreError{Op: "clear all", Err: err}
	}
	return nil
}

// deletePrefix deletes every key with the given prefix within the
// transaction. Keys are collected first; deleting while iterating is not
// safe in badger.
func deletePrefix(txn *badger.Txn, prefix []byte) error {
	iterOpts := badger.DefaultIteratorOptions
	iterOpts.Prefix = prefix
	iterOpts.PrefetchValues = false
	it := txn.NewIterator(iterOpts)

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying BadgerDB.
func (s *Store) Close() error {
	return s.db.Close()
}

// translate wraps unexpected backend errors into StoreError while letting
// domain errors pass through unchanged.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}

	var nf *store.NotFoundError
	if errors.As(err, &nf) {
		return err
	}
	var de *store.DuplicateEmbeddingError
	if errors.As(err, &de) {
		return err
	}

	return &store.StoreError{Op: op, Err: err}
}

// quietLogger wraps the standard log package for badger, suppressing
// debug and info level messages.
type quietLogger struct{}

func (quietLogger) Errorf(f string, v ...interface{})   { log.Printf("[badger] ERROR: "+f, v...) }
func (quietLogger) Warningf(f string, v ...interface{}) { log.Printf("[badger] WARN: "+f, v...) }
func (quietLogger) Infof(string, ...interface{})        {}
func (quietLogger) Debugf(string, ...interface{})       {}
