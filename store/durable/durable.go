// Package durable provides the crash-safe embedding store backend.
//
// It layers a write-ahead log and blob snapshots on top of the in-memory
// store: every mutation is applied in memory and logged to the WAL before
// it is acknowledged; a mutation whose log write fails is rolled back in
// memory before the error returns, so visible state always matches what a
// restart would recover. Checkpoint serializes the full state into a
// compressed snapshot blob, flips the CURRENT pointer, and truncates the
// WAL. Recovery loads the snapshot named by CURRENT and replays committed
// WAL entries on top of it.
package durable

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/idtrack/blobstore"
	"github.com/hupe1980/idtrack/codec"
	"github.com/hupe1980/idtrack/model"
	"github.com/hupe1980/idtrack/resource"
	"github.com/hupe1980/idtrack/store"
	"github.com/hupe1980/idtrack/store/memory"
	"github.com/hupe1980/idtrack/wal"
)

// currentPointer is the blob naming the latest committed snapshot.
const currentPointer = "CURRENT"

// snapshotMagic identifies a snapshot blob.
var snapshotMagic = []byte("ITS1")

// keepSnapshots is how many snapshot generations survive pruning.
const keepSnapshots = 2

// Options contains configuration for the durable store.
type Options struct {
	// Dimension is the required vector dimension.
	Dimension int

	// MaxEmbeddingsPerIdentity caps embeddings per identity.
	MaxEmbeddingsPerIdentity int

	// Codec serializes snapshot payloads. Defaults to codec.Default.
	Codec codec.Codec

	// Compression selects the snapshot payload compression.
	Compression blobstore.CompressionType

	// WALOptions are forwarded to the write-ahead log.
	WALOptions []func(o *wal.Options)

	// AutoCheckpoint wires the WAL's auto-checkpoint thresholds to this
	// store's Checkpoint.
	AutoCheckpoint bool

	// Controller gates background checkpoint work. Optional.
	Controller *resource.Controller
}

// DefaultOptions returns default durable store options.
var DefaultOptions = Options{
	Dimension:                model.DefaultDimension,
	MaxEmbeddingsPerIdentity: store.MaxEmbeddingsPerIdentity,
	Compression:              blobstore.CompressionZSTD,
	AutoCheckpoint:           true,
}

// snapshotEnvelope is the codec-encoded snapshot payload.
type snapshotEnvelope struct {
	NextIdentity  uint64                 `json:"next_identity" msgpack:"next_identity"`
	NextEmbedding uint64                 `json:"next_embedding" msgpack:"next_embedding"`
	Records       []model.IdentityRecord `json:"records" msgpack:"records"`
}

// Store is the durable embedding store.
type Store struct {
	// mu serializes mutations against each other and against Checkpoint, so
	// the exported snapshot and the truncated WAL always describe the same
	// state. A mutation can never slip between Export and the WAL truncation
	// and lose its log entries.
	mu sync.Mutex

	mem         *memory.Store
	wal         *wal.WAL
	blobs       blobstore.BlobStore
	codec       codec.Codec
	compression blobstore.CompressionType
	controller  *resource.Controller
	version     uint64

	// checkpointing collapses overlapping auto-checkpoint triggers.
	checkpointing atomic.Bool
}

var _ store.Store = (*Store)(nil)

// New opens a durable store backed by the given blob store, recovering any
// previously persisted state.
func New(ctx context.Context, blobs blobstore.BlobStore, optFns ...func(o *Options)) (*Store, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Codec == nil {
		opts.Codec = codec.Default
	}

	w, err := wal.New(opts.WALOptions...)
	if err != nil {
		return nil, &store.StoreError{Op: "open wal", Err: err}
	}

	s := &Store{
		mem: memory.New(func(o *memory.Options) {
			o.Dimension = opts.Dimension
			o.MaxEmbeddingsPerIdentity = opts.MaxEmbeddingsPerIdentity
		}),
		wal:         w,
		blobs:       blobs,
		codec:       opts.Codec,
		compression: opts.Compression,
		controller:  opts.Controller,
	}

	if err := s.recover(ctx); err != nil {
		_ = w.Close()
		return nil, err
	}

	if opts.AutoCheckpoint {
		w.SetCheckpointCallback(s.autoCheckpoint)
	}

	return s, nil
}

// recover loads the snapshot named by CURRENT (if any) and replays committed
// WAL entries on top of it.
func (s *Store) recover(ctx context.Context) error {
	if err := s.loadSnapshot(ctx); err != nil {
		return err
	}

	err := s.wal.ReplayCommitted(func(entry wal.Entry) error {
		switch entry.Type {
		case wal.OpCreate:
			// Align the id counter with the logged assignment. A create that
			// was rolled back after a failed log write consumes an id without
			// leaving a WAL record, so replay cannot rely on densely
			// sequential assignment.
			if entry.Identity > 0 {
				if err := s.mem.SetCounters(ctx, entry.Identity-1, 0); err != nil {
					return err
				}
			}
			id, err := s.mem.CreateIdentity(ctx, model.Vector(entry.Vector))
			if err != nil {
				return err
			}
			if id != entry.Identity {
				return fmt.Errorf("replayed create assigned id %d, logged %d", id, entry.Identity)
			}
			return nil
		case wal.OpAppend:
			return s.mem.AppendEmbedding(ctx, entry.Identity, model.Vector(entry.Vector))
		case wal.OpIncrement:
			return s.mem.IncrementAppearance(ctx, entry.Identity)
		case wal.OpClear:
			return s.mem.ClearAll(ctx)
		default:
			return nil
		}
	})
	if err != nil {
		return &store.StoreError{Op: "replay wal", Err: err}
	}
	return nil
}

func (s *Store) loadSnapshot(ctx context.Context) error {
	cur, err := s.blobs.Open(ctx, currentPointer)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil // fresh store
	}
	if err != nil {
		return &store.StoreError{Op: "open current pointer", Err: err}
	}
	nameBytes, err := blobstore.ReadAll(ctx, cur)
	_ = cur.Close()
	if err != nil {
		return &store.StoreError{Op: "read current pointer", Err: err}
	}
	name := string(bytes.TrimSpace(nameBytes))

	blob, err := s.blobs.Open(ctx, name)
	if err != nil {
		return &store.StoreError{Op: "open snapshot", Err: err}
	}
	raw, err := blobstore.ReadAll(ctx, blob)
	_ = blob.Close()
	if err != nil {
		return &store.StoreError{Op: "read snapshot", Err: err}
	}

	envelope, err := decodeSnapshot(raw)
	if err != nil {
		return &store.StoreError{Op: "decode snapshot", Err: err}
	}

	if err := s.mem.Import(ctx, envelope.Records); err != nil {
		return err
	}
	if err := s.mem.SetCounters(ctx, model.IdentityID(envelope.NextIdentity), model.EmbeddingID(envelope.NextEmbedding)); err != nil {
		return err
	}

	var v uint64
	if _, err := fmt.Sscanf(name, "snapshot-%06d.bin", &v); err == nil {
		s.version = v
	}
	return nil
}

// encodeSnapshot builds a self-describing snapshot blob:
//
//	[magic:4][codecNameLen:1][codecName][compression:1][payload]
func (s *Store) encodeSnapshot(envelope snapshotEnvelope) ([]byte, error) {
	data, err := s.codec.Marshal(envelope)
	if err != nil {
		return nil, err
	}
	payload, err := blobstore.Compress(data, s.compression)
	if err != nil {
		return nil, err
	}

	name := s.codec.Name()
	out := make([]byte, 0, len(snapshotMagic)+2+len(name)+len(payload))
	out = append(out, snapshotMagic...)
	out = append(out, byte(len(name)))
	out = append(out, name...)
	out = append(out, byte(s.compression))
	out = append(out, payload...)
	return out, nil
}

func decodeSnapshot(raw []byte) (snapshotEnvelope, error) {
	var envelope snapshotEnvelope

	if len(raw) < len(snapshotMagic)+2 {
		return envelope, errors.New("snapshot too small")
	}
	if !bytes.Equal(raw[:len(snapshotMagic)], snapshotMagic) {
		return envelope, errors.New("bad snapshot magic")
	}
	off := len(snapshotMagic)
	nameLen := int(raw[off])
	off++
	if len(raw) < off+nameLen+1 {
		return envelope, errors.New("snapshot header truncated")
	}
	codecName := string(raw[off : off+nameLen])
	off += nameLen
	compression := blobstore.CompressionType(raw[off])
	off++

	c, ok := codec.ByName(codecName)
	if !ok {
		return envelope, fmt.Errorf("unknown snapshot codec %q", codecName)
	}

	data, err := blobstore.Decompress(raw[off:], compression)
	if err != nil {
		return envelope, err
	}
	if err := c.Unmarshal(data, &envelope); err != nil {
		return envelope, err
	}
	return envelope, nil
}

// Checkpoint serializes the full state into a new snapshot blob, commits it
// as CURRENT, and truncates the WAL. Mutations are blocked for the duration
// so the published snapshot and the truncated log describe the same state.
// Older snapshot generations beyond a small retention window are pruned
// best-effort.
func (s *Store) Checkpoint(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.mem.Export(ctx)
	if err != nil {
		return err
	}
	nextID, nextEmbID, err := s.mem.Counters(ctx)
	if err != nil {
		return err
	}

	blob, err := s.encodeSnapshot(snapshotEnvelope{
		NextIdentity:  uint64(nextID),
		NextEmbedding: uint64(nextEmbID),
		Records:       records,
	})
	if err != nil {
		return &store.StoreError{Op: "encode snapshot", Err: err}
	}

	name := fmt.Sprintf("snapshot-%06d.bin", s.version+1)

	w, err := s.blobs.Create(ctx, name)
	if err != nil {
		return &store.StoreError{Op: "create snapshot", Err: err}
	}
	var out io.Writer = w
	if s.controller != nil {
		out = resource.NewRateLimitedWriter(w, s.controller, ctx)
	}
	if _, err := out.Write(blob); err != nil {
		_ = w.Close()
		return &store.StoreError{Op: "write snapshot", Err: err}
	}
	if err := w.Sync(); err != nil {
		_ = w.Close()
		return &store.StoreError{Op: "sync snapshot", Err: err}
	}
	if err := w.Close(); err != nil {
		return &store.StoreError{Op: "close snapshot", Err: err}
	}

	// Committing the pointer makes the snapshot the recovery root.
	if err := s.blobs.Put(ctx, currentPointer, []byte(name)); err != nil {
		return &store.StoreError{Op: "commit current pointer", Err: err}
	}
	s.version++

	if err := s.wal.Checkpoint(); err != nil {
		return &store.StoreError{Op: "checkpoint wal", Err: err}
	}

	s.pruneSnapshots(ctx)
	return nil
}

// pruneSnapshots removes snapshot generations older than the retention
// window. Failures are ignored; stale blobs are retried on the next run.
func (s *Store) pruneSnapshots(ctx context.Context) {
	names, err := s.blobs.List(ctx, "snapshot-")
	if err != nil || len(names) <= keepSnapshots {
		return
	}
	for _, name := range names[:len(names)-keepSnapshots] {
		_ = s.blobs.Delete(ctx, name)
	}
}

// autoCheckpoint is the WAL auto-checkpoint callback. The WAL invokes it
// mid-append while the caller still holds the mutation lock, so the
// checkpoint itself runs on a separate goroutine. When a resource
// controller is configured it only runs if a background slot is free.
func (s *Store) autoCheckpoint() error {
	if !s.checkpointing.CompareAndSwap(false, true) {
		return nil
	}
	if s.controller != nil && !s.controller.TryAcquireBackground() {
		s.checkpointing.Store(false)
		return nil
	}

	go func() {
		defer func() {
			if s.controller != nil {
				s.controller.ReleaseBackground()
			}
			s.checkpointing.Store(false)
		}()
		_ = s.Checkpoint(context.Background())
	}()
	return nil
}

// CreateIdentity creates a new identity and logs it to the WAL. If the log
// write fails the memory apply is rolled back, so readers never observe
// state that would not survive a restart.
func (s *Store) CreateIdentity(ctx context.Context, vector model.Vector) (model.IdentityID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.mem.CreateIdentity(ctx, vector)
	if err != nil {
		return 0, err
	}
	if err := s.wal.LogCreate(id, vector); err != nil {
		_ = s.mem.DropIdentity(ctx, id)
		return 0, &store.StoreError{Op: "log create", Err: err}
	}
	return id, nil
}

// AppendEmbedding appends an embedding and logs it to the WAL. A failed
// log write restores the identity's prior state.
func (s *Store) AppendEmbedding(ctx context.Context, id model.IdentityID, vector model.Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.mem.ExportIdentity(ctx, id)
	if err != nil {
		return err
	}
	if err := s.mem.AppendEmbedding(ctx, id, vector); err != nil {
		return err
	}
	if err := s.wal.LogAppend(id, vector); err != nil {
		_ = s.mem.RestoreIdentity(ctx, prev)
		return &store.StoreError{Op: "log append", Err: err}
	}
	return nil
}

// GetAllEmbeddings returns an authoritative full snapshot.
func (s *Store) GetAllEmbeddings(ctx context.Context) (model.Snapshot, error) {
	return s.mem.GetAllEmbeddings(ctx)
}

// GetEmbeddings returns the vectors attached to an identity.
func (s *Store) GetEmbeddings(ctx context.Context, id model.IdentityID) ([]model.Vector, error) {
	return s.mem.GetEmbeddings(ctx, id)
}

// IncrementAppearance increments the appearance count and logs it. A
// failed log write restores the identity's prior state.
func (s *Store) IncrementAppearance(ctx context.Context, id model.IdentityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.mem.ExportIdentity(ctx, id)
	if err != nil {
		return err
	}
	if err := s.mem.IncrementAppearance(ctx, id); err != nil {
		return err
	}
	if err := s.wal.LogIncrement(id); err != nil {
		_ = s.mem.RestoreIdentity(ctx, prev)
		return &store.StoreError{Op: "log increment", Err: err}
	}
	return nil
}

// AppearanceCount returns an identity's appearance count.
func (s *Store) AppearanceCount(ctx context.Context, id model.IdentityID) (uint64, error) {
	return s.mem.AppearanceCount(ctx, id)
}

// ClearAll removes all identities and logs the wipe. A failed log write
// reinstates the cleared records and counters.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.mem.Export(ctx)
	if err != nil {
		return err
	}
	nextID, nextEmbID, err := s.mem.Counters(ctx)
	if err != nil {
		return err
	}
	if err := s.mem.ClearAll(ctx); err != nil {
		return err
	}
	if err := s.wal.LogClear(); err != nil {
		_ = s.mem.Import(ctx, records)
		_ = s.mem.SetCounters(ctx, nextID, nextEmbID)
		return &store.StoreError{Op: "log clear", Err: err}
	}
	return nil
}

// WAL exposes the underlying write-ahead log (for tests and tooling).
func (s *Store) WAL() *wal.WAL {
	return s.wal
}

// Close closes the WAL and marks the store closed. State not covered by a
// checkpoint is recovered from the WAL on the next open. An in-flight
// checkpoint finishes first.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	walErr := s.wal.Close()
	memErr := s.mem.Close()
	if walErr != nil {
		return walErr
	}
	return memErr
}
