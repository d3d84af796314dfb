package model

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"slices"
)

// DefaultDimension is the embedding dimension produced by the feature extractor.
const DefaultDimension = 128

// IdentityID is the stable identifier of a tracked subject.
// IDs are assigned by the store on creation and are never reused
// within a store lifetime.
type IdentityID uint64

// EmbeddingID identifies a single embedding within the store.
type EmbeddingID uint64

// Hash is the deterministic content hash of an embedding vector.
// It is unique store-wide and serves as the deduplication key.
type Hash uint64

// Vector is a fixed-length float32 feature vector.
type Vector []float32

// Clone returns a copy of the vector.
func (v Vector) Clone() Vector {
	return slices.Clone(v)
}

// ErrInvalidDimension indicates a vector with the wrong number of components.
var ErrInvalidDimension = errors.New("invalid vector dimension")

// ValidationError reports a vector that failed the dimension contract.
//
// The underlying sentinel can be accessed via errors.Is(err, ErrInvalidDimension).
type ValidationError struct {
	Got  int
	Want int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid vector dimension: got %d, want %d", e.Got, e.Want)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidDimension }

// ValidateDimension checks that v has exactly dim components.
func ValidateDimension(v Vector, dim int) error {
	if len(v) != dim {
		return &ValidationError{Got: len(v), Want: dim}
	}
	return nil
}

// HashVector computes the content hash of a vector.
//
// The hash is FNV-1a over the little-endian IEEE-754 bit patterns of the
// float32 components in index order. This makes it bit-exact across process
// restarts and across any serialization boundary that preserves float32
// values.
func HashVector(v Vector) Hash {
	h := fnv.New64a()
	var buf [4]byte
	for _, c := range v {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(c))
		_, _ = h.Write(buf[:])
	}
	return Hash(h.Sum64())
}

// Embedding is one observed instance of a subject.
type Embedding struct {
	ID       EmbeddingID `json:"id" msgpack:"id"`
	Identity IdentityID  `json:"identity" msgpack:"identity"`
	Vector   Vector      `json:"vector" msgpack:"vector"`
	Hash     Hash        `json:"hash" msgpack:"hash"`
}

// IdentityRecord is the full persisted state of one identity.
// It is the unit of snapshot serialization.
type IdentityRecord struct {
	ID          IdentityID  `json:"id" msgpack:"id"`
	Appearances uint64      `json:"appearances" msgpack:"appearances"`
	Embeddings  []Embedding `json:"embeddings" msgpack:"embeddings"`
}

// Snapshot is a full, point-in-time copy of the identity to embeddings
// mapping. It is produced by the store and held by the cache; readers must
// treat it as immutable.
type Snapshot map[IdentityID][]Vector

// Identities returns the identity ids in the snapshot in unspecified order.
func (s Snapshot) Identities() []IdentityID {
	ids := make([]IdentityID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids
}

// Embeddings returns the total number of vectors across all identities.
func (s Snapshot) Embeddings() int {
	n := 0
	for _, vecs := range s {
		n += len(vecs)
	}
	return n
}

// Outcome is the terminal result kind of one classification.
type Outcome uint8

const (
	// OutcomeCreated means the vector matched no identity and a new one was created.
	OutcomeCreated Outcome = iota
	// OutcomeUpdated means the vector matched exactly one identity, which was updated.
	OutcomeUpdated
	// OutcomeAmbiguous means the vector matched two or more identities; no mutation occurred.
	OutcomeAmbiguous
	// OutcomeRejected means the input never reached matching (extraction produced
	// zero or multiple vectors).
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	case OutcomeAmbiguous:
		return "ambiguous"
	case OutcomeRejected:
		return "rejected"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(o))
	}
}

// RejectReason explains a rejected classification.
type RejectReason uint8

const (
	// RejectNone is the zero value for non-rejected outcomes.
	RejectNone RejectReason = iota
	// RejectNoFace means extraction found no subject in the input.
	RejectNoFace
	// RejectMultipleFaces means extraction found more than one subject.
	RejectMultipleFaces
)

func (r RejectReason) String() string {
	switch r {
	case RejectNone:
		return "none"
	case RejectNoFace:
		return "no face"
	case RejectMultipleFaces:
		return "multiple faces"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(r))
	}
}

// Classification is the structured result of classifying one embedding.
type Classification struct {
	Outcome Outcome

	// Identity is set for Created and Updated outcomes.
	Identity IdentityID

	// Appearances is the appearance count after the mutation
	// (1 for Created, the post-increment value for Updated).
	Appearances uint64

	// Reason is set for Rejected outcomes.
	Reason RejectReason
}
