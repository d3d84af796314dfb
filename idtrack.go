package idtrack

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/idtrack/cache"
	"github.com/hupe1980/idtrack/distance"
	"github.com/hupe1980/idtrack/extract"
	"github.com/hupe1980/idtrack/model"
	"github.com/hupe1980/idtrack/resource"
	"github.com/hupe1980/idtrack/store"
	"golang.org/x/sync/errgroup"
)

// Tracker classifies incoming embedding vectors against the identity store.
type Tracker struct {
	store       *store.CachedStore
	threshold   float32
	thresholdSq float32
	dimension   int
	scanShards  int
	logger      *Logger
	metrics     MetricsCollector
	extractor   extract.Extractor
	controller  *resource.Controller
}

// New creates a Tracker on top of the given store backend.
//
// If the store is not already cache-decorated, it is wrapped with a snapshot
// cache so every mutation refreshes a bounded-staleness read path.
func New(s store.Store, optFns ...Option) (*Tracker, error) {
	opts := applyOptions(optFns)

	if opts.threshold <= 0 {
		return nil, fmt.Errorf("idtrack: threshold must be positive, got %v", opts.threshold)
	}
	if opts.dimension <= 0 {
		return nil, fmt.Errorf("idtrack: dimension must be positive, got %d", opts.dimension)
	}

	cached, ok := s.(*store.CachedStore)
	if !ok {
		cached = store.NewCachedStore(s, cache.New(opts.cacheOptions...))
	}

	return &Tracker{
		store:       cached,
		threshold:   opts.threshold,
		thresholdSq: opts.threshold * opts.threshold,
		dimension:   opts.dimension,
		scanShards:  opts.scanShards,
		logger:      opts.logger,
		metrics:     opts.metrics,
		extractor:   opts.extractor,
		controller:  opts.controller,
	}, nil
}

// Classify matches the vector against every stored embedding and applies
// the resulting mutation:
//
//   - no identity within the threshold: a new identity is created.
//   - exactly one: the vector is appended to it and its appearance count
//     is incremented.
//   - two or more: the result is Ambiguous and nothing is mutated.
//
// The classify-then-mutate sequence holds the controller's writer slot, so
// two near-identical vectors classified concurrently cannot both miss and
// create twin identities.
func (t *Tracker) Classify(ctx context.Context, vector model.Vector) (model.Classification, error) {
	start := time.Now()
	requestID := uuid.NewString()

	result, err := t.classify(ctx, vector)
	t.metrics.RecordClassify(result.Outcome, time.Since(start), err)
	t.logger.LogClassify(ctx, requestID, result, err)
	return result, err
}

func (t *Tracker) classify(ctx context.Context, vector model.Vector) (model.Classification, error) {
	if err := model.ValidateDimension(vector, t.dimension); err != nil {
		return model.Classification{}, err
	}

	if err := t.controller.AdmitClassification(ctx); err != nil {
		return model.Classification{}, err
	}

	if err := t.controller.AcquireWriter(ctx); err != nil {
		return model.Classification{}, err
	}
	defer t.controller.ReleaseWriter()

	snapshot, err := t.store.GetAllEmbeddings(ctx)
	if err != nil {
		return model.Classification{}, translateError(err)
	}

	matches, err := t.matchIdentities(ctx, snapshot, vector)
	if err != nil {
		return model.Classification{}, err
	}

	switch len(matches) {
	case 0:
		id, err := t.store.CreateIdentity(ctx, vector)
		if err != nil {
			return model.Classification{}, translateError(err)
		}
		return model.Classification{
			Outcome:     model.OutcomeCreated,
			Identity:    id,
			Appearances: 1,
		}, nil

	case 1:
		id := matches[0]
		if err := t.store.AppendEmbedding(ctx, id, vector); err != nil {
			return model.Classification{}, translateError(err)
		}
		if err := t.store.IncrementAppearance(ctx, id); err != nil {
			return model.Classification{}, translateError(err)
		}
		count, err := t.store.AppearanceCount(ctx, id)
		if err != nil {
			return model.Classification{}, translateError(err)
		}
		return model.Classification{
			Outcome:     model.OutcomeUpdated,
			Identity:    id,
			Appearances: count,
		}, nil

	default:
		return model.Classification{Outcome: model.OutcomeAmbiguous}, nil
	}
}

// matchIdentities returns the ids of all identities with at least one
// embedding strictly closer than the threshold, sorted ascending. The scan
// is sharded across identities.
func (t *Tracker) matchIdentities(ctx context.Context, snapshot model.Snapshot, vector model.Vector) ([]model.IdentityID, error) {
	ids := snapshot.Identities()
	if len(ids) == 0 {
		return nil, nil
	}

	shards := t.scanShards
	if shards > len(ids) {
		shards = len(ids)
	}
	chunk := (len(ids) + shards - 1) / shards
	perShard := make([][]model.IdentityID, shards)

	g, ctx := errgroup.WithContext(ctx)
	for s := range perShard {
		lo := s * chunk
		hi := lo + chunk
		if hi > len(ids) {
			hi = len(ids)
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var matched []model.IdentityID
			for _, id := range ids[lo:hi] {
				for _, stored := range snapshot[id] {
					if distance.SquaredL2(vector, stored) < t.thresholdSq {
						matched = append(matched, id)
						break
					}
				}
			}
			perShard[s] = matched
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var matches []model.IdentityID
	for _, m := range perShard {
		matches = append(matches, m...)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] < matches[j] })
	return matches, nil
}

// ClassifyImage routes an image payload through the configured extractor
// and classifies the result. Zero extracted vectors yield a Rejected
// result with reason "no face"; more than one yield "multiple faces".
func (t *Tracker) ClassifyImage(ctx context.Context, payload []byte) (model.Classification, error) {
	if t.extractor == nil {
		return model.Classification{}, ErrNoExtractor
	}

	start := time.Now()
	vectors, err := t.extractor.Extract(ctx, payload)
	t.metrics.RecordExtract(len(vectors), time.Since(start), err)
	if err != nil {
		return model.Classification{}, fmt.Errorf("extract: %w", err)
	}

	switch len(vectors) {
	case 1:
		return t.Classify(ctx, vectors[0])
	case 0:
		return t.reject(ctx, model.RejectNoFace, time.Since(start)), nil
	default:
		return t.reject(ctx, model.RejectMultipleFaces, time.Since(start)), nil
	}
}

func (t *Tracker) reject(ctx context.Context, reason model.RejectReason, elapsed time.Duration) model.Classification {
	result := model.Classification{
		Outcome: model.OutcomeRejected,
		Reason:  reason,
	}
	t.metrics.RecordClassify(result.Outcome, elapsed, nil)
	t.logger.LogClassify(ctx, uuid.NewString(), result, nil)
	return result
}

// AppearanceCount returns how often the identity has been seen.
func (t *Tracker) AppearanceCount(ctx context.Context, id model.IdentityID) (uint64, error) {
	count, err := t.store.AppearanceCount(ctx, id)
	return count, translateError(err)
}

// ClearAll wipes the identity store, including the content-hash index.
func (t *Tracker) ClearAll(ctx context.Context) error {
	start := time.Now()
	err := translateError(t.store.ClearAll(ctx))
	t.metrics.RecordClearAll(time.Since(start), err)
	t.logger.LogClearAll(ctx, err)
	return err
}

// Stats describes the current store content.
type Stats struct {
	// Identities is the number of tracked identities.
	Identities int

	// Embeddings is the total number of stored vectors.
	Embeddings int

	// CacheValid reports whether the snapshot cache is currently serving.
	CacheValid bool
}

// Stats returns store statistics. The read goes through the snapshot cache.
func (t *Tracker) Stats(ctx context.Context) (Stats, error) {
	snapshot, err := t.store.GetAllEmbeddings(ctx)
	if err != nil {
		return Stats{}, translateError(err)
	}
	return Stats{
		Identities: len(snapshot),
		Embeddings: snapshot.Embeddings(),
		CacheValid: t.store.Cache().Valid(),
	}, nil
}

// Store exposes the cache-decorated store (for tests and tooling).
func (t *Tracker) Store() *store.CachedStore {
	return t.store
}

// Close closes the underlying store.
func (t *Tracker) Close() error {
	return t.store.Close()
}
