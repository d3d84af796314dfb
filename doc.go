// Package idtrack provides an embedded identity-tracking store for
// embedding vectors.
//
// Incoming 128-dimensional float32 vectors are matched against every stored
// embedding by Euclidean distance and classified:
//
//   - Created: no identity within the threshold; a new one is created.
//   - Updated: exactly one identity matched; the vector is appended and the
//     appearance count incremented.
//   - Ambiguous: two or more identities matched; nothing is mutated.
//   - Rejected: the input never reached matching (extraction produced zero
//     or multiple vectors).
//
// # Quick Start
//
//	ctx := context.Background()
//	tracker, err := idtrack.New(memory.New())
//	if err != nil {
//	    panic(err)
//	}
//	defer tracker.Close()
//
//	result, err := tracker.Classify(ctx, vector)
//	if err != nil {
//	    panic(err)
//	}
//	switch result.Outcome {
//	case model.OutcomeCreated:
//	    fmt.Println("new subject", result.Identity)
//	case model.OutcomeUpdated:
//	    fmt.Println("seen", result.Appearances, "times")
//	}
//
// # Backends
//
// Three store backends share one contract:
//
//   - store/memory: RWMutex map with a roaring bitmap hash index.
//   - store/badger: BadgerDB transactions, msgpack records.
//   - store/durable: memory backend + write-ahead log + compressed snapshot
//     checkpoints written through a blobstore (local FS, S3, MinIO, or
//     in-memory), with an optional DynamoDB-backed commit pointer.
//
// Reads are served through a time-bounded whole-snapshot cache that every
// mutation refreshes.
package idtrack
