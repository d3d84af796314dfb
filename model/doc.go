// Package model defines the core types of the identity tracker.
//
// # Identity Types
//
//   - IdentityID: stable identifier of a tracked subject (uint64)
//   - EmbeddingID: identifier of a single stored embedding (uint64)
//   - Hash: deterministic content hash of a vector, unique store-wide
//
// # Data Types
//
//   - Vector: fixed-length float32 feature vector (128 components by default)
//   - Embedding: one observed instance of a subject
//   - IdentityRecord: full persisted state of one identity
//   - Snapshot: point-in-time identity to vectors mapping
//   - Classification: structured result of classifying one vector
package model
