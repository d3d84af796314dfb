// Package blobstore provides storage abstraction for identity snapshots.
//
// BlobStore is the interface for reading and writing data blobs (snapshot
// checkpoints and the CURRENT commit pointer). Implementations must be safe
// for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-memory, for tests
//   - LocalStore: local filesystem with atomic rename-on-close publication
//   - s3.Store: Amazon S3 with range reads and streaming uploads
//   - s3.DDBCommitStore: S3 plus DynamoDB conditional writes for atomic
//     CURRENT pointer updates across concurrent writers
//   - minio.Store: MinIO and other S3-compatible object stores
//
// Snapshot payloads are block-compressed before hitting the store; see
// Compress and Decompress.
package blobstore
