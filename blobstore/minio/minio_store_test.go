package minio

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/idtrack/blobstore"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/require"
)

func TestIsNotFound(t *testing.T) {
	require.False(t, isNotFound(errors.New("connection refused")))
	require.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	require.True(t, isNotFound(minio.ErrorResponse{Code: "NotFound"}))
	require.False(t, isNotFound(minio.ErrorResponse{Code: "AccessDenied"}))
}

// TestStore_SnapshotFlow requires a running MinIO instance; it is skipped
// when none is reachable. It walks the blob lifecycle the durable store
// drives: write snapshot generations, flip the CURRENT pointer, list and
// prune.
func TestStore_SnapshotFlow(t *testing.T) {
	ctx := context.Background()

	client, err := minio.New("localhost:9000", &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}
	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	bucket := "test-idtrack"
	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	store := NewStore(client, bucket, "snapshot-flow/")
	t.Cleanup(func() {
		names, _ := store.List(ctx, "")
		for _, name := range names {
			_ = store.Delete(ctx, name)
		}
	})

	// A fresh deployment has no CURRENT pointer.
	_, err = store.Open(ctx, "CURRENT")
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	// Write a snapshot through the buffered writer; it must not be
	// visible before Close.
	payload := []byte("snapshot payload one")
	w, err := store.Create(ctx, "snapshot-000001.bin")
	require.NoError(t, err)
	_, err = w.Write(payload[:8])
	require.NoError(t, err)
	_, err = w.Write(payload[8:])
	require.NoError(t, err)
	require.NoError(t, w.Sync())

	_, err = store.Open(ctx, "snapshot-000001.bin")
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	require.NoError(t, w.Close())
	_, err = w.Write([]byte("late"))
	require.Error(t, err)

	// Commit the pointer and read the snapshot back through it.
	require.NoError(t, store.Put(ctx, "CURRENT", []byte("snapshot-000001.bin")))

	cur, err := store.Open(ctx, "CURRENT")
	require.NoError(t, err)
	name, err := blobstore.ReadAll(ctx, cur)
	require.NoError(t, err)
	require.NoError(t, cur.Close())
	require.Equal(t, "snapshot-000001.bin", string(name))

	blob, err := store.Open(ctx, string(name))
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), blob.Size())

	got, err := blobstore.ReadAll(ctx, blob)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	// Range reads serve the self-describing snapshot header.
	head := make([]byte, 8)
	n, err := blob.ReadAt(ctx, head, 0)
	require.NoError(t, err)
	require.Equal(t, payload[:n], head[:n])
	require.NoError(t, blob.Close())

	// A second generation, then prune the first.
	require.NoError(t, store.Put(ctx, "snapshot-000002.bin", []byte("snapshot payload two")))

	names, err := store.List(ctx, "snapshot-")
	require.NoError(t, err)
	require.Equal(t, []string{"snapshot-000001.bin", "snapshot-000002.bin"}, names)

	require.NoError(t, store.Delete(ctx, "snapshot-000001.bin"))
	require.NoError(t, store.Delete(ctx, "snapshot-000001.bin")) // already gone

	names, err = store.List(ctx, "snapshot-")
	require.NoError(t, err)
	require.Equal(t, []string{"snapshot-000002.bin"}, names)
}
