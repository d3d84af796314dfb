package blobstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalBlobStore_Lifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalStore(tmpDir)
	ctx := context.Background()

	blobName := "snapshot-001.bin"
	content := []byte("hello, world, this is a snapshot")

	// 1. Create and write
	w, err := store.Create(ctx, blobName)
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	// 2. Open and ReadAt
	blob, err := store.Open(ctx, blobName)
	require.NoError(t, err)
	require.Equal(t, int64(len(content)), blob.Size())

	buf := make([]byte, 5)
	_, err = blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))

	// 3. ReadRange: "this" (offset 14, length 4)
	rangeReader, err := blob.ReadRange(ctx, 14, 4)
	require.NoError(t, err)
	defer rangeReader.Close()

	rangeContent, err := io.ReadAll(rangeReader)
	require.NoError(t, err)
	require.Equal(t, "this", string(rangeContent))

	// 4. List
	blobName2 := "snapshot-002.bin"
	require.NoError(t, store.Put(ctx, blobName2, []byte("x")))

	names, err := store.List(ctx, "snapshot-")
	require.NoError(t, err)
	require.Equal(t, []string{blobName, blobName2}, names)

	require.NoError(t, blob.Close())

	// 5. Delete
	require.NoError(t, store.Delete(ctx, blobName))
	_, err = store.Open(ctx, blobName)
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting again is not an error.
	require.NoError(t, store.Delete(ctx, blobName))
}

func TestLocalBlobStore_ReadRange_Boundaries(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalStore(tmpDir)
	ctx := context.Background()

	blobName := "boundary.bin"
	data := []byte("0123456789")
	require.NoError(t, store.Put(ctx, blobName, data))

	blob, err := store.Open(ctx, blobName)
	require.NoError(t, err)
	defer blob.Close()

	// Case 1: Full read
	r, err := blob.ReadRange(ctx, 0, 10)
	require.NoError(t, err)
	content, _ := io.ReadAll(r)
	r.Close()
	require.True(t, bytes.Equal(data, content))

	// Case 2: Read past end
	r, err = blob.ReadRange(ctx, 8, 5) // Request 5 bytes starting at 8 (only 2 available: 8, 9)
	require.NoError(t, err)
	content, err = io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "89", string(content))
	r.Close()

	// Case 3: Offset past EOF
	r, err = blob.ReadRange(ctx, 20, 5)
	require.ErrorIs(t, err, io.EOF)
	if r != nil {
		r.Close()
	}
}

func TestLocalBlobStore_AtomicPublish(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalStore(tmpDir)
	ctx := context.Background()

	w, err := store.Create(ctx, "pending.bin")
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)

	// Not visible before Close.
	_, err = store.Open(ctx, "pending.bin")
	require.ErrorIs(t, err, ErrNotFound)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Empty(t, names)

	require.NoError(t, w.Close())

	blob, err := store.Open(ctx, "pending.bin")
	require.NoError(t, err)
	require.NoError(t, blob.Close())
}

func TestLocalBlobStore_ConcurrentCreateSameName(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalStore(tmpDir)
	ctx := context.Background()

	// Two in-flight writers of the same blob stage under distinct names;
	// neither corrupts the other, and the last Close wins.
	w1, err := store.Create(ctx, "contested.bin")
	require.NoError(t, err)
	w2, err := store.Create(ctx, "contested.bin")
	require.NoError(t, err)

	_, err = w1.Write([]byte("first"))
	require.NoError(t, err)
	_, err = w2.Write([]byte("second"))
	require.NoError(t, err)

	require.NoError(t, w1.Close())
	require.NoError(t, w2.Close())

	blob, err := store.Open(ctx, "contested.bin")
	require.NoError(t, err)
	data, err := ReadAll(ctx, blob)
	require.NoError(t, err)
	require.NoError(t, blob.Close())
	require.Equal(t, "second", string(data))

	// No staging files linger.
	names, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"contested.bin"}, names)
}

func TestMemoryBlobStore_Lifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "a/1", []byte("one")))
	require.NoError(t, store.Put(ctx, "a/2", []byte("two")))
	require.NoError(t, store.Put(ctx, "b/1", []byte("three")))

	names, err := store.List(ctx, "a/")
	require.NoError(t, err)
	require.Equal(t, []string{"a/1", "a/2"}, names)

	blob, err := store.Open(ctx, "a/1")
	require.NoError(t, err)
	data, err := ReadAll(ctx, blob)
	require.NoError(t, err)
	require.Equal(t, "one", string(data))
	require.NoError(t, blob.Close())

	require.NoError(t, store.Delete(ctx, "a/1"))
	_, err = store.Open(ctx, "a/1")
	require.ErrorIs(t, err, ErrNotFound)
}
