package minio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/hupe1980/idtrack/blobstore"
	"github.com/minio/minio-go/v7"
)

// Store implements blobstore.BlobStore on a MinIO bucket.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewStore creates a MinIO blob store. All blob names are placed under
// rootPrefix inside the bucket (e.g. "idtrack/").
func NewStore(client *minio.Client, bucket, rootPrefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
	}
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// isNotFound reports whether err is a missing-object response.
func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
}

// Open stats the object and returns a handle that reads ranges on demand.
// A missing CURRENT pointer maps to blobstore.ErrNotFound so the durable
// store treats the bucket as a fresh deployment.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key := s.key(name)

	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, blobstore.ErrNotFound
		}
		return nil, err
	}

	return &objectBlob{
		client: s.client,
		bucket: s.bucket,
		key:    key,
		size:   info.Size,
	}, nil
}

// Put uploads a blob in a single call. Object puts are atomic, so readers
// of the CURRENT pointer see either the old or the new content.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return err
}

// Create returns a writable blob that buffers in memory and uploads the
// object when closed. Snapshots are small enough that buffering beats a
// streaming multipart upload here, and the object stays invisible until
// Close succeeds.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	return &bufferedBlob{store: s, ctx: ctx, name: name}, nil
}

// Delete removes a blob. Deleting a missing blob is not an error, so
// snapshot pruning can retry stale names safely.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// List returns all blob names under the prefix, sorted. Snapshot pruning
// relies on the sort order matching the zero-padded snapshot numbering.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	full := s.key(prefix)

	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    full,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		name := strings.TrimPrefix(strings.TrimPrefix(obj.Key, s.prefix), "/")
		if name != "" {
			names = append(names, name)
		}
	}

	sort.Strings(names)
	return names, nil
}

// objectBlob reads object ranges on demand.
type objectBlob struct {
	client *minio.Client
	bucket string
	key    string
	size   int64
}

func (b *objectBlob) Size() int64 {
	return b.size
}

func (b *objectBlob) rangeReader(ctx context.Context, off, end int64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(off, end); err != nil {
		return nil, err
	}
	return b.client.GetObject(ctx, b.bucket, b.key, opts)
}

func (b *objectBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off >= b.size {
		return 0, io.EOF
	}
	end := min(off+int64(len(p)), b.size) - 1

	rc, err := b.rangeReader(ctx, off, end)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }()

	return io.ReadFull(rc, p[:end-off+1])
}

func (b *objectBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if off >= b.size {
		return nil, io.EOF
	}
	end := min(off+length, b.size) - 1
	return b.rangeReader(ctx, off, end)
}

func (b *objectBlob) Close() error {
	return nil
}

// bufferedBlob accumulates writes and uploads the object on Close.
type bufferedBlob struct {
	store  *Store
	ctx    context.Context
	name   string
	buf    bytes.Buffer
	closed bool
}

func (b *bufferedBlob) Write(p []byte) (int, error) {
	if b.closed {
		return 0, errors.New("minio: blob already closed")
	}
	return b.buf.Write(p)
}

// Sync is a no-op; the upload on Close is the durability boundary.
func (b *bufferedBlob) Sync() error {
	return nil
}

func (b *bufferedBlob) Close() error {
	if b.closed {
		return errors.New("minio: blob already closed")
	}
	b.closed = true
	return b.store.Put(b.ctx, b.name, b.buf.Bytes())
}
