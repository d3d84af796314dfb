// Package minio provides a BlobStore backend for MinIO and other
// S3-compatible object stores (Ceph, Garage, SeaweedFS).
//
// The durable store persists two kinds of blobs through it: versioned
// snapshot objects and the CURRENT pointer naming the latest committed
// snapshot. Both are small, so writes buffer in memory and upload in a
// single atomic put.
//
// # Basic Usage
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	blobs := minioblob.NewStore(client, "my-bucket", "idtrack/")
package minio
