package storage

import (
	"context"
	"io"
)

// ObjectStorage defines the read-side object operations used to fetch fixture packs.
type ObjectStorage interface {
	// GetObject opens a reader for an object.
	// Caller must close the returned reader.
	GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error)

	// StatObject returns size and ETag for an object.
	StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error)
}

// ObjectStat contains object metadata used for cache validation.
type ObjectStat struct {
	SizeBytes   int64
	ETag        string
	ContentType string
}
