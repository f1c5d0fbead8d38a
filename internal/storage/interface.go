package storage

import (
	"context"
	"io"
)

// ObjectStorage is the subset of an object store the CLI needs: reading
// source manifests and publishing match reports.
type ObjectStorage interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	// GetURL returns the public URL of an object.
	GetURL(key string) string
	Exists(ctx context.Context, key string) (bool, error)
	// EnsureBucket creates the bucket when the provider allows it.
	EnsureBucket(ctx context.Context) error
}
