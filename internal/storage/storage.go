// Package storage defines the blob store used by the event archive. Concrete
// backends live in the memory, local and gcs subpackages.
package storage

import (
	"context"
	"io"
)

// Backend names accepted by the storage.archive configuration.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// BlobStore persists opaque objects and returns a URI for them.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}
