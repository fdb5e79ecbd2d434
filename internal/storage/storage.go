// Package storage provides the object store abstraction the table format is
// built on. The engine needs only three primitives for correctness: Get, a
// new-key-only Put and a CompareAndSwap used for the catalog pointer. Listing
// is reserved for maintenance (orphan detection) and is never used on the
// read or commit paths.
package storage

import (
	"context"
	"errors"
	"time"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound     = errors.New("object not found")
	ErrAlreadyExists      = errors.New("object already exists")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrUploadFailed       = errors.New("upload failed")
	ErrDownloadFailed     = errors.New("download failed")
	ErrDeleteFailed       = errors.New("delete failed")
)

// ObjectInfo describes a listed object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStore abstracts object storage operations.
// Implementations include local filesystem, in-memory and S3.
type ObjectStore interface {
	// Get returns the full contents of key.
	// Returns ErrObjectNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes data under key only if key does not exist yet.
	// Returns ErrAlreadyExists otherwise. Data, manifest and metadata
	// files are always written through Put so that nothing is overwritten.
	Put(ctx context.Context, key string, data []byte) error

	// CompareAndSwap atomically replaces the contents of key with data if
	// the current contents equal expected. A nil expected means the key must
	// not exist. Returns false (and no error) when the comparison fails.
	CompareAndSwap(ctx context.Context, key string, expected, data []byte) (bool, error)

	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all objects under the given prefix.
	// Used by maintenance to detect orphaned objects.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}
