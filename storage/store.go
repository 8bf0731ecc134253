package storage

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when an object does not exist
	ErrNotFound = errors.New("object not found")
	// ErrExists is returned by PutIfAbsent when the key is already taken
	ErrExists = errors.New("object already exists")
	// ErrListingTruncated is returned when a listing did not return every key
	ErrListingTruncated = errors.New("object listing truncated")
)

// Object is one entry of a prefix listing
type Object struct {
	Key  string
	Size int64
}

// ObjectStore is the archival object store
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte) error
	// PutIfAbsent writes the object only if no object exists under key
	PutIfAbsent(ctx context.Context, key string, body []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns every object under prefix in a single call, or
	// ErrListingTruncated when the store could not return them all
	List(ctx context.Context, prefix string) ([]Object, error)
	Delete(ctx context.Context, keys ...string) error
}
