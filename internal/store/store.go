package store

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when an object in the store could not be found.
var ErrNotFound = errors.New("not found")

// Store is an interface to an object store.
type Store interface {
	Put(ctx context.Context, bucket string, key string, r io.Reader) error

	// Get returns the content of an object. Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, bucket string, key string) (io.ReadCloser, error)
}
