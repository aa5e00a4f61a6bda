// Package storage abstracts the blob store the document cache writes to.
// Two variants ship: a local filesystem directory and an HTTP object store.
// Callers treat keys as opaque slash-separated paths.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means the key does not exist. This is a normal outcome
	// for exists/get probes, never an infrastructure failure.
	ErrNotFound = errors.New("storage: object not found")

	// ErrUnavailable means the backend itself cannot be reached or refuses
	// access. It is distinct from ErrNotFound so callers can fail over
	// rather than treat an outage as an empty cache.
	ErrUnavailable = errors.New("storage: backend unavailable")
)

// Backend is a minimal object store. Put must be all-or-nothing: after an
// error the key must not be observable via Get or Exists.
type Backend interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error

	// List returns the keys under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Size reports the object count and total bytes under the prefix.
	Size(ctx context.Context, prefix string) (count int, bytes int64, err error)

	// Name identifies the variant for logs and stats ("local", "filer").
	Name() string
}
