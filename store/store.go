// Package store defines the persistent key/value contract the coordinator
// serves bridge requests from, with in-memory and LevelDB implementations.
package store

import (
	"context"
	stderrors "errors"
)

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = stderrors.New("store: key not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = stderrors.New("store: closed")

// Store is the persistent state behind the bridge.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}
