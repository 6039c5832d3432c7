// Package cache provides TTL-keyed storage of encoded values, namespaced by operation.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("cache: store closed")

// Store holds raw bytes under a key until their expiry.
type Store interface {
	// Get returns the value for key. Expired entries are reported as absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key for ttl, replacing any previous entry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key.
	Delete(ctx context.Context, key string) error
	// Len returns the number of stored entries.
	Len(ctx context.Context) (int, error)
	// Close releases background resources.
	Close() error
}
