package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/einthusan-addon/internal/metrics"
)

// DefaultTTL applies when a caller passes a non-positive ttl.
const DefaultTTL = 30 * time.Minute

// Key builds a namespaced cache key: "namespace:arg1|arg2".
func Key(namespace string, args ...string) string {
	return namespace + ":" + strings.Join(args, "|")
}

func namespaceOf(key string) string {
	if ns, _, ok := strings.Cut(key, ":"); ok {
		return ns
	}
	return "default"
}

// Cache applies a Codec on top of a Store. Store and codec errors degrade to misses.
type Cache struct {
	store      Store
	codec      Codec
	defaultTTL time.Duration
	logger     *zap.Logger
}

// New builds a Cache. A nil codec stores values unchanged.
func New(store Store, codec Codec, defaultTTL time.Duration, logger *zap.Logger) *Cache {
	if codec == nil {
		codec = Identity{}
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: store, codec: codec, defaultTTL: defaultTTL, logger: logger.Named("cache")}
}

// Get returns the decoded value for key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		ok = false
	}
	if !ok {
		metrics.ObserveCache(namespaceOf(key), false)
		return nil, false
	}
	value, err := c.codec.Decode(raw)
	if err != nil {
		c.logger.Warn("cache decode failed", zap.String("key", key), zap.Error(err))
		metrics.ObserveCache(namespaceOf(key), false)
		return nil, false
	}
	metrics.ObserveCache(namespaceOf(key), true)
	return value, true
}

// Set encodes and stores value for ttl.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	encoded, err := c.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.store.Set(ctx, key, encoded, ttl); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Len reports the number of entries in the underlying store.
func (c *Cache) Len(ctx context.Context) int {
	n, err := c.store.Len(ctx)
	if err != nil {
		c.logger.Debug("cache len failed", zap.Error(err))
		return 0
	}
	return n
}

// Close closes the store and, when it holds resources, the codec.
func (c *Cache) Close() error {
	err := c.store.Close()
	if closer, ok := c.codec.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// GetJSON reads key and unmarshals it into a T.
func GetJSON[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var out T
	raw, ok := c.Get(ctx, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		c.logger.Warn("cache value is not valid json", zap.String("key", key), zap.Error(err))
		var zero T
		return zero, false
	}
	return out, true
}

// SetJSON marshals v and stores it under key.
func SetJSON(ctx context.Context, c *Cache, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return c.Set(ctx, key, raw, ttl)
}

// Remember returns the cached value for key or computes, stores and returns it.
// Values produced alongside an error are not stored.
func Remember[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if v, ok := GetJSON[T](ctx, c, key); ok {
		return v, nil
	}
	v, err := fn(ctx)
	if err != nil {
		return v, err
	}
	if err := SetJSON(ctx, c, key, v, ttl); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}
