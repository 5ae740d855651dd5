// Package cache is a best-effort side channel. Backends never return errors to
// callers: a failed Get is a miss and a failed Set is dropped, so every caller
// proceeds uncached when the backend is unavailable.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// GetJSON decodes a cached JSON value into dst. A value that does not decode
// counts as a miss.
func GetJSON(ctx context.Context, c Cache, key string, dst any) bool {
	if c == nil {
		return false
	}
	raw, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// SetJSON stores v as JSON. Encoding failures are dropped like backend ones.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.Set(ctx, key, raw, ttl)
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool)         { return nil, false }
func (Noop) Set(context.Context, string, []byte, time.Duration) {}
