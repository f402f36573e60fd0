package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached memoizes successful completions of an inner provider. Failures and
// completions rejected by Request.Validate are never cached so the backend is
// asked again on the next call.
type Cached struct {
	inner Provider
	cache *lru.Cache[string, string]
}

// WithCache wraps p in an LRU of the given size. size <= 0 returns p as is.
func WithCache(p Provider, size int) (Provider, error) {
	if p == nil || size <= 0 {
		return p, nil
	}
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &Cached{inner: p, cache: c}, nil
}

func (c *Cached) Name() string { return c.inner.Name() + "+cache" }

func (c *Cached) Complete(ctx context.Context, req Request) (string, error) {
	key := cacheKey(req)
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	out, err := c.inner.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if req.Validate != nil {
		if err := req.Validate(out); err != nil {
			return out, nil
		}
	}
	c.cache.Add(key, out)
	return out, nil
}

func cacheKey(req Request) string {
	h := sha256.New()
	for _, part := range []string{req.Operation, req.System, req.Prompt} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	if req.JSON {
		h.Write([]byte{1})
	}
	return hex.EncodeToString(h.Sum(nil))
}
