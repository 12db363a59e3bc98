// Package catalog answers the one question enforcement asks of the title
// catalog: whether a title is educational.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/screentime/internal/config"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrUnknownTitle is returned for titles the catalog does not know
var ErrUnknownTitle = errors.New("catalog: unknown title")

// Catalog looks up title facts
type Catalog interface {
	IsEducational(ctx context.Context, titleID string) (bool, error)
}

// Static is a catalog loaded from configuration
type Static struct {
	educational map[string]bool
	known       map[string]bool
	strict      bool
}

// NewStatic builds a catalog from the given title lists. In strict mode any
// title not listed in either list is unknown.
func NewStatic(educational, titles []string, strict bool) *Static {
	s := &Static{
		educational: make(map[string]bool, len(educational)),
		known:       make(map[string]bool, len(educational)+len(titles)),
		strict:      strict,
	}
	for _, id := range educational {
		s.educational[id] = true
		s.known[id] = true
	}
	for _, id := range titles {
		s.known[id] = true
	}
	return s
}

// IsEducational reports whether titleID is educational
func (s *Static) IsEducational(_ context.Context, titleID string) (bool, error) {
	if s.strict && !s.known[titleID] {
		return false, fmt.Errorf("%w: %s", ErrUnknownTitle, titleID)
	}
	return s.educational[titleID], nil
}

// Cached memoizes lookups of another catalog for a bounded time
type Cached struct {
	next  Catalog
	cache *expirable.LRU[string, bool]
}

// NewCached wraps next with an expirable LRU
func NewCached(next Catalog, size int, ttl time.Duration) *Cached {
	return &Cached{
		next:  next,
		cache: expirable.NewLRU[string, bool](size, nil, ttl),
	}
}

// IsEducational consults the cache before the wrapped catalog. Errors are not cached.
func (c *Cached) IsEducational(ctx context.Context, titleID string) (bool, error) {
	if v, ok := c.cache.Get(titleID); ok {
		return v, nil
	}

	v, err := c.next.IsEducational(ctx, titleID)
	if err != nil {
		return false, err
	}
	c.cache.Add(titleID, v)
	return v, nil
}

// New builds the catalog described by cfg
func New(cfg config.CatalogConfig) Catalog {
	static := NewStatic(cfg.EducationalTitles, cfg.Titles, cfg.Strict)
	if cfg.CacheSize <= 0 {
		return static
	}
	return NewCached(static, cfg.CacheSize, config.ParseDuration(cfg.CacheTTL, 10*time.Minute))
}
