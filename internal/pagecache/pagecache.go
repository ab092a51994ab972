// Package pagecache stores rendered dashboard views keyed by request path and
// lets writers mark a path, and everything below it, as stale.
//
// Every path has a generation counter. A stored view is filed under the
// generations of its path and all ancestors as they were when the view was
// looked up, so a view computed before an invalidation can never be read back
// after it.
package pagecache

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/invoicedesk/internal/cache"
	"github.com/Additional-Code/invoicedesk/internal/config"
)

const (
	keyPrefix        = "page:"
	generationPrefix = "pagegen:"
)

// Module provides the page cache to Fx.
var Module = fx.Provide(New)

// Stamp identifies where a view looked up at a given generation is stored.
// The zero Stamp means the view must not be cached.
type Stamp string

// Cache is a path-addressed view cache on top of a cache.Store.
type Cache struct {
	store  cache.Store
	ttl    time.Duration
	logger *zap.Logger
}

// New wires a Cache using the dashboard TTL.
func New(store cache.Store, cfg config.Config, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: store, ttl: cfg.Dashboard.PageCacheTTL, logger: logger}
}

// Key builds the cache key for a path and its query. Query parameters are
// sorted so equivalent requests share an entry.
func Key(path string, query url.Values) string {
	if len(query) == 0 {
		return path
	}
	encoded := query.Encode()
	if encoded == "" {
		return path
	}
	return path + "?" + encoded
}

// Get returns the cached body for key, if present, and the Stamp a freshly
// computed body has to be stored with.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, Stamp, bool) {
	stamp, err := c.stamp(ctx, key)
	if err != nil {
		c.logger.Warn("page cache generation read failed", zap.String("key", key), zap.Error(err))
		return nil, "", false
	}
	body, err := c.store.Get(ctx, string(stamp))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn("page cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, stamp, false
	}
	return body, stamp, true
}

// Put stores body for the configured TTL. A body stamped before an
// invalidation of its path lands where no later Get looks.
func (c *Cache) Put(ctx context.Context, stamp Stamp, body []byte) {
	if stamp == "" {
		return
	}
	if err := c.store.Set(ctx, string(stamp), body, c.ttl); err != nil {
		c.logger.Warn("page cache write failed", zap.String("key", string(stamp)), zap.Error(err))
	}
}

// Invalidate marks path and every view reachable under it (query variants and
// sub-paths) as stale. Failures are logged; entries expire with their TTL
// either way.
func (c *Cache) Invalidate(ctx context.Context, path string) {
	path = cleanPath(path)

	if _, err := c.store.Incr(ctx, generationPrefix+path); err != nil {
		c.logger.Warn("page cache invalidation failed", zap.String("path", path), zap.Error(err))
	}

	// Entries of older generations are unreachable now; drop them early.
	base := keyPrefix + path
	for _, sep := range []string{"@", "?", "/"} {
		if err := c.store.DeletePrefix(ctx, base+sep); err != nil {
			c.logger.Warn("page cache cleanup failed", zap.String("path", path), zap.String("scope", sep), zap.Error(err))
		}
	}
	c.logger.Debug("page cache invalidated", zap.String("path", path))
}

// stamp resolves the storage key of key under the current generations of its
// path and every ancestor path.
func (c *Cache) stamp(ctx context.Context, key string) (Stamp, error) {
	path, _, _ := strings.Cut(key, "?")
	scopes := ancestors(cleanPath(path))

	gens := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		gen, err := c.generation(ctx, scope)
		if err != nil {
			return "", err
		}
		gens = append(gens, strconv.FormatInt(gen, 10))
	}
	return Stamp(keyPrefix + key + "@" + strings.Join(gens, ".")), nil
}

func (c *Cache) generation(ctx context.Context, path string) (int64, error) {
	raw, err := c.store.Get(ctx, generationPrefix+path)
	if errors.Is(err, cache.ErrCacheMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(string(raw), 10, 64)
}

func cleanPath(path string) string {
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return "/"
	}
	return path
}

// ancestors lists path followed by each parent up to "/".
func ancestors(path string) []string {
	out := []string{path}
	for path != "/" {
		i := strings.LastIndex(path, "/")
		if i <= 0 {
			path = "/"
		} else {
			path = path[:i]
		}
		out = append(out, path)
	}
	return out
}
