// Package batch implements the per-poll BatchSnapshot and the
// resolveUser lookup chain from spec.md §4.3.
package batch

import (
	"context"
	"strings"
	"sync"
	"time"

	"crybb-mentions-bot/internal/model"
)

const userCacheTTL = 5 * time.Minute

// UserFetcher is the subset of xapi.Client that batch resolution needs;
// modeled as an interface so tests can fake it without a network.
type UserFetcher interface {
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
}

type cacheEntry struct {
	user    model.User
	expires time.Time
}

// Cache is the global, 5-minute-TTL user cache shared across batches,
// guarded by its own mutex per spec.md §5.
type Cache struct {
	mu    sync.Mutex
	users map[string]cacheEntry
	now   func() time.Time
}

// NewCache returns an empty TTL cache.
func NewCache() *Cache {
	return &Cache{users: make(map[string]cacheEntry), now: time.Now}
}

func (c *Cache) get(usernameLC string) (model.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.users[usernameLC]
	if !ok || c.now().After(e.expires) {
		return model.User{}, false
	}
	return e.user, true
}

func (c *Cache) put(usernameLC string, u model.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[usernameLC] = cacheEntry{user: u, expires: c.now().Add(userCacheTTL)}
}

// Context holds one batch's immutable snapshot plus an overlay of
// within-batch pinned users and a reference to the global TTL cache, per
// spec.md §3/§4.3. Snapshot is never mutated after construction; new
// resolutions go into the overlay.
type Context struct {
	snapshot map[string]model.User // lowercased username -> User, immutable for this batch's lifetime

	mu      sync.Mutex
	overlay map[string]model.User

	cache   *Cache
	fetcher UserFetcher
}

// NewContext builds a BatchContext from the expansions block of a
// mentions response (snapshot) plus the shared global cache.
func NewContext(snapshot map[string]model.User, cache *Cache, fetcher UserFetcher) *Context {
	return &Context{
		snapshot: snapshot,
		overlay:  make(map[string]model.User),
		cache:    cache,
		fetcher:  fetcher,
	}
}

// ResolveUser implements spec.md §4.3's four-step lookup chain. It
// returns the resolved User and a nil error on success; on a network
// miss it returns the fetcher's error unchanged (xerr.ErrAbsentTarget
// when the fetcher reports the user absent).
func (bc *Context) ResolveUser(ctx context.Context, username string) (model.User, error) {
	lc := strings.ToLower(strings.TrimPrefix(username, "@"))

	if u, ok := bc.snapshot[lc]; ok {
		return u, nil
	}

	bc.mu.Lock()
	u, ok := bc.overlay[lc]
	bc.mu.Unlock()
	if ok {
		return u, nil
	}

	if u, ok := bc.cache.get(lc); ok {
		return u, nil
	}

	u, err := bc.fetcher.GetUserByUsername(ctx, username)
	if err != nil {
		return model.User{}, err
	}

	bc.mu.Lock()
	bc.overlay[lc] = u
	bc.mu.Unlock()
	bc.cache.put(lc, u)
	return u, nil
}
