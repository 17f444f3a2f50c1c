package fetch

import (
	"context"
	"sync"
	"time"
)

// DefaultCacheTTL is how long a fetched page is reused.
const DefaultCacheTTL = 10 * time.Minute

// CachedFetcher wraps a Fetcher with a short-lived in-memory cache so that
// repeated analysis of the same posting does not refetch it. Only successful
// fetches are cached.
type CachedFetcher struct {
	next Fetcher
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	result  Result
	expires time.Time
}

// NewCachedFetcher creates a new cached fetcher.
func NewCachedFetcher(next Fetcher, ttl time.Duration) *CachedFetcher {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedFetcher{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Get implements Fetcher.
func (f *CachedFetcher) Get(ctx context.Context, url string, timeout time.Duration) (*Result, error) {
	now := f.now()

	f.mu.Lock()
	if e, ok := f.entries[url]; ok {
		if now.Before(e.expires) {
			f.mu.Unlock()
			res := e.result
			return &res, nil
		}
		delete(f.entries, url)
	}
	f.mu.Unlock()

	res, err := f.next.Get(ctx, url, timeout)
	if err != nil {
		return res, err
	}

	f.mu.Lock()
	f.evictExpired(now)
	f.entries[url] = cacheEntry{result: *res, expires: now.Add(f.ttl)}
	f.mu.Unlock()

	return res, nil
}

// evictExpired drops stale entries. Callers hold f.mu.
func (f *CachedFetcher) evictExpired(now time.Time) {
	for url, e := range f.entries {
		if !now.Before(e.expires) {
			delete(f.entries, url)
		}
	}
}
