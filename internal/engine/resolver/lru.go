package resolver

import (
	"container/list"
	"strings"
	"sync"

	"omniworker/internal/shared/observability"
)

// lookupKey identifies one Locate call. Roots are joined because a result
// is only reusable for the exact same root order.
type lookupKey struct {
	pkg   string
	roots string
}

func newLookupKey(pkg string, roots []string) lookupKey {
	return lookupKey{pkg: pkg, roots: strings.Join(roots, "\x00")}
}

type cachedLookup struct {
	key     lookupKey
	matches []BinaryMatch
}

// matchCache memoizes locator walks, evicting the least recently used
// lookup once full. Stored and returned slices are copies.
type matchCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[lookupKey]*list.Element
	recency  *list.List // front is the newest lookup
}

func newMatchCache(capacity int) *matchCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &matchCache{
		capacity: capacity,
		entries:  make(map[lookupKey]*list.Element, capacity),
		recency:  list.New(),
	}
}

func (c *matchCache) lookup(key lookupKey) ([]BinaryMatch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.recency.MoveToFront(el)
	observability.LocatorCacheHitsTotal.Inc()
	return cloneMatches(el.Value.(*cachedLookup).matches), true
}

func (c *matchCache) store(key lookupKey, matches []BinaryMatch) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cachedLookup).matches = cloneMatches(matches)
		c.recency.MoveToFront(el)
		return
	}
	for c.recency.Len() >= c.capacity {
		oldest := c.recency.Back()
		c.recency.Remove(oldest)
		delete(c.entries, oldest.Value.(*cachedLookup).key)
	}
	c.entries[key] = c.recency.PushFront(&cachedLookup{key: key, matches: cloneMatches(matches)})
}

func (c *matchCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recency.Len()
}

func (c *matchCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recency.Init()
	clear(c.entries)
}

func cloneMatches(m []BinaryMatch) []BinaryMatch {
	if m == nil {
		return nil
	}
	return append([]BinaryMatch(nil), m...)
}
