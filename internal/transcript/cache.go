package transcript

import (
	"container/list"
	"sync"
)

// DefaultCacheSize is the default number of transcripts kept in memory.
const DefaultCacheSize = 15

// Cache is a bounded LRU map from transcript path to message list.
//
// The cache is a consistency layer over the on-disk transcript: an entry
// present in the cache is the authoritative read result until evicted.
// Eviction loses no data because disk remains the source of truth.
//
// All structural mutations are serialized by one mutex; entry counts are
// small and operations are cheap, so per-entry locking is not worth its
// complexity. Get and Put exchange deep copies so callers can never alias
// internal state.
type Cache struct {
	mu      sync.Mutex
	max     int
	order   *list.List // front = most recently used; values are *cacheEntry
	entries map[string]*list.Element
}

type cacheEntry struct {
	path string
	msgs []Message
}

// NewCache creates a cache holding at most max transcripts. max values
// below 1 are clamped to DefaultCacheSize.
func NewCache(max int) *Cache {
	if max < 1 {
		max = DefaultCacheSize
	}
	return &Cache{
		max:     max,
		order:   list.New(),
		entries: make(map[string]*list.Element, max),
	}
}

// Get returns a copy of the cached transcript and marks it most recently
// used. The second return is false on a miss.
func (c *Cache) Get(path string) ([]Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[path]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return CloneAll(el.Value.(*cacheEntry).msgs), true
}

// Put inserts or replaces the transcript for path, storing a copy and
// evicting the least-recently-used entry when over capacity.
func (c *Cache) Put(path string, msgs []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[path]; ok {
		el.Value.(*cacheEntry).msgs = CloneAll(msgs)
		c.order.MoveToFront(el)
		return
	}

	if len(c.entries) >= c.max {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).path)
		}
	}

	c.entries[path] = c.order.PushFront(&cacheEntry{path: path, msgs: CloneAll(msgs)})
}

// Append appends msg to the cached transcript and marks it most recently
// used. It is a no-op when path is not cached: the caller must populate
// the entry with Put (normally via a read) first.
func (c *Cache) Append(path string, msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[path]
	if !ok {
		return
	}
	entry := el.Value.(*cacheEntry)
	entry.msgs = append(entry.msgs, msg.Clone())
	c.order.MoveToFront(el)
}

// Len returns the number of cached transcripts.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
