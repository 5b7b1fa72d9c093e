package shader

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheCapacity is the number of programs a cache keeps when
// NewCache is given a non-positive capacity.
const DefaultCacheCapacity = 64

// Cache is a thread-safe LRU of compiled programs keyed by sources and
// options. Programs are immutable, so one compiled value is shared by all
// callers. Concurrent misses on one key compile once. Failed compiles are
// not cached.
type Cache struct {
	capacity int
	group    singleflight.Group

	mu      sync.Mutex
	entries map[string]*cacheEntry
	lru     lruList

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type cacheEntry struct {
	key        string
	prog       *Program
	prev, next *cacheEntry
}

// NewCache returns a cache holding at most capacity programs.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Cache{capacity: capacity, entries: make(map[string]*cacheEntry)}
}

func cacheKey(vs, fs string, opts Options) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d:%s\x00%d:%s\x00%+v", len(vs), vs, len(fs), fs, normalize(opts))
	return hex.EncodeToString(h.Sum(nil))
}

// Compile returns the cached program for the sources, compiling it on a
// miss.
func (c *Cache) Compile(vs, fs string, opts Options) (*Program, error) {
	key := cacheKey(vs, fs, opts)
	if p, ok := c.get(key); ok {
		c.hits.Add(1)
		return p, nil
	}
	c.misses.Add(1)

	v, err, _ := c.group.Do(key, func() (any, error) {
		if p, ok := c.get(key); ok {
			return p, nil
		}
		p, err := Compile(vs, fs, opts)
		if err != nil {
			return nil, err
		}
		c.add(key, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Program), nil
}

func (c *Cache) get(key string) (*Program, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.lru.moveToFront(e)
	return e.prog, true
}

func (c *Cache) add(key string, p *Program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.prog = p
		c.lru.moveToFront(e)
		return
	}
	for c.lru.len >= c.capacity {
		oldest := c.lru.tail
		c.lru.unlink(oldest)
		delete(c.entries, oldest.key)
		c.evictions.Add(1)
	}
	e := &cacheEntry{key: key, prog: p}
	c.lru.pushFront(e)
	c.entries[key] = e
}

// Purge drops every cached program.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	c.lru = lruList{}
}

// CacheStats reports cache activity.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Len       int
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	n := c.lru.len
	c.mu.Unlock()
	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Len:       n,
	}
}

// lruList is a doubly-linked list, most recently used first. It is
// guarded by Cache.mu.
type lruList struct {
	head, tail *cacheEntry
	len        int
}

func (l *lruList) pushFront(e *cacheEntry) {
	e.prev, e.next = nil, l.head
	if l.head != nil {
		l.head.prev = e
	} else {
		l.tail = e
	}
	l.head = e
	l.len++
}

func (l *lruList) moveToFront(e *cacheEntry) {
	if e == l.head {
		return
	}
	l.unlink(e)
	l.pushFront(e)
}

func (l *lruList) unlink(e *cacheEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		l.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		l.tail = e.prev
	}
	e.prev, e.next = nil, nil
	l.len--
}
