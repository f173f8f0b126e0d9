package edgecache

import (
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultMaxEntries = 1000
	defaultMaxBytes   = 512 * 1024 * 1024
)

type lruItem struct {
	entry    Entry
	ttl      time.Duration
	storedAt time.Time
	size     int
}

// LRU is the in-process edge cache. It preserves key order via the
// underlying hashicorp/golang-lru implementation and additionally tracks a
// running byte total so it can evict on size as well as on count.
type LRU struct {
	mu       sync.Mutex
	cache    *lru.Cache[string, *lruItem]
	maxBytes int64
	curBytes int64
}

// NewLRU builds an in-process LRU edge cache with the given entry and byte
// limits. A non-positive value selects the spec default.
func NewLRU(maxEntries int, maxBytes int64) *LRU {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	l := &LRU{maxBytes: maxBytes}
	// OnEvict keeps curBytes consistent when the underlying cache evicts by
	// count on its own (we also evict proactively in Set for the byte cap).
	c, err := lru.NewWithEvict[string, *lruItem](maxEntries, func(_ string, v *lruItem) {
		l.curBytes -= int64(v.size)
	})
	if err != nil {
		// maxEntries is always > 0 here, so NewWithEvict cannot fail.
		panic(err)
	}
	l.cache = c
	return l
}

func (l *LRU) Name() string { return "lru" }

func (l *LRU) Get(key string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.cache.Get(namespaced(key))
	if !ok {
		return Entry{}, false
	}
	if item.ttl > 0 && time.Since(item.storedAt) > item.ttl {
		l.cache.Remove(namespaced(key))
		return Entry{}, false
	}
	return item.entry, true
}

func (l *LRU) Set(key string, entry Entry, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := len(entry.Bytes)
	if int64(size) > l.maxBytes {
		// Entries larger than maxBytes are silently not cached.
		return
	}

	nk := namespaced(key)
	if old, ok := l.cache.Peek(nk); ok {
		l.curBytes -= int64(old.size)
	}

	l.cache.Add(nk, &lruItem{entry: entry, ttl: ttl, storedAt: time.Now(), size: size})
	l.curBytes += int64(size)

	for l.curBytes > l.maxBytes && l.cache.Len() > 0 {
		if _, _, ok := l.cache.RemoveOldest(); !ok {
			break
		}
	}
}

func (l *LRU) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.Remove(namespaced(key))
}

func (l *LRU) DeleteByPrefix(prefix string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	full := namespaced(prefix)
	for _, k := range l.cache.Keys() {
		if strings.HasPrefix(k, full) {
			l.cache.Remove(k)
		}
	}
}

func (l *LRU) HealthCheck() bool { return true }
