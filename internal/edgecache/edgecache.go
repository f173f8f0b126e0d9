// Package edgecache implements the L2 tier of spec §4.5: an in-process
// LRU and a shared remote key-value cache behind one interface.
package edgecache

import "time"

// Entry is the volatile L2 cache value (spec §3).
type Entry struct {
	Bytes       []byte
	ContentType string
	CachedAt    time.Time
}

// Cache is the capability set every L2 implementation exposes.
type Cache interface {
	Get(key string) (Entry, bool)
	Set(key string, entry Entry, ttl time.Duration)
	Delete(key string)
	DeleteByPrefix(prefix string)
	HealthCheck() bool
	Name() string
}

// namespacePrefix keeps keys from colliding with co-tenants sharing the
// same backing store.
const namespacePrefix = "imgproxy:"

func namespaced(key string) string {
	return namespacePrefix + key
}
