package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// CacheEntry is one stored result.
type CacheEntry struct {
	Result    Result
	CreatedAt time.Time
}

// Cache holds results of cacheable tools for the lifetime of one run.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]CacheEntry)}
}

// Fingerprint normalizes (name, params) into a cache key. encoding/json
// writes map keys in sorted order, so argument order does not matter.
func Fingerprint(name string, params Params) string {
	if params == nil {
		params = Params{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		// Unencodable values never come from decoded JSON.
		data = []byte("{}")
	}
	sum := sha256.Sum256(append([]byte(name+"\x00"), data...))
	return hex.EncodeToString(sum[:])[:32]
}

// Get returns a stored result.
func (c *Cache) Get(key string) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e.Result, ok
}

// Put stores a result.
func (c *Cache) Put(key string, r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = CacheEntry{Result: r, CreatedAt: time.Now()}
}

// Invalidate drops every entry and returns how many there were.
func (c *Cache) Invalidate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]CacheEntry)
	return n
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
