package insight

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/pitchlens/pitchlens/internal/llm"
)

// responseCache holds completed responses keyed by a hash of the caller's
// cache key plus the prompt content. Entries past their TTL are never served.
type responseCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	resp    llm.Response
	expires time.Time
}

func newResponseCache(ttl time.Duration) *responseCache {
	return &responseCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func cacheKey(callerKey, prompt string) string {
	sum := sha256.Sum256([]byte(callerKey + "\x00" + prompt))
	return hex.EncodeToString(sum[:])
}

func (c *responseCache) get(key string) (llm.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return llm.Response{}, false
	}
	if !c.now().Before(entry.expires) {
		delete(c.entries, key)
		return llm.Response{}, false
	}
	return entry.resp, true
}

func (c *responseCache) put(key string, resp llm.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{resp: resp, expires: c.now().Add(c.ttl)}
}

// sweep drops expired entries; called opportunistically from the scheduler
// tick.
func (c *responseCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, entry := range c.entries {
		if !now.Before(entry.expires) {
			delete(c.entries, key)
		}
	}
}
