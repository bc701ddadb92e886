package governance

import (
	"container/list"
	"sync"
	"time"

	"github.com/upb/matrix-governance/models"
)

// CacheKey identifies the rule set of one model within one company
type CacheKey struct {
	ModelName string
	CompanyID string
}

// String returns a string representation of the cache key
func (k CacheKey) String() string {
	return k.CompanyID + ":" + k.ModelName
}

// cacheEntry represents a single cache entry with TTL
type cacheEntry struct {
	key        CacheKey
	rules      []*models.Rule
	insertedAt time.Time
	element    *list.Element // For LRU tracking
}

// isExpired checks if the cache entry has expired
func (e *cacheEntry) isExpired(ttl time.Duration) bool {
	return time.Since(e.insertedAt) > ttl
}

// RuleCache is an in-memory LRU cache with TTL for ordered rule sets.
// Cached slices are shared between callers and must not be modified.
type RuleCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry // Key: CacheKey.String()
	lruList *list.List             // Doubly linked list for LRU tracking
	maxSize int                    // Maximum number of entries
	ttl     time.Duration          // Time-to-live for entries
	hits    uint64                 // Cache hit counter
	misses  uint64                 // Cache miss counter
}

// NewRuleCache creates a new RuleCache with specified max size and TTL
func NewRuleCache(maxSize int, ttl time.Duration) *RuleCache {
	return &RuleCache{
		entries: make(map[string]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// GetRules retrieves a rule set from cache.
// The bool is false if not found or expired.
func (c *RuleCache) GetRules(key CacheKey) ([]*models.Rule, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keyStr := key.String()
	entry, exists := c.entries[keyStr]

	if !exists || entry.isExpired(c.ttl) {
		c.misses++
		if exists {
			c.removeEntry(keyStr)
		}
		return nil, false
	}

	// Move to front (most recently used)
	c.lruList.MoveToFront(entry.element)
	c.hits++

	return entry.rules, true
}

// SetRules stores a rule set in cache
func (c *RuleCache) SetRules(key CacheKey, rules []*models.Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keyStr := key.String()

	if entry, exists := c.entries[keyStr]; exists {
		entry.rules = rules
		entry.insertedAt = time.Now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	// Evict least recently used entry if cache is full
	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{
		key:        key,
		rules:      rules,
		insertedAt: time.Now(),
	}
	entry.element = c.lruList.PushFront(keyStr)
	c.entries[keyStr] = entry
}

// Invalidate removes a specific cache entry
func (c *RuleCache) Invalidate(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeEntry(key.String())
}

// InvalidateCompany removes all cache entries of a company
func (c *RuleCache) InvalidateCompany(companyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for keyStr, entry := range c.entries {
		if entry.key.CompanyID == companyID {
			c.removeEntry(keyStr)
		}
	}
}

// Clear removes all entries from the cache
func (c *RuleCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.lruList.Init()
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns cache statistics
func (c *RuleCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: c.calculateHitRate(),
	}
}

func (c *RuleCache) calculateHitRate() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// removeEntry removes an entry from the cache (must be called with lock held)
func (c *RuleCache) removeEntry(keyStr string) {
	if entry, exists := c.entries[keyStr]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, keyStr)
	}
}

// evictLRU evicts the least recently used entry (must be called with lock held)
func (c *RuleCache) evictLRU() {
	back := c.lruList.Back()
	if back == nil {
		return
	}
	keyStr := back.Value.(string)
	c.lruList.Remove(back)
	delete(c.entries, keyStr)
}

// CleanupExpired removes all expired entries and returns how many were dropped
func (c *RuleCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiredKeys := make([]string, 0)
	for keyStr, entry := range c.entries {
		if entry.isExpired(c.ttl) {
			expiredKeys = append(expiredKeys, keyStr)
		}
	}
	for _, keyStr := range expiredKeys {
		c.removeEntry(keyStr)
	}

	return len(expiredKeys)
}
