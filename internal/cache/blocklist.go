// Package cache holds per-tenant in-memory filters.
package cache

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/Linggaept/backend-waspread-sub001/internal/observer"
)

const cacheName = "blocklist"

// BlocklistCache answers "is this number blocked" with a bloom filter per tenant and
// confirms positives against the exact list. A filter is rebuilt when the tenant's list
// changes.
type BlocklistCache struct {
	mu             sync.RWMutex
	tenants        map[string]*blocklistEntry
	fpRate         float64
	hits           atomic.Int64
	misses         atomic.Int64
	falsePositives atomic.Int64
}

type blocklistEntry struct {
	fingerprint string
	filter      *bloom.BloomFilter
	exact       map[string]struct{}
}

// NewBlocklistCache creates an empty cache. fpRate is the target false-positive rate of
// each filter.
func NewBlocklistCache(fpRate float64) *BlocklistCache {
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.01
	}
	return &BlocklistCache{
		tenants: make(map[string]*blocklistEntry),
		fpRate:  fpRate,
	}
}

// fingerprint identifies a list's content using FNV-1a.
func fingerprint(list []string) string {
	h := fnv.New64a()
	h.Write([]byte(strings.Join(list, "\x00")))
	return fmt.Sprintf("%x:%d", h.Sum64(), len(list))
}

func (c *BlocklistCache) entry(tenantID string, list []string) *blocklistEntry {
	fp := fingerprint(list)

	c.mu.RLock()
	e, ok := c.tenants[tenantID]
	c.mu.RUnlock()
	if ok && e.fingerprint == fp {
		return e
	}

	n := uint(len(list))
	if n == 0 {
		n = 1
	}
	e = &blocklistEntry{
		fingerprint: fp,
		filter:      bloom.NewWithEstimates(n, c.fpRate),
		exact:       make(map[string]struct{}, len(list)),
	}
	for _, phone := range list {
		e.filter.AddString(phone)
		e.exact[phone] = struct{}{}
	}

	c.mu.Lock()
	c.tenants[tenantID] = e
	c.mu.Unlock()
	return e
}

// Blocked reports whether phone is on the tenant's list.
func (c *BlocklistCache) Blocked(tenantID, phone string, list []string) bool {
	if len(list) == 0 {
		return false
	}
	e := c.entry(tenantID, list)
	if !e.filter.TestString(phone) {
		c.misses.Add(1)
		observer.IncCacheCheck(tenantID, cacheName, "miss")
		return false
	}
	if _, ok := e.exact[phone]; !ok {
		c.falsePositives.Add(1)
		observer.IncCacheCheck(tenantID, cacheName, "false_positive")
		return false
	}
	c.hits.Add(1)
	observer.IncCacheCheck(tenantID, cacheName, "hit")
	return true
}

// Invalidate drops the tenant's filter.
func (c *BlocklistCache) Invalidate(tenantID string) {
	c.mu.Lock()
	delete(c.tenants, tenantID)
	c.mu.Unlock()
}

// Stats returns cache statistics.
func (c *BlocklistCache) Stats() BlocklistStats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	fps := c.falsePositives.Load()

	total := hits + misses + fps
	fpRate := float64(0)
	if total > 0 {
		fpRate = float64(fps) / float64(total)
	}

	c.mu.RLock()
	tenants := len(c.tenants)
	c.mu.RUnlock()

	return BlocklistStats{
		Hits:              hits,
		Misses:            misses,
		FalsePositives:    fps,
		FalsePositiveRate: fpRate,
		Tenants:           tenants,
	}
}

type BlocklistStats struct {
	Hits              int64
	Misses            int64
	FalsePositives    int64
	FalsePositiveRate float64
	Tenants           int
}
