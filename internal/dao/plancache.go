package dao

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"restlib/internal/descriptor"
	"restlib/internal/logger"

	"github.com/redis/go-redis/v9"
)

const (
	planCacheTTL       = 2 * time.Hour
	planCacheSweepFreq = 15 * time.Minute
)

// SelectPlan is the value-independent part of a read: the projected columns
// and the auxiliary joins. It depends only on the resource and the requested
// field set, so it is safe to share across requests and processes.
type SelectPlan struct {
	Columns []string             `json:"columns"`
	Joins   []descriptor.JoinAux `json:"joins"`
}

type planCacheEntry struct {
	plan     *SelectPlan
	lastUsed time.Time
}

// PlanCache memoizes select plans, in process with an optional Redis tier so
// instances of the same service share compiled plans.
type PlanCache struct {
	rdb *redis.Client

	mu         sync.Mutex
	items      map[string]*planCacheEntry
	lastSweep  time.Time
	totalBytes int64
	maxBytes   int64
}

// NewPlanCache builds a cache. rdb may be nil (in-process only); maxBytes
// zero disables the memory cap.
func NewPlanCache(rdb *redis.Client, maxBytes int64) *PlanCache {
	return &PlanCache{
		rdb:      rdb,
		items:    make(map[string]*planCacheEntry),
		maxBytes: maxBytes,
	}
}

// PlanKey derives the cache key for one resource and requested field set.
func PlanKey(specName string, fields []string) string {
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(specName + "|" + strings.Join(sorted, ",")))
	return "selectplan:" + hex.EncodeToString(sum[:])
}

func (c *PlanCache) Get(ctx context.Context, key string) (*SelectPlan, bool) {
	now := time.Now()
	c.mu.Lock()
	c.maybeSweepLocked(now)
	if entry, ok := c.items[key]; ok {
		entry.lastUsed = now
		c.mu.Unlock()
		return entry.plan, true
	}
	c.mu.Unlock()

	if c.rdb == nil {
		return nil, false
	}
	cached, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		return nil, false
	}
	var plan SelectPlan
	if err := json.Unmarshal([]byte(cached), &plan); err != nil {
		logger.Warn("plan_cache_invalid_entry", map[string]any{
			"key":   key,
			"error": err.Error(),
		})
		return nil, false
	}
	c.storeLocal(key, &plan, now)
	return &plan, true
}

func (c *PlanCache) Put(ctx context.Context, key string, plan *SelectPlan) {
	now := time.Now()
	c.storeLocal(key, plan, now)

	if c.rdb == nil {
		return
	}
	data, err := json.Marshal(plan)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, data, planCacheTTL).Err(); err != nil {
		logger.Warn("plan_cache_redis_store_failed", map[string]any{
			"key":   key,
			"error": err.Error(),
		})
	}
}

// Flush drops every in-process entry. Redis entries expire on their own.
func (c *PlanCache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*planCacheEntry)
	c.totalBytes = 0
}

func (c *PlanCache) storeLocal(key string, plan *SelectPlan, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeSweepLocked(now)

	size := estimatePlanBytes(plan)
	if c.maxBytes > 0 && c.totalBytes+size > c.maxBytes {
		logger.Warn("plan_cache_memory_limit_exceeded", map[string]any{
			"item_bytes":  size,
			"total_bytes": c.totalBytes,
			"max_bytes":   c.maxBytes,
		})
		return
	}

	if existing, ok := c.items[key]; ok {
		c.totalBytes -= estimatePlanBytes(existing.plan)
	}
	c.items[key] = &planCacheEntry{plan: plan, lastUsed: now}
	c.totalBytes += size
}

func (c *PlanCache) maybeSweepLocked(now time.Time) {
	if !c.lastSweep.IsZero() && now.Sub(c.lastSweep) < planCacheSweepFreq {
		return
	}
	for key, entry := range c.items {
		if now.Sub(entry.lastUsed) > planCacheTTL {
			c.totalBytes -= estimatePlanBytes(entry.plan)
			delete(c.items, key)
		}
	}
	c.lastSweep = now
}

func estimatePlanBytes(p *SelectPlan) int64 {
	if p == nil {
		return 0
	}
	var size int64
	for _, c := range p.Columns {
		size += int64(len(c))
	}
	for _, j := range p.Joins {
		size += int64(len(j.Table) + len(j.Alias) + len(j.SelfField) + len(j.OtherField))
		for _, f := range j.Fields {
			size += int64(len(f))
		}
	}
	return size
}
