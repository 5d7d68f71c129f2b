package optimizer

import (
	"container/list"
	"sync"

	"github.com/deedb/deedb/pkg/plan"
	"github.com/deedb/deedb/pkg/value"
)

// PlanCache is the plan cache of §4.I: keyed by a normalized fingerprint
// of query text, scored with the same reinforced/decaying AdaptiveScore
// used for edges, and bounded by capacity with lowest-score eviction
// rather than plain LRU. Adapted from pkg/cache/query_cache.go's
// container/list + map + sync.RWMutex shape; the eviction policy and the
// score-as-value-not-metadata design are the departure §4.I requires.
type PlanCache struct {
	mu       sync.RWMutex
	capacity int
	list     *list.List
	items    map[string]*list.Element
}

type cacheEntry struct {
	fingerprint string
	plan        *plan.Plan
	score       *value.AdaptiveScore
}

// NewPlanCache returns an empty cache bounded to capacity entries.
func NewPlanCache(capacity int) *PlanCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &PlanCache{
		capacity: capacity,
		list:     list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// Get looks up the cached plan for query's fingerprint. On a hit it
// reinforces the entry's score by +0.5, per §4.I.
func (c *PlanCache) Get(query string) (*plan.Plan, bool) {
	key := Fingerprint(query)
	c.mu.RLock()
	elem, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)
	entry.score.Reinforce(0.5)
	return entry.plan, true
}

// Put stores p under query's fingerprint with a freshly seeded default
// score, evicting the lowest-scoring entry first if at capacity.
func (c *PlanCache) Put(query string, p *plan.Plan) {
	key := Fingerprint(query)
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*cacheEntry).plan = p
		return
	}
	for c.list.Len() >= c.capacity {
		c.evictLowestScore()
	}
	entry := &cacheEntry{fingerprint: key, plan: p, score: value.NewAdaptiveScore()}
	elem := c.list.PushFront(entry)
	c.items[key] = elem
}

// evictLowestScore removes the entry with the smallest current score.
// Caller must hold c.mu.
func (c *PlanCache) evictLowestScore() {
	var worst *list.Element
	var worstScore float64
	for e := c.list.Front(); e != nil; e = e.Next() {
		s := e.Value.(*cacheEntry).score.Value()
		if worst == nil || s < worstScore {
			worst = e
			worstScore = s
		}
	}
	if worst == nil {
		return
	}
	c.list.Remove(worst)
	delete(c.items, worst.Value.(*cacheEntry).fingerprint)
}

// Evaporate applies one decay tick to every cached plan's score, run
// periodically alongside the edge-score evaporation tick (§4.I).
func (c *PlanCache) Evaporate() {
	c.mu.RLock()
	scores := make([]*value.AdaptiveScore, 0, c.list.Len())
	for e := c.list.Front(); e != nil; e = e.Next() {
		scores = append(scores, e.Value.(*cacheEntry).score)
	}
	c.mu.RUnlock()
	for _, s := range scores {
		s.Evaporate()
	}
}

// Len returns the number of cached plans.
func (c *PlanCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.list.Len()
}

// Clear empties the cache.
func (c *PlanCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list.Init()
	c.items = make(map[string]*list.Element, c.capacity)
}
