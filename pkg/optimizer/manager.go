package optimizer

import (
	"github.com/deedb/deedb/pkg/index"
	"github.com/deedb/deedb/pkg/lang"
	"github.com/deedb/deedb/pkg/plan"
)

// Manager ties plan building, rule-based rewriting, and the reinforced
// plan cache together into the single entry point pkg/exec calls.
type Manager struct {
	cache *PlanCache
	idx   *index.Manager
}

// NewManager returns an optimizer Manager backed by idx for index
// promotion and a plan cache bounded to cacheCapacity entries.
func NewManager(idx *index.Manager, cacheCapacity int) *Manager {
	return &Manager{cache: NewPlanCache(cacheCapacity), idx: idx}
}

// PlanFor returns an executable Plan for (query text, parsed statement),
// serving from cache on a fingerprint hit and reinforcing it, or building
// and optimizing fresh on a miss and caching the result with a default
// score.
func (m *Manager) PlanFor(query string, stmt lang.Statement, stats plan.Stats) (*plan.Plan, error) {
	if p, ok := m.cache.Get(query); ok {
		return p, nil
	}
	p, err := plan.Build(stmt, stats)
	if err != nil {
		return nil, err
	}
	p = Optimize(p, m.idx)
	m.cache.Put(query, p)
	return p, nil
}

// Evaporate decays every cached plan's score by one tick.
func (m *Manager) Evaporate() { m.cache.Evaporate() }

// CacheLen reports the number of cached plans, for admin stats.
func (m *Manager) CacheLen() int { return m.cache.Len() }
