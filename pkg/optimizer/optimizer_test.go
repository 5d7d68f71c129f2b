package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deedb/deedb/pkg/index"
	"github.com/deedb/deedb/pkg/lang"
	"github.com/deedb/deedb/pkg/plan"
)

type fakeSource struct{}

func (fakeSource) ScanCollection(string) []index.EntitySnapshot { return nil }

func TestPromoteIndexLookupRewritesEqualityScan(t *testing.T) {
	idx := index.NewManager()
	require.NoError(t, idx.CreateIndex("idx_email", "Users", "email", false, fakeSource{}))

	stmt, err := lang.Parse("FROM Users WHERE email = 'a@b.com' SELECT email")
	require.NoError(t, err)
	p, err := plan.Build(stmt, plan.NewStats(100, 200))
	require.NoError(t, err)

	Optimize(p, idx)
	lookup, ok := p.Ops[0].(*plan.IndexLookup)
	require.True(t, ok)
	assert.Equal(t, "idx_email", lookup.IndexName)
}

func TestPromoteIndexLookupLeavesResidualFilter(t *testing.T) {
	idx := index.NewManager()
	require.NoError(t, idx.CreateIndex("idx_email", "Users", "email", false, fakeSource{}))

	stmt, err := lang.Parse("FROM Users WHERE email = 'a@b.com' AND age > 18 SELECT email")
	require.NoError(t, err)
	p, err := plan.Build(stmt, plan.NewStats(100, 200))
	require.NoError(t, err)

	Optimize(p, idx)
	_, ok := p.Ops[0].(*plan.IndexLookup)
	require.True(t, ok)
	filt, ok := p.Ops[1].(*plan.Filter)
	require.True(t, ok)
	bin := filt.Predicate.(*lang.BinaryExpr)
	assert.Equal(t, ">", bin.Op)
}

func TestOptimizeWithNoMatchingIndexLeavesScanAlone(t *testing.T) {
	idx := index.NewManager()
	stmt, err := lang.Parse("FROM Users WHERE email = 'a@b.com' SELECT email")
	require.NoError(t, err)
	p, err := plan.Build(stmt, plan.NewStats(100, 200))
	require.NoError(t, err)

	Optimize(p, idx)
	_, ok := p.Ops[0].(*plan.Scan)
	assert.True(t, ok)
}

func TestPushDownFiltersFoldsIntoTraverse(t *testing.T) {
	manualPlan := &plan.Plan{Ops: []plan.Operator{
		&plan.Traverse{SourceBinding: "u", TargetAlias: "friend"},
		&plan.Filter{Binding: "friend", Predicate: &lang.Literal{Value: true}},
	}}
	changed := pushDownFilters(manualPlan)
	assert.True(t, changed)
	require.Len(t, manualPlan.Ops, 1)
	trav := manualPlan.Ops[0].(*plan.Traverse)
	assert.NotNil(t, trav.Filter)
}

func TestFingerprintNormalizesWhitespace(t *testing.T) {
	a := Fingerprint("FROM   Users\nSELECT  name")
	b := Fingerprint("FROM Users SELECT name")
	assert.Equal(t, a, b)
}

func TestPlanCacheReinforcesOnHit(t *testing.T) {
	c := NewPlanCache(10)
	dummy := &plan.Plan{}
	c.Put("FROM Users SELECT name", dummy)
	elem := c.items[Fingerprint("FROM Users SELECT name")]
	initial := elem.Value.(*cacheEntry).score.Value()

	_, ok := c.Get("FROM Users SELECT name")
	require.True(t, ok)
	assert.Greater(t, elem.Value.(*cacheEntry).score.Value(), initial)
}

func TestPlanCacheEvictsLowestScoreAtCapacity(t *testing.T) {
	c := NewPlanCache(2)
	c.Put("q1", &plan.Plan{})
	c.Put("q2", &plan.Plan{})
	// Reinforce q2 so q1 is the lowest score and gets evicted.
	_, _ = c.Get("q2")
	_, _ = c.Get("q2")
	c.Put("q3", &plan.Plan{})

	_, ok := c.Get("q1")
	assert.False(t, ok)
	_, ok = c.Get("q2")
	assert.True(t, ok)
	_, ok = c.Get("q3")
	assert.True(t, ok)
}

func TestPlanCacheEvaporateDecaysScores(t *testing.T) {
	c := NewPlanCache(10)
	c.Put("q1", &plan.Plan{})
	elem := c.items[Fingerprint("q1")]
	before := elem.Value.(*cacheEntry).score.Value()
	c.Evaporate()
	assert.Less(t, elem.Value.(*cacheEntry).score.Value(), before)
}

func TestManagerPlanForCachesAcrossCalls(t *testing.T) {
	idx := index.NewManager()
	m := NewManager(idx, 10)
	stmt, err := lang.Parse("FROM Users SELECT name")
	require.NoError(t, err)

	p1, err := m.PlanFor("FROM Users SELECT name", stmt, plan.NewStats(10, 20))
	require.NoError(t, err)
	p2, err := m.PlanFor("FROM Users SELECT name", stmt, plan.NewStats(10, 20))
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Equal(t, 1, m.CacheLen())
}
