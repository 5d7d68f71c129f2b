package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deedb/deedb/pkg/value"
)

type fakeSource struct {
	rows []EntitySnapshot
}

func (f fakeSource) ScanCollection(string) []EntitySnapshot { return f.rows }

func TestCreateIndexBackPopulates(t *testing.T) {
	src := fakeSource{rows: []EntitySnapshot{
		{ID: 1, Properties: map[string]value.Value{"age": value.Int(30)}},
		{ID: 2, Properties: map[string]value.Value{"age": value.Int(35)}},
		{ID: 3, Properties: map[string]value.Value{"age": value.Int(35)}},
	}}
	m := NewManager()
	require.NoError(t, m.CreateIndex("idx_age", "Users", "age", false, src))

	ids, err := m.LookupEq("idx_age", value.Int(35))
	require.NoError(t, err)
	assert.ElementsMatch(t, []value.EntityID{2, 3}, ids)
}

func TestUniqueIndexRejectsDuplicateOnInsert(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.CreateIndex("idx_email", "Users", "email", true, fakeSource{}))

	require.NoError(t, m.OnInsert("Users", 1, map[string]value.Value{"email": value.String("a@x")}))
	err := m.OnInsert("Users", 2, map[string]value.Value{"email": value.String("a@x")})
	assert.ErrorIs(t, err, ErrUniqueViolation)
}

func TestUniqueIndexRejectsDuplicateDuringBackPopulation(t *testing.T) {
	src := fakeSource{rows: []EntitySnapshot{
		{ID: 1, Properties: map[string]value.Value{"email": value.String("a@x")}},
		{ID: 2, Properties: map[string]value.Value{"email": value.String("a@x")}},
	}}
	m := NewManager()
	err := m.CreateIndex("idx_email", "Users", "email", true, src)
	assert.ErrorIs(t, err, ErrUniqueViolation)
	_, unknown := m.Lookup("Users", "email")
	assert.False(t, unknown)
}

func TestDropIndexThenLookupFails(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.CreateIndex("idx_age", "Users", "age", false, fakeSource{}))
	require.NoError(t, m.DropIndex("idx_age"))
	_, err := m.LookupEq("idx_age", value.Int(1))
	assert.ErrorIs(t, err, ErrUnknownIndex)
}

func TestRangeLookupClosedInterval(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.CreateIndex("idx_age", "Users", "age", false, fakeSource{}))
	for i := int64(0); i < 50; i++ {
		require.NoError(t, m.OnInsert("Users", value.EntityID(i), map[string]value.Value{"age": value.Int(20 + i%50)}))
	}
	ids, err := m.LookupRange("idx_age", value.Int(20), value.Int(22))
	require.NoError(t, err)
	assert.ElementsMatch(t, []value.EntityID{0, 1, 2}, ids)
}

func TestOnUpdateMovesKey(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.CreateIndex("idx_age", "Users", "age", false, fakeSource{}))
	require.NoError(t, m.OnInsert("Users", 1, map[string]value.Value{"age": value.Int(20)}))
	require.NoError(t, m.OnUpdate("Users", 1, map[string]value.Value{"age": value.Int(20)}, map[string]value.Value{"age": value.Int(99)}))

	ids, _ := m.LookupEq("idx_age", value.Int(20))
	assert.Empty(t, ids)
	ids, _ = m.LookupEq("idx_age", value.Int(99))
	assert.Equal(t, []value.EntityID{1}, ids)
}

func TestRangeLookupNegativeFloats(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.CreateIndex("idx_balance", "Accounts", "balance", false, fakeSource{}))
	balances := map[value.EntityID]float64{1: -2.0, 2: -1.0, 3: 0.0, 4: 1.5, 5: 3.0}
	for id, bal := range balances {
		require.NoError(t, m.OnInsert("Accounts", id, map[string]value.Value{"balance": value.Float(bal)}))
	}

	ids, err := m.LookupRange("idx_balance", value.Float(-2.0), value.Float(1.5))
	require.NoError(t, err)
	assert.ElementsMatch(t, []value.EntityID{1, 2, 3, 4}, ids)
}

func TestFloatKeyLessOrdersByRealValue(t *testing.T) {
	neg2, err := NewKey(value.Float(-2.0))
	require.NoError(t, err)
	neg1, err := NewKey(value.Float(-1.0))
	require.NoError(t, err)
	zero, err := NewKey(value.Float(0.0))
	require.NoError(t, err)
	pos1, err := NewKey(value.Float(1.0))
	require.NoError(t, err)

	assert.True(t, neg2.Less(neg1))
	assert.False(t, neg1.Less(neg2))
	assert.True(t, neg1.Less(zero))
	assert.True(t, zero.Less(pos1))
	assert.True(t, neg2.Less(pos1))
}

func TestBtreeSurvivesManyInsertsInOrder(t *testing.T) {
	bt := newBtree()
	for i := int64(0); i < 2000; i++ {
		k, err := NewKey(value.Int(i))
		require.NoError(t, err)
		bt.insert(k, value.EntityID(i))
	}
	var prev *Key
	count := 0
	bt.all(func(e *entry) bool {
		if prev != nil {
			assert.True(t, prev.Less(e.key))
		}
		k := e.key
		prev = &k
		count++
		return true
	})
	assert.Equal(t, 2000, count)
}
