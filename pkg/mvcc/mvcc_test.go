package mvcc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deedb/deedb/pkg/store"
	"github.com/deedb/deedb/pkg/value"
)

func TestCreateThenReadCommitted(t *testing.T) {
	s := store.New()
	m := New(s)

	id := m.Create(1, "Users", map[string]value.Value{"name": value.String("Alice")})

	_, props, err := m.Read(id, 2, ReadCommitted)
	require.NoError(t, err)
	name, _ := props["name"].AsString()
	assert.Equal(t, "Alice", name)
}

func TestReadCommittedHidesUncommittedCreator(t *testing.T) {
	s := store.New()
	m := New(s)
	id := m.Create(5, "Users", map[string]value.Value{"name": value.String("Bob")})

	// A transaction with a lower id than the creator (i.e. one that began
	// earlier and cannot have observed txn 5's still-uncommitted write)
	// must not see the row.
	_, _, err := m.Read(id, 3, ReadCommitted)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadCommittedSeesOwnUncommittedWrite(t *testing.T) {
	s := store.New()
	m := New(s)
	id := m.Create(5, "Users", map[string]value.Value{"name": value.String("Bob")})

	// The creating transaction itself must see its own write even before
	// commit — self-reads are never hidden by MVCC visibility rules.
	_, props, err := m.Read(id, 5, ReadCommitted)
	require.NoError(t, err)
	name, _ := props["name"].AsString()
	assert.Equal(t, "Bob", name)
}

func TestReadUncommittedSeesDirtyWrite(t *testing.T) {
	s := store.New()
	m := New(s)
	id := m.Create(10, "Users", map[string]value.Value{"name": value.String("Carl")})

	_, props, err := m.Read(id, 2, ReadUncommitted)
	require.NoError(t, err)
	name, _ := props["name"].AsString()
	assert.Equal(t, "Carl", name)
}

func TestWriteAppendsNewVisibleVersion(t *testing.T) {
	s := store.New()
	m := New(s)
	id := m.Create(1, "Users", map[string]value.Value{"name": value.String("Alice")})

	require.NoError(t, m.Write(id, 2, "Users", map[string]value.Value{"name": value.String("Alicia")}))

	_, props, err := m.Read(id, 3, ReadCommitted)
	require.NoError(t, err)
	name, _ := props["name"].AsString()
	assert.Equal(t, "Alicia", name)

	// The writer sees its own write immediately.
	_, props, err = m.Read(id, 2, ReadCommitted)
	require.NoError(t, err)
	name, _ = props["name"].AsString()
	assert.Equal(t, "Alicia", name)

	// The original creating transaction, which began before the write and
	// has not observed it, still sees its own original snapshot.
	_, props, err = m.Read(id, 1, ReadCommitted)
	require.NoError(t, err)
	name, _ = props["name"].AsString()
	assert.Equal(t, "Alice", name)
}

func TestDeleteHidesFromLaterReadersNotEarlier(t *testing.T) {
	s := store.New()
	m := New(s)
	id := m.Create(1, "Users", nil)

	require.NoError(t, m.Delete(id, 5, ReadCommitted))

	_, _, err := m.Read(id, 6, ReadCommitted)
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = m.Read(id, 3, ReadCommitted)
	require.NoError(t, err)
}

func TestAbandonDropsOwnCreation(t *testing.T) {
	s := store.New()
	m := New(s)
	id := m.Create(5, "Users", map[string]value.Value{"name": value.String("Ghost")})

	m.Abandon(5, []value.EntityID{id})

	_, _, err := m.Read(id, 10, ReadCommitted)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetEntity(id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAbandonRestoresPriorVersionAfterRolledBackWrite(t *testing.T) {
	s := store.New()
	m := New(s)
	id := m.Create(1, "Users", map[string]value.Value{"name": value.String("Alice")})
	require.NoError(t, m.Write(id, 2, "Users", map[string]value.Value{"name": value.String("Alicia")}))

	m.Abandon(2, []value.EntityID{id})

	_, props, err := m.Read(id, 10, ReadCommitted)
	require.NoError(t, err)
	name, _ := props["name"].AsString()
	assert.Equal(t, "Alice", name)

	ent, err := s.GetEntity(id)
	require.NoError(t, err)
	name, _ = ent.Properties["name"].AsString()
	assert.Equal(t, "Alice", name)
}

func TestAbandonUndoesOwnDelete(t *testing.T) {
	s := store.New()
	m := New(s)
	id := m.Create(1, "Users", nil)
	require.NoError(t, m.Delete(id, 2, ReadCommitted))

	m.Abandon(2, []value.EntityID{id})

	_, _, err := m.Read(id, 10, ReadCommitted)
	require.NoError(t, err)
}

func TestGCRetainsAtLeastOneVersion(t *testing.T) {
	s := store.New()
	m := New(s)
	id := m.Create(1, "Users", nil)
	require.NoError(t, m.Delete(id, 2, ReadCommitted))

	m.GC(100)

	c := m.chainFor(id, false)
	require.NotNil(t, c)
	assert.GreaterOrEqual(t, len(c.versions), 1)
}

func TestGCDropsFullyObsoleteVersions(t *testing.T) {
	s := store.New()
	m := New(s)
	id := m.Create(1, "Users", map[string]value.Value{"v": value.Int(1)})
	require.NoError(t, m.Write(id, 2, "Users", map[string]value.Value{"v": value.Int(2)}))
	require.NoError(t, m.Write(id, 3, "Users", map[string]value.Value{"v": value.Int(3)}))

	m.GC(10)

	c := m.chainFor(id, false)
	require.NotNil(t, c)
	// Only the newest version remains live once every older one is both
	// created and superseded before the GC horizon.
	require.Len(t, c.versions, 1)
	v, _ := c.versions[0].Properties["v"].AsInt()
	assert.EqualValues(t, 3, v)
}

func TestPhysicallyRemoveDropsTombstonedChain(t *testing.T) {
	s := store.New()
	m := New(s)
	id := m.Create(1, "Users", nil)
	require.NoError(t, m.Delete(id, 2, ReadCommitted))
	m.GC(100)

	m.PhysicallyRemove(id, 100)

	_, _, err := m.Read(id, 200, ReadCommitted)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetEntity(id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
