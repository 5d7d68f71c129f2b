package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deedb/deedb/pkg/mvcc"
	"github.com/deedb/deedb/pkg/value"
)

func TestBeginAssignsMonotonicIDs(t *testing.T) {
	m := NewManager(0)
	a := m.Begin(mvcc.ReadCommitted)
	b := m.Begin(mvcc.ReadCommitted)
	assert.Less(t, uint64(a.ID), uint64(b.ID))
}

func TestCommitUnderReadCommittedNeverConflicts(t *testing.T) {
	m := NewManager(0)
	a := m.Begin(mvcc.ReadCommitted)
	require.NoError(t, m.TrackWrite(a, 1))
	require.NoError(t, m.Commit(a))

	b := m.Begin(mvcc.ReadCommitted)
	require.NoError(t, m.TrackRead(b, 1))
	require.NoError(t, m.TrackWrite(b, 1))
	assert.NoError(t, m.Commit(b))
}

func TestRepeatableReadDetectsReadWriteConflict(t *testing.T) {
	m := NewManager(0)
	a := m.Begin(mvcc.RepeatableRead)
	require.NoError(t, m.TrackRead(a, 1))

	b := m.Begin(mvcc.ReadCommitted)
	require.NoError(t, m.TrackWrite(b, 1))
	require.NoError(t, m.Commit(b))

	err := m.Commit(a)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, RolledBack, a.Status)
}

func TestRepeatableReadIgnoresConflictsBeforeBegin(t *testing.T) {
	m := NewManager(0)
	b := m.Begin(mvcc.ReadCommitted)
	require.NoError(t, m.TrackWrite(b, 1))
	require.NoError(t, m.Commit(b))

	a := m.Begin(mvcc.RepeatableRead)
	require.NoError(t, m.TrackRead(a, 1))
	assert.NoError(t, m.Commit(a))
}

func TestSerializableDetectsWriteWriteConflict(t *testing.T) {
	m := NewManager(0)
	a := m.Begin(mvcc.Serializable)
	require.NoError(t, m.TrackWrite(a, 5))

	b := m.Begin(mvcc.ReadCommitted)
	require.NoError(t, m.TrackWrite(b, 5))
	require.NoError(t, m.Commit(b))

	err := m.Commit(a)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRollbackDiscardsTransaction(t *testing.T) {
	m := NewManager(0)
	a := m.Begin(mvcc.ReadCommitted)
	require.NoError(t, m.Rollback(a))
	assert.Equal(t, RolledBack, a.Status)
	assert.ErrorIs(t, m.Commit(a), ErrNotActive)
}

func TestOperationsAfterResolutionFail(t *testing.T) {
	m := NewManager(0)
	a := m.Begin(mvcc.ReadCommitted)
	require.NoError(t, m.Commit(a))
	assert.ErrorIs(t, m.TrackRead(a, 1), ErrNotActive)
	assert.ErrorIs(t, m.TrackWrite(a, 1), ErrNotActive)
	assert.ErrorIs(t, m.Commit(a), ErrNotActive)
	assert.ErrorIs(t, m.Rollback(a), ErrNotActive)
}

func TestMinActiveTxnTracksOldestOpenTransaction(t *testing.T) {
	m := NewManager(0)
	a := m.Begin(mvcc.ReadCommitted)
	b := m.Begin(mvcc.ReadCommitted)
	assert.Equal(t, a.ID, m.MinActiveTxn())

	require.NoError(t, m.Commit(a))
	assert.Equal(t, b.ID, m.MinActiveTxn())

	require.NoError(t, m.Commit(b))
	assert.Equal(t, value.TxnID(m.ids.Peek()), m.MinActiveTxn())
}

func TestHistoryIsTrimmedToMaxHistory(t *testing.T) {
	m := NewManager(2)
	for i := 0; i < 5; i++ {
		tx := m.Begin(mvcc.ReadCommitted)
		require.NoError(t, m.Commit(tx))
	}
	assert.LessOrEqual(t, len(m.history), 2)
}

func TestStatsTracksActiveCommittedAborted(t *testing.T) {
	m := NewManager(0)
	a := m.Begin(mvcc.ReadCommitted)
	m.Begin(mvcc.ReadCommitted)
	require.NoError(t, m.Commit(a))

	c := m.Begin(mvcc.ReadCommitted)
	require.NoError(t, m.Rollback(c))

	st := m.Stats()
	assert.Equal(t, 1, st.Active)
	assert.EqualValues(t, 1, st.Committed)
	assert.EqualValues(t, 1, st.Aborted)
}
