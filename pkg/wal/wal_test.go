package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deedb/deedb/pkg/value"
)

func TestEncodeDecodeCreateEntityRoundTrips(t *testing.T) {
	r := Record{
		Kind:       KindCreateEntity,
		Txn:        7,
		EntityID:   42,
		Collection: "Users",
		Properties: map[string]value.Value{"name": value.String("Alice"), "age": value.Int(30)},
	}
	body := Encode(r)
	got, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, r.Kind, got.Kind)
	assert.Equal(t, r.Txn, got.Txn)
	assert.Equal(t, r.EntityID, got.EntityID)
	assert.Equal(t, r.Collection, got.Collection)
	name, _ := got.Properties["name"].AsString()
	assert.Equal(t, "Alice", name)
	age, _ := got.Properties["age"].AsInt()
	assert.EqualValues(t, 30, age)
}

func TestEncodeDecodeCreateEdgeRoundTrips(t *testing.T) {
	r := Record{
		Kind:       KindCreateEdge,
		Txn:        3,
		EdgeID:     9,
		Source:     1,
		Target:     2,
		Type:       "FOLLOWS",
		Properties: map[string]value.Value{"since": value.Int(2020)},
	}
	body := Encode(r)
	got, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, r.EdgeID, got.EdgeID)
	assert.Equal(t, r.Source, got.Source)
	assert.Equal(t, r.Target, got.Target)
	assert.Equal(t, r.Type, got.Type)
}

func TestAppendAndRecoverReplaysOnlyCommittedTxns(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 0)
	require.NoError(t, err)

	// txn 1: committed, should be replayed.
	require.NoError(t, w.Append(Record{Kind: KindBegin, Txn: 1}))
	require.NoError(t, w.Append(Record{Kind: KindCreateEntity, Txn: 1, EntityID: 100, Collection: "Users"}))
	require.NoError(t, w.AppendCommit(1))

	// txn 2: rolled back, should not be replayed.
	require.NoError(t, w.Append(Record{Kind: KindBegin, Txn: 2}))
	require.NoError(t, w.Append(Record{Kind: KindCreateEntity, Txn: 2, EntityID: 200, Collection: "Users"}))
	require.NoError(t, w.Append(Record{Kind: KindRollback, Txn: 2}))

	// txn 3: never resolved (simulated crash), should not be replayed.
	require.NoError(t, w.Append(Record{Kind: KindBegin, Txn: 3}))
	require.NoError(t, w.Append(Record{Kind: KindCreateEntity, Txn: 3, EntityID: 300, Collection: "Users"}))
	require.NoError(t, w.Sync())

	require.NoError(t, w.Close())

	result, err := Recover(dir)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.EqualValues(t, 100, result.Records[0].EntityID)
	assert.EqualValues(t, 3, result.MaxTxnID)
}

func TestRecoverOnMissingFileReturnsEmptyResult(t *testing.T) {
	dir := t.TempDir()
	result, err := Recover(dir)
	require.NoError(t, err)
	assert.Empty(t, result.Records)
}

func TestOpenRejectsForeignHeader(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Reopening the same, valid file should succeed.
	w2, err := Open(dir, 0)
	require.NoError(t, err)
	require.NoError(t, w2.Close())

	// A file whose first 16 bytes are not a WAL header is rejected.
	foreign := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(foreign, "wal.log"), []byte("not a deedb wal!"), 0o644))
	_, err = Open(foreign, 0)
	assert.ErrorIs(t, err, ErrBadHeader)
}
