package session

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSampleData(t *testing.T, db *DB) {
	t.Helper()
	sess, err := db.Acquire(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.Query(context.Background(), `INSERT INTO Users VALUES ({name: 'Alice', age: 30})`)
	require.NoError(t, err)
	res, err := sess.Query(context.Background(), `INSERT INTO Users VALUES ({name: 'Bob', age: 40})`)
	require.NoError(t, err)
	_ = res

	_, err = sess.Query(context.Background(), "CREATE (1)-[:FOLLOWS]->(2) {since: 2020}")
	require.NoError(t, err)
}

func TestFullBackupRoundTrip(t *testing.T) {
	db := newTestDB(t)
	seedSampleData(t, db)

	bm, err := NewBackupManager(t.TempDir(), true)
	require.NoError(t, err)

	meta, err := bm.CreateFullBackup(db)
	require.NoError(t, err)
	assert.Equal(t, BackupFull, meta.Type)
	assert.Equal(t, 2, meta.EntityCount)
	assert.Equal(t, 1, meta.EdgeCount)
	require.NoError(t, bm.VerifyBackup(meta.ID))

	restoreDB := newTestDB(t)
	require.NoError(t, bm.RestoreBackup(restoreDB, meta.ID))

	st := restoreDB.Stats()
	assert.Equal(t, 2, st.Store.EntityCount)
	assert.Equal(t, 1, st.Store.EdgeCount)
}

func TestVerifyBackupDetectsCorruption(t *testing.T) {
	db := newTestDB(t)
	seedSampleData(t, db)

	dir := t.TempDir()
	bm, err := NewBackupManager(dir, false)
	require.NoError(t, err)

	meta, err := bm.CreateFullBackup(db)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(bm.payloadPath(meta.ID), []byte("corrupted"), 0o644))

	err = bm.VerifyBackup(meta.ID)
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	err = bm.RestoreBackup(newTestDB(t), meta.ID)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestListAndDeleteBackups(t *testing.T) {
	db := newTestDB(t)
	seedSampleData(t, db)

	bm, err := NewBackupManager(t.TempDir(), false)
	require.NoError(t, err)

	m1, err := bm.CreateFullBackup(db)
	require.NoError(t, err)
	m2, err := bm.CreateFullBackup(db)
	require.NoError(t, err)

	list, err := bm.ListBackups()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, m2.ID, list[0].ID, "newest backup should come first")

	require.NoError(t, bm.DeleteBackup(m1.ID))
	list, err = bm.ListBackups()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, m2.ID, list[0].ID)
}

func TestVerifyBackupUnknownIDReturnsNotFound(t *testing.T) {
	bm, err := NewBackupManager(t.TempDir(), false)
	require.NoError(t, err)

	err = bm.VerifyBackup("backup_does_not_exist")
	assert.ErrorIs(t, err, ErrBackupNotFound)
}

func TestIncrementalBackupChainsToParent(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	db, err := Open(cfg)
	require.NoError(t, err)
	defer db.Close()
	seedSampleData(t, db)

	bm, err := NewBackupManager(t.TempDir(), false)
	require.NoError(t, err)

	full, err := bm.CreateFullBackup(db)
	require.NoError(t, err)

	sess, err := db.Acquire(context.Background())
	require.NoError(t, err)
	_, err = sess.Query(context.Background(), `INSERT INTO Users VALUES ({name: 'Carol', age: 22})`)
	require.NoError(t, err)
	require.NoError(t, sess.Close())

	incr, err := bm.CreateIncrementalBackup(db, full)
	require.NoError(t, err)
	assert.Equal(t, BackupIncremental, incr.Type)
	assert.Equal(t, full.ID, incr.ParentID)
}
