package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deedb/deedb/pkg/config"
)

func testConfig(t *testing.T, walDir string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.WAL.Dir = walDir
	cfg.Snapshot.Dir = t.TempDir()
	cfg.Score.EvaporateInterval = 0 // no background tick during tests
	return cfg
}

func TestOpenAndInsertThenSelect(t *testing.T) {
	db, err := Open(testConfig(t, t.TempDir()))
	require.NoError(t, err)
	defer db.Close()

	sess, err := db.Acquire(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.Query(context.Background(), `INSERT INTO Users VALUES ({name: 'Alice', age: 30})`)
	require.NoError(t, err)

	res, err := sess.Query(context.Background(), "FROM Users SELECT name, age")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(30), mustInt(t, res.Rows[0]["age"]))
}

func TestReopenRecoversFromWAL(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)

	db, err := Open(cfg)
	require.NoError(t, err)
	sess, err := db.Acquire(context.Background())
	require.NoError(t, err)
	_, err = sess.Query(context.Background(), `INSERT INTO Users VALUES ({name: 'Bob', age: 40})`)
	require.NoError(t, err)
	require.NoError(t, sess.Close())
	require.NoError(t, db.Close())

	db2, err := Open(cfg)
	require.NoError(t, err)
	defer db2.Close()
	sess2, err := db2.Acquire(context.Background())
	require.NoError(t, err)
	defer sess2.Close()

	res, err := sess2.Query(context.Background(), "FROM Users SELECT name")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
}

func TestStatsReportsCountsAndTxnCounters(t *testing.T) {
	db, err := Open(testConfig(t, t.TempDir()))
	require.NoError(t, err)
	defer db.Close()

	sess, err := db.Acquire(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.Query(context.Background(), `INSERT INTO Users VALUES ({name: 'Alice'})`)
	require.NoError(t, err)

	st := db.Stats()
	assert.Equal(t, 1, st.Store.EntityCount)
	assert.EqualValues(t, 1, st.Txns.Committed)
}

func TestSessionCloseRejectsOpenTransaction(t *testing.T) {
	db, err := Open(testConfig(t, t.TempDir()))
	require.NoError(t, err)
	defer db.Close()

	sess, err := db.Acquire(context.Background())
	require.NoError(t, err)

	_, err = sess.Query(context.Background(), "BEGIN")
	require.NoError(t, err)
	assert.True(t, sess.InTransaction())

	err = sess.Close()
	assert.ErrorIs(t, err, ErrSessionHasOpenTransaction)

	_, err = sess.Query(context.Background(), "ROLLBACK")
	require.NoError(t, err)
	assert.NoError(t, sess.Close())
}

func mustInt(t *testing.T, v interface{ AsInt() (int64, bool) }) int64 {
	t.Helper()
	n, ok := v.AsInt()
	require.True(t, ok)
	return n
}
