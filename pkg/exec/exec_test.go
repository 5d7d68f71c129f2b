package exec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deedb/deedb/pkg/index"
	"github.com/deedb/deedb/pkg/mvcc"
	"github.com/deedb/deedb/pkg/optimizer"
	"github.com/deedb/deedb/pkg/store"
	"github.com/deedb/deedb/pkg/txn"
)

func newTestEngine() *Engine {
	s := store.New()
	m := mvcc.New(s)
	t := txn.NewManager(0)
	idx := index.NewManager()
	opt := optimizer.NewManager(idx, 64)
	return New(s, m, t, idx, nil, opt)
}

func mustExec(t *testing.T, e *Engine, cur *txn.Txn, q string) (*Result, *txn.Txn) {
	t.Helper()
	res, next, err := e.Execute(context.Background(), cur, q)
	require.NoError(t, err, "query: %s", q)
	return res, next
}

func TestInsertThenSelectAutoCommit(t *testing.T) {
	e := newTestEngine()
	_, cur := mustExec(t, e, nil, `INSERT INTO Users VALUES ({name: 'Alice', age: 30})`)
	assert.Nil(t, cur)

	res, cur := mustExec(t, e, nil, "FROM Users SELECT name, age")
	assert.Nil(t, cur)
	require.Len(t, res.Rows, 1)
	name, _ := res.Rows[0]["name"].AsString()
	assert.Equal(t, "Alice", name)
	age, _ := res.Rows[0]["age"].AsInt()
	assert.EqualValues(t, 30, age)
}

func TestSelectWithWhereFilter(t *testing.T) {
	e := newTestEngine()
	mustExec(t, e, nil, `INSERT INTO Users VALUES ({name: 'Alice', age: 30})`)
	mustExec(t, e, nil, `INSERT INTO Users VALUES ({name: 'Bob', age: 17})`)

	res, _ := mustExec(t, e, nil, "FROM Users WHERE age > 18 SELECT name")
	require.Len(t, res.Rows, 1)
	name, _ := res.Rows[0]["name"].AsString()
	assert.Equal(t, "Alice", name)
}

func TestUpdateAppliesToMatchingRows(t *testing.T) {
	e := newTestEngine()
	mustExec(t, e, nil, `INSERT INTO Users VALUES ({name: 'Alice', age: 30})`)

	res, _ := mustExec(t, e, nil, "UPDATE Users SET age = 31 WHERE name = 'Alice'")
	assert.Equal(t, 1, res.RowsAffected)

	sel, _ := mustExec(t, e, nil, "FROM Users SELECT age")
	age, _ := sel.Rows[0]["age"].AsInt()
	assert.EqualValues(t, 31, age)
}

func TestDeleteCascadesIncidentEdges(t *testing.T) {
	e := newTestEngine()
	mustExec(t, e, nil, `INSERT INTO Users VALUES ({name: 'Alice'})`)
	mustExec(t, e, nil, `INSERT INTO Users VALUES ({name: 'Bob'})`)
	_, _, err := e.Execute(context.Background(), nil, "CREATE (1)-[:FOLLOWS]->(2) {since: 2020}")
	require.NoError(t, err)

	_, cur := mustExec(t, e, nil, "DELETE FROM Users WHERE name = 'Alice'")
	assert.Nil(t, cur)

	neighbors := e.Store.GetOutgoingNeighbors(1, "")
	assert.Empty(t, neighbors)
}

func TestCreateEdgeAndTraverse(t *testing.T) {
	e := newTestEngine()
	mustExec(t, e, nil, `INSERT INTO Users VALUES ({name: 'Alice'})`)
	mustExec(t, e, nil, `INSERT INTO Users VALUES ({name: 'Bob'})`)
	_, _, err := e.Execute(context.Background(), nil, "CREATE (1)-[:FOLLOWS]->(2) {since: 2020}")
	require.NoError(t, err)

	res, _ := mustExec(t, e, nil, "FROM Users TRAVERSE -[:FOLLOWS]->friend SELECT friend.name")
	require.Len(t, res.Rows, 1)
	name, _ := res.Rows[0]["name"].AsString()
	assert.Equal(t, "Bob", name)
}

func TestExplicitTransactionCommit(t *testing.T) {
	e := newTestEngine()
	_, cur := mustExec(t, e, nil, "BEGIN")
	require.NotNil(t, cur)

	_, cur = mustExec(t, e, cur, `INSERT INTO Users VALUES ({name: 'Carol'})`)
	require.NotNil(t, cur)

	_, cur = mustExec(t, e, cur, "COMMIT")
	assert.Nil(t, cur)

	res, _ := mustExec(t, e, nil, "FROM Users SELECT name")
	require.Len(t, res.Rows, 1)
}

func TestExplicitTransactionRollbackUndoesWrites(t *testing.T) {
	e := newTestEngine()
	_, cur := mustExec(t, e, nil, "BEGIN")
	_, cur = mustExec(t, e, cur, `INSERT INTO Users VALUES ({name: 'Dave'})`)

	_, _, err := e.Execute(context.Background(), cur, "ROLLBACK")
	require.NoError(t, err)

	res, _ := mustExec(t, e, nil, "FROM Users SELECT name")
	assert.Empty(t, res.Rows)
}

func TestCommitWithoutBeginErrors(t *testing.T) {
	e := newTestEngine()
	_, _, err := e.Execute(context.Background(), nil, "COMMIT")
	assert.ErrorIs(t, err, ErrNoActiveTransaction)
}

func TestGroupByWithHavingAndAggregate(t *testing.T) {
	e := newTestEngine()
	mustExec(t, e, nil, `INSERT INTO Orders VALUES ({customer: 'Alice', total: 10})`)
	mustExec(t, e, nil, `INSERT INTO Orders VALUES ({customer: 'Alice', total: 20})`)
	mustExec(t, e, nil, `INSERT INTO Orders VALUES ({customer: 'Bob', total: 5})`)

	res, _ := mustExec(t, e, nil, "FROM Orders SELECT customer, COUNT(*) GROUP BY customer HAVING COUNT(*) > 1")
	require.Len(t, res.Rows, 1)
	cust, _ := res.Rows[0]["customer"].AsString()
	assert.Equal(t, "Alice", cust)
	cnt, _ := res.Rows[0]["COUNT(*)"].AsInt()
	assert.EqualValues(t, 2, cnt)
}

func TestBareAggregateWithoutGroupByReturnsOneRow(t *testing.T) {
	e := newTestEngine()
	mustExec(t, e, nil, `INSERT INTO Orders VALUES ({customer: 'Alice', total: 10})`)
	mustExec(t, e, nil, `INSERT INTO Orders VALUES ({customer: 'Alice', total: 20})`)
	mustExec(t, e, nil, `INSERT INTO Orders VALUES ({customer: 'Bob', total: 5})`)

	res, _ := mustExec(t, e, nil, "FROM Orders SELECT COUNT(*)")
	require.Len(t, res.Rows, 1)
	cnt, _ := res.Rows[0]["COUNT(*)"].AsInt()
	assert.EqualValues(t, 3, cnt)
}

func TestBareAggregateOverEmptyInputReturnsSingleZeroRow(t *testing.T) {
	e := newTestEngine()
	mustExec(t, e, nil, `INSERT INTO Orders VALUES ({customer: 'Alice', total: 10})`)

	res, _ := mustExec(t, e, nil, "FROM Orders WHERE customer = 'Nobody' SELECT COUNT(*)")
	require.Len(t, res.Rows, 1)
	cnt, _ := res.Rows[0]["COUNT(*)"].AsInt()
	assert.EqualValues(t, 0, cnt)
}

func TestOrderByLimitOffset(t *testing.T) {
	e := newTestEngine()
	mustExec(t, e, nil, `INSERT INTO Users VALUES ({name: 'Carl', age: 40})`)
	mustExec(t, e, nil, `INSERT INTO Users VALUES ({name: 'Alice', age: 30})`)
	mustExec(t, e, nil, `INSERT INTO Users VALUES ({name: 'Bob', age: 35})`)

	res, _ := mustExec(t, e, nil, "FROM Users u SELECT u.name ORDER BY u.age DESC LIMIT 1 OFFSET 1")
	require.Len(t, res.Rows, 1)
	name, _ := res.Rows[0]["name"].AsString()
	assert.Equal(t, "Bob", name)
}

func TestExplicitTransactionFailedStatementRequiresRollback(t *testing.T) {
	e := newTestEngine()
	_, _, err := e.Execute(context.Background(), nil, "CREATE UNIQUE INDEX idx_email ON Users(email)")
	require.NoError(t, err)
	mustExec(t, e, nil, `INSERT INTO Users VALUES ({email: 'a@x.com'})`)

	_, cur := mustExec(t, e, nil, "BEGIN")
	_, cur, err = e.Execute(context.Background(), cur, `INSERT INTO Users VALUES ({email: 'a@x.com'})`)
	require.ErrorIs(t, err, index.ErrUniqueViolation)
	require.NotNil(t, cur, "transaction should stay open, marked Failed")

	_, cur, err = e.Execute(context.Background(), cur, `INSERT INTO Users VALUES ({email: 'b@x.com'})`)
	assert.ErrorIs(t, err, ErrTransactionAborted)
	require.NotNil(t, cur)

	_, cur, err = e.Execute(context.Background(), cur, "ROLLBACK")
	require.NoError(t, err)
	assert.Nil(t, cur)

	res, _ := mustExec(t, e, nil, "FROM Users SELECT email")
	require.Len(t, res.Rows, 1)
	email, _ := res.Rows[0]["email"].AsString()
	assert.Equal(t, "a@x.com", email)
}

func TestCreateIndexThenUniqueViolation(t *testing.T) {
	e := newTestEngine()
	_, _, err := e.Execute(context.Background(), nil, "CREATE UNIQUE INDEX idx_email ON Users(email)")
	require.NoError(t, err)

	mustExec(t, e, nil, `INSERT INTO Users VALUES ({email: 'a@x.com'})`)
	_, _, err = e.Execute(context.Background(), nil, `INSERT INTO Users VALUES ({email: 'a@x.com'})`)
	assert.ErrorIs(t, err, index.ErrUniqueViolation)
}
