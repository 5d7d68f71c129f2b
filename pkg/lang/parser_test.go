package lang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deedb/deedb/pkg/mvcc"
)

func TestParseSimpleSelect(t *testing.T) {
	stmt, err := Parse("FROM Users WHERE age > 18 SELECT name, age")
	require.NoError(t, err)
	sel, ok := stmt.(*SelectStmt)
	require.True(t, ok)
	assert.Equal(t, "Users", sel.Collection)
	require.NotNil(t, sel.Where)
	require.Len(t, sel.Projection, 2)

	bin, ok := sel.Where.(*BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, ">", bin.Op)
}

func TestParseSelectWithAliasAndOrderLimit(t *testing.T) {
	stmt, err := Parse("FROM Users u SELECT u.name ORDER BY u.name DESC LIMIT 10 OFFSET 5")
	require.NoError(t, err)
	sel := stmt.(*SelectStmt)
	assert.Equal(t, "u", sel.Alias)
	require.Len(t, sel.OrderBy, 1)
	assert.False(t, sel.OrderBy[0].Asc)
	require.NotNil(t, sel.Limit)
	assert.Equal(t, 10, *sel.Limit)
	require.NotNil(t, sel.Offset)
	assert.Equal(t, 5, *sel.Offset)
}

func TestParseTraverseOutgoingWithTypeAndRange(t *testing.T) {
	stmt, err := Parse("FROM Users u TRAVERSE -[:FOLLOWS*1..3]->friend SELECT friend.name")
	require.NoError(t, err)
	sel := stmt.(*SelectStmt)
	require.Len(t, sel.Traverses, 1)
	pat := sel.Traverses[0]
	assert.Equal(t, DirOut, pat.Dir)
	assert.Equal(t, "FOLLOWS", pat.EdgeType)
	assert.Equal(t, 1, pat.MinHops)
	assert.Equal(t, 3, pat.MaxHops)
	assert.Equal(t, "friend", pat.TargetAs)
}

func TestParseTraverseIncoming(t *testing.T) {
	stmt, err := Parse("FROM Users TRAVERSE <-[:OWNS]- SELECT name")
	require.NoError(t, err)
	sel := stmt.(*SelectStmt)
	require.Len(t, sel.Traverses, 1)
	assert.Equal(t, DirIn, sel.Traverses[0].Dir)
}

func TestParseTraverseBothDirectionsBareStar(t *testing.T) {
	stmt, err := Parse("FROM Users TRAVERSE <-[*]-> SELECT name")
	require.NoError(t, err)
	sel := stmt.(*SelectStmt)
	pat := sel.Traverses[0]
	assert.Equal(t, DirBoth, pat.Dir)
	assert.Equal(t, 1, pat.MinHops)
	assert.Equal(t, 0, pat.MaxHops) // unbounded, executor clamps
}

func TestParseGroupByHaving(t *testing.T) {
	stmt, err := Parse("FROM Orders SELECT customer, COUNT(*) GROUP BY customer HAVING COUNT(*) > 5")
	require.NoError(t, err)
	sel := stmt.(*SelectStmt)
	require.Len(t, sel.GroupBy, 1)
	require.NotNil(t, sel.Having)
	call, ok := sel.Projection[1].Expr.(*CallExpr)
	require.True(t, ok)
	assert.Equal(t, "COUNT", call.Name)
	assert.True(t, call.Star)
}

func TestParseInsert(t *testing.T) {
	stmt, err := Parse(`INSERT INTO Users VALUES ({name: 'Alice', age: 30})`)
	require.NoError(t, err)
	ins := stmt.(*InsertStmt)
	assert.Equal(t, "Users", ins.Collection)
	require.Len(t, ins.Values, 2)
	assert.Equal(t, "name", ins.Values[0].Key)
	lit := ins.Values[0].Value.(*Literal)
	assert.Equal(t, "Alice", lit.Value)
}

func TestParseUpdate(t *testing.T) {
	stmt, err := Parse("UPDATE Users SET age = 31, active = TRUE WHERE name = 'Alice'")
	require.NoError(t, err)
	upd := stmt.(*UpdateStmt)
	require.Len(t, upd.Assigns, 2)
	assert.Equal(t, "age", upd.Assigns[0].Field)
	require.NotNil(t, upd.Where)
}

func TestParseDelete(t *testing.T) {
	stmt, err := Parse("DELETE FROM Users WHERE age < 18")
	require.NoError(t, err)
	del := stmt.(*DeleteStmt)
	assert.Equal(t, "Users", del.Collection)
	require.NotNil(t, del.Where)
}

func TestParseCreateEdge(t *testing.T) {
	stmt, err := Parse(`CREATE (a)-[:FOLLOWS]->(b) {since: 2020}`)
	require.NoError(t, err)
	ce := stmt.(*CreateEdgeStmt)
	assert.Equal(t, "FOLLOWS", ce.Type)
	require.Len(t, ce.Properties, 1)
	assert.Equal(t, "since", ce.Properties[0].Key)
}

func TestParseBeginDefaultsToReadCommitted(t *testing.T) {
	stmt, err := Parse("BEGIN")
	require.NoError(t, err)
	b := stmt.(*BeginStmt)
	assert.Equal(t, mvcc.ReadCommitted, b.Isolation)
}

func TestParseBeginWithIsolationLevel(t *testing.T) {
	stmt, err := Parse("BEGIN TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	require.NoError(t, err)
	b := stmt.(*BeginStmt)
	assert.Equal(t, mvcc.Serializable, b.Isolation)
}

func TestParseCommitAndRollback(t *testing.T) {
	stmt, err := Parse("COMMIT")
	require.NoError(t, err)
	_, ok := stmt.(*CommitStmt)
	assert.True(t, ok)

	stmt, err = Parse("ROLLBACK")
	require.NoError(t, err)
	_, ok = stmt.(*RollbackStmt)
	assert.True(t, ok)
}

func TestParseCreateUniqueIndex(t *testing.T) {
	stmt, err := Parse("CREATE UNIQUE INDEX idx_email ON Users(email)")
	require.NoError(t, err)
	ci := stmt.(*CreateIndexStmt)
	assert.Equal(t, "idx_email", ci.Name)
	assert.Equal(t, "Users", ci.Collection)
	assert.Equal(t, "email", ci.Field)
	assert.True(t, ci.Unique)
}

func TestParseDropIndex(t *testing.T) {
	stmt, err := Parse("DROP INDEX idx_email")
	require.NoError(t, err)
	di := stmt.(*DropIndexStmt)
	assert.Equal(t, "idx_email", di.Name)
}

func TestParseExpressionPrecedence(t *testing.T) {
	stmt, err := Parse("FROM T WHERE a = 1 AND b = 2 OR NOT c = 3 SELECT a")
	require.NoError(t, err)
	sel := stmt.(*SelectStmt)
	top, ok := sel.Where.(*BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "OR", top.Op)
	left, ok := top.Left.(*BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "AND", left.Op)
	_, ok = top.Right.(*UnaryExpr)
	assert.True(t, ok)
}

func TestParseArithmeticPrecedence(t *testing.T) {
	stmt, err := Parse("FROM T WHERE a = 1 + 2 * 3 SELECT a")
	require.NoError(t, err)
	sel := stmt.(*SelectStmt)
	cmp := sel.Where.(*BinaryExpr)
	add := cmp.Right.(*BinaryExpr)
	assert.Equal(t, "+", add.Op)
	mul := add.Right.(*BinaryExpr)
	assert.Equal(t, "*", mul.Op)
}

func TestParseUnexpectedTrailingInputErrors(t *testing.T) {
	_, err := Parse("COMMIT COMMIT")
	assert.Error(t, err)
}

func TestParseInvalidTraverseArrowCombinationErrors(t *testing.T) {
	_, err := Parse("FROM Users TRAVERSE -[:FOLLOWS]- SELECT name")
	assert.Error(t, err)
}
