package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deedb/deedb/pkg/index"
	"github.com/deedb/deedb/pkg/lang"
	"github.com/deedb/deedb/pkg/value"
)

type fakeSource struct{}

func (fakeSource) ScanCollection(string) []index.EntitySnapshot { return nil }

func newTestManager(t *testing.T) (*Manager, *index.Manager) {
	t.Helper()
	idx := index.NewManager()
	require.NoError(t, idx.CreateIndex("idx_users_email", "Users", "email", true, fakeSource{}))
	return NewManager(idx), idx
}

func floatKind() *value.Kind {
	k := value.KindFloat
	return &k
}

func TestRegisterRequiresIndexForUniqueField(t *testing.T) {
	idx := index.NewManager()
	m := NewManager(idx)
	err := m.Register(&Schema{
		Collection: "Users",
		Fields:     []Field{{Name: "email", Unique: true}},
	})
	var v *Violation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "unique", v.Rule)
}

func TestValidateInsertNotNull(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Register(&Schema{
		Collection: "Users",
		Fields:     []Field{{Name: "email", NotNull: true, Unique: true}},
	}))

	err := m.ValidateInsert("Users", map[string]value.Value{"name": value.String("Alice")})
	var v *Violation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "not_null", v.Rule)
	assert.Equal(t, "email", v.Field)
}

func TestValidateInsertTypeWidening(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Register(&Schema{
		Collection: "Users",
		Fields: []Field{
			{Name: "email", NotNull: true, Unique: true},
			{Name: "balance", Type: floatKind()},
		},
	}))

	err := m.ValidateInsert("Users", map[string]value.Value{
		"email":   value.String("a@x.com"),
		"balance": value.Int(10),
	})
	assert.NoError(t, err, "an Int value should widen to satisfy a Float-typed field")
}

func TestValidateInsertTypeMismatch(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Register(&Schema{
		Collection: "Users",
		Fields: []Field{
			{Name: "email", NotNull: true, Unique: true},
			{Name: "balance", Type: floatKind()},
		},
	}))

	err := m.ValidateInsert("Users", map[string]value.Value{
		"email":   value.String("a@x.com"),
		"balance": value.String("not a number"),
	})
	var v *Violation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "type", v.Rule)
}

func TestValidateInsertUniqueViolation(t *testing.T) {
	m, idx := newTestManager(t)
	require.NoError(t, m.Register(&Schema{
		Collection: "Users",
		Fields:     []Field{{Name: "email", NotNull: true, Unique: true}},
	}))
	require.NoError(t, idx.OnInsert("Users", 1, map[string]value.Value{"email": value.String("a@x.com")}))

	err := m.ValidateInsert("Users", map[string]value.Value{"email": value.String("a@x.com")})
	var v *Violation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "unique", v.Rule)
}

func TestValidateInsertCheckExpression(t *testing.T) {
	m, _ := newTestManager(t)
	// CHECK (age >= 18)
	check := &lang.BinaryExpr{Op: ">=", Left: &lang.PropertyRef{Field: "age"}, Right: &lang.Literal{Value: int64(18)}}
	require.NoError(t, m.Register(&Schema{Collection: "Users", Check: check}))

	err := m.ValidateInsert("Users", map[string]value.Value{"age": value.Int(30)})
	assert.NoError(t, err)

	err = m.ValidateInsert("Users", map[string]value.Value{"age": value.Int(10)})
	var v *Violation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "check", v.Rule)
}

func TestValidateUpdateSkipsUniqueCheckWhenUnchanged(t *testing.T) {
	m, idx := newTestManager(t)
	require.NoError(t, m.Register(&Schema{
		Collection: "Users",
		Fields:     []Field{{Name: "email", NotNull: true, Unique: true}},
	}))
	require.NoError(t, idx.OnInsert("Users", 1, map[string]value.Value{"email": value.String("a@x.com")}))

	before := map[string]value.Value{"email": value.String("a@x.com"), "name": value.String("Alice")}
	after := map[string]value.Value{"email": value.String("a@x.com"), "name": value.String("Alicia")}
	err := m.ValidateUpdate("Users", before, after)
	assert.NoError(t, err)
}

func TestDropReturnsCollectionToSchemaless(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Register(&Schema{
		Collection: "Users",
		Fields:     []Field{{Name: "email", NotNull: true, Unique: true}},
	}))
	m.Drop("Users")

	err := m.ValidateInsert("Users", map[string]value.Value{})
	assert.NoError(t, err)
}
