package lang

import "github.com/deedb/deedb/pkg/mvcc"

// Statement is the marker interface every top-level query shape
// implements, mirroring pkg/cypher/parser.go's marker-interface AST.
type Statement interface{ isStatement() }

// Expr is the marker interface for expression nodes.
type Expr interface{ isExpr() }

// Direction is a traversal arrow.
type Direction int

const (
	DirOut Direction = iota // ->
	DirIn                   // <-
	DirBoth                 // <->
)

// SelectStmt is a FROM/TRAVERSE/WHERE/SELECT/GROUP BY/HAVING/ORDER BY/
// LIMIT/OFFSET query.
type SelectStmt struct {
	Collection string
	Alias      string
	Traverses  []TraversePattern
	Where      Expr
	Projection []ProjectItem
	GroupBy    []Expr
	Having     Expr
	OrderBy    []OrderItem
	Limit      *int
	Offset     *int
}

func (*SelectStmt) isStatement() {}

// TraversePattern is one comma-separated element of a TRAVERSE clause.
type TraversePattern struct {
	Dir       Direction
	EdgeType  string // "" means any type
	MinHops   int
	MaxHops   int // 0 means unbounded (clamped by the executor)
	TargetAs  string
}

// ProjectItem is one SELECT projection entry.
type ProjectItem struct {
	Expr  Expr
	Alias string
}

// OrderItem is one ORDER BY entry.
type OrderItem struct {
	Expr Expr
	Asc  bool
}

// InsertStmt is an INSERT INTO ... VALUES statement.
type InsertStmt struct {
	Collection string
	Values     []KV
}

func (*InsertStmt) isStatement() {}

// KV is one key:value pair in a VALUES or edge-property literal.
type KV struct {
	Key   string
	Value Expr
}

// UpdateStmt is an UPDATE ... SET ... [WHERE ...] statement.
type UpdateStmt struct {
	Collection string
	Assigns    []Assign
	Where      Expr
}

func (*UpdateStmt) isStatement() {}

// Assign is one SET field = expr entry.
type Assign struct {
	Field string
	Value Expr
}

// DeleteStmt is a DELETE FROM ... [WHERE ...] statement.
type DeleteStmt struct {
	Collection string
	Where      Expr
}

func (*DeleteStmt) isStatement() {}

// CreateEdgeStmt is a CREATE (expr)-[:TYPE]->(expr) {props} statement.
type CreateEdgeStmt struct {
	Source     Expr
	Target     Expr
	Type       string
	Properties []KV
}

func (*CreateEdgeStmt) isStatement() {}

// BeginStmt starts a transaction, optionally naming an isolation level.
type BeginStmt struct {
	Isolation mvcc.Isolation
}

func (*BeginStmt) isStatement() {}

// CommitStmt ends the current transaction, applying its changes.
type CommitStmt struct{}

func (*CommitStmt) isStatement() {}

// RollbackStmt discards the current transaction's changes.
type RollbackStmt struct{}

func (*RollbackStmt) isStatement() {}

// CreateIndexStmt is a CREATE [UNIQUE] INDEX name ON collection(field).
type CreateIndexStmt struct {
	Name       string
	Collection string
	Field      string
	Unique     bool
}

func (*CreateIndexStmt) isStatement() {}

// DropIndexStmt is a DROP INDEX name.
type DropIndexStmt struct{ Name string }

func (*DropIndexStmt) isStatement() {}

// --- expressions ---

// Literal is a constant value: nil, bool, int64, float64, or string.
type Literal struct{ Value interface{} }

func (*Literal) isExpr() {}

// PropertyRef is an (optional alias.)field reference.
type PropertyRef struct {
	Alias string // "" means unqualified / current binding
	Field string
}

func (*PropertyRef) isExpr() {}

// BinaryExpr is a binary operator application: comparison, boolean, or
// arithmetic.
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

func (*BinaryExpr) isExpr() {}

// UnaryExpr is NOT or unary minus.
type UnaryExpr struct {
	Op      string
	Operand Expr
}

func (*UnaryExpr) isExpr() {}

// CallExpr is an aggregate or scalar function call: FN(args) or FN(*).
type CallExpr struct {
	Name string
	Args []Expr
	Star bool
}

func (*CallExpr) isExpr() {}
