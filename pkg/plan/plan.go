// Package plan builds the operator IR of §4.H from a pkg/lang AST. A Plan
// is a flat, ordered pipeline of Operators — the grammar this front end
// supports has no multi-source JOIN syntax, so the builder never needs a
// tree; pkg/exec simply consumes Ops in order, which is exactly how §4.J
// describes execution ("Operators are consumed in order").
package plan

import (
	"fmt"
	"math"

	"github.com/deedb/deedb/pkg/lang"
)

// Stats is the planning-time cardinality estimate the cost model needs:
// current entity count and edge/entity fan-out ratio (§4.H).
type Stats struct {
	N float64
	D float64 // edges/entities, floored at 2 by NewStats
}

// NewStats builds a Stats from raw entity/edge counts, applying §4.H's
// "d = edges/entities (min 2)" floor.
func NewStats(entityCount, edgeCount int) Stats {
	n := float64(entityCount)
	d := 2.0
	if n > 0 {
		d = float64(edgeCount) / n
		if d < 2 {
			d = 2
		}
	}
	return Stats{N: n, D: d}
}

// Operator is one IR node. Cost returns the estimated relative cost of
// running this operator against the given Stats, per §4.H's cost table.
type Operator interface {
	Cost(Stats) float64
	opMarker()
}

// Plan is an ordered operator pipeline.
type Plan struct {
	Ops []Operator
}

// TotalCost sums every operator's estimated cost, the figure the
// optimizer's rewrite rules and plan cache compare across alternatives.
func (p *Plan) TotalCost(stats Stats) float64 {
	var total float64
	for _, op := range p.Ops {
		total += op.Cost(stats)
	}
	return total
}

func log2(n float64) float64 {
	if n < 1 {
		return 0
	}
	return math.Log2(n)
}

// Scan reads a whole collection, optionally applying Filter per row.
type Scan struct {
	Collection string
	Alias      string
	Filter     lang.Expr
}

func (*Scan) opMarker()            {}
func (*Scan) Cost(s Stats) float64 { return s.N }

// IndexLookup resolves entity ids via a secondary index instead of a full
// scan. Key is the expression an index-promotion rewrite or a direct
// equality WHERE clause supplies as the lookup value.
type IndexLookup struct {
	Collection string
	Alias      string
	IndexName  string
	Key        lang.Expr
}

func (*IndexLookup) opMarker()            {}
func (*IndexLookup) Cost(s Stats) float64 { return log2(s.N) }

// Traverse walks typed edges from every entity in SourceBinding, BFS up to
// MaxHops, installing reached entities under TargetAlias.
type Traverse struct {
	SourceBinding string
	Dir           lang.Direction
	EdgeType      string // "" means any type
	TargetAlias   string
	MinHops       int
	MaxHops       int // 0 means unbounded, clamped by the executor
	Filter        lang.Expr
}

func (*Traverse) opMarker() {}
func (t *Traverse) Cost(s Stats) float64 {
	min, max := t.MinHops, t.MaxHops
	if max == 0 {
		max = maxTraverseHops
	}
	exp := float64(min+max) / 2.0
	return math.Pow(s.D, exp)
}

// maxTraverseHops is the internal clamp for an unbounded (bare "*")
// variable-length traversal, per §4.G.
const maxTraverseHops = 16

// Filter retains entities in Binding matching Predicate.
type Filter struct {
	Binding   string
	Predicate lang.Expr
}

func (*Filter) opMarker()            {}
func (*Filter) Cost(s Stats) float64 { return 0.5 * s.N }

// Project evaluates each projection item into a new result row.
type Project struct {
	Items []lang.ProjectItem
}

func (*Project) opMarker()            {}
func (*Project) Cost(s Stats) float64 { return 0.1 * s.N }

// Sort stably orders result rows by Items.
type Sort struct {
	Items []lang.OrderItem
}

func (*Sort) opMarker()            {}
func (*Sort) Cost(s Stats) float64 { return s.N * log2(s.N) }

// Limit truncates the result rows to Count.
type Limit struct{ Count int }

func (*Limit) opMarker()            {}
func (*Limit) Cost(Stats) float64 { return 1 }

// Skip drops the first Count result rows.
type Skip struct{ Count int }

func (*Skip) opMarker()            {}
func (*Skip) Cost(Stats) float64 { return 1 }

// Join combines two bindings by Predicate. The current grammar has no
// multi-source FROM syntax that would produce one directly; it exists in
// the IR for the optimizer's join-reorder rule and for any future
// multi-collection statement shape.
type Join struct {
	LeftBinding  string
	RightBinding string
	Predicate    lang.Expr
}

func (*Join) opMarker()            {}
func (*Join) Cost(s Stats) float64 { return s.N * s.N }

// GroupBy partitions rows by GroupExprs and folds AggExprs per partition.
type GroupBy struct {
	GroupExprs []lang.Expr
	AggExprs   []lang.ProjectItem
}

func (*GroupBy) opMarker()            {}
func (*GroupBy) Cost(s Stats) float64 { return s.N * log2(s.N) }

// Having filters already-aggregated rows.
type Having struct{ Predicate lang.Expr }

func (*Having) opMarker()            {}
func (*Having) Cost(s Stats) float64 { return 0.1 * s.N }

// InsertEntity creates one entity from literal Values.
type InsertEntity struct {
	Collection string
	Values     []lang.KV
}

func (*InsertEntity) opMarker()        {}
func (*InsertEntity) Cost(Stats) float64 { return 10 }

// UpdateEntities applies Assigns to every entity in Binding.
type UpdateEntities struct {
	Binding string
	Assigns []lang.Assign
}

func (*UpdateEntities) opMarker()        {}
func (*UpdateEntities) Cost(Stats) float64 { return 20 }

// DeleteEntities removes every entity in Binding, transitively deleting
// their edges.
type DeleteEntities struct{ Binding string }

func (*DeleteEntities) opMarker()        {}
func (*DeleteEntities) Cost(Stats) float64 { return 15 }

// CreateEdge installs a typed edge between the entities Source and Target
// evaluate to.
type CreateEdge struct {
	Source     lang.Expr
	Target     lang.Expr
	Type       string
	Properties []lang.KV
}

func (*CreateEdge) opMarker()        {}
func (*CreateEdge) Cost(Stats) float64 { return 12 }

// Build compiles one data-manipulating statement (SELECT/INSERT/UPDATE/
// DELETE/CREATE-edge) into a Plan, per §4.H's building rules. BEGIN,
// COMMIT, ROLLBACK, CREATE INDEX, and DROP INDEX are control statements
// with no data-flow shape; pkg/exec dispatches them directly rather than
// calling Build.
func Build(stmt lang.Statement, stats Stats) (*Plan, error) {
	switch s := stmt.(type) {
	case *lang.SelectStmt:
		return buildSelect(s)
	case *lang.InsertStmt:
		return &Plan{Ops: []Operator{&InsertEntity{Collection: s.Collection, Values: s.Values}}}, nil
	case *lang.UpdateStmt:
		return buildUpdate(s)
	case *lang.DeleteStmt:
		return buildDelete(s)
	case *lang.CreateEdgeStmt:
		return &Plan{Ops: []Operator{&CreateEdge{Source: s.Source, Target: s.Target, Type: s.Type, Properties: s.Properties}}}, nil
	default:
		return nil, fmt.Errorf("plan: %T is not a data-manipulating statement", stmt)
	}
}

func buildSelect(s *lang.SelectStmt) (*Plan, error) {
	var ops []Operator

	alias := s.Alias
	if alias == "" {
		alias = s.Collection
	}

	fuseIntoScan := s.Where == nil || !whereNeedsPostTraverse(s.Where, s.Traverses)
	scan := &Scan{Collection: s.Collection, Alias: alias}
	if fuseIntoScan {
		scan.Filter = s.Where
	}
	ops = append(ops, scan)

	for _, pat := range s.Traverses {
		src := alias
		ops = append(ops, &Traverse{
			SourceBinding: src,
			Dir:           pat.Dir,
			EdgeType:      pat.EdgeType,
			TargetAlias:   pat.TargetAs,
			MinHops:       pat.MinHops,
			MaxHops:       pat.MaxHops,
		})
	}

	if !fuseIntoScan {
		ops = append(ops, &Filter{Binding: alias, Predicate: s.Where})
	}

	var aggs []lang.ProjectItem
	for _, item := range s.Projection {
		if _, ok := item.Expr.(*lang.CallExpr); ok {
			aggs = append(aggs, item)
		}
	}
	if len(s.GroupBy) > 0 || len(aggs) > 0 {
		// A bare aggregate projection with no explicit GROUP BY still gets
		// a GroupBy operator with zero GroupExprs, so runGroupBy's bucket
		// logic folds every row into the one implicit group instead of
		// skipping straight to Project with nothing to resolve the
		// aggregate CallExprs against. This is what makes `SELECT COUNT(*)`
		// with no GROUP BY return a single (0) row over empty input rather
		// than erroring or returning zero rows.
		ops = append(ops, &GroupBy{GroupExprs: s.GroupBy, AggExprs: aggs})
	}

	if s.Having != nil {
		ops = append(ops, &Having{Predicate: s.Having})
	}

	ops = append(ops, &Project{Items: s.Projection})

	if len(s.OrderBy) > 0 {
		ops = append(ops, &Sort{Items: s.OrderBy})
	}
	if s.Offset != nil {
		ops = append(ops, &Skip{Count: *s.Offset})
	}
	if s.Limit != nil {
		ops = append(ops, &Limit{Count: *s.Limit})
	}

	return &Plan{Ops: ops}, nil
}

func buildUpdate(s *lang.UpdateStmt) (*Plan, error) {
	ops := []Operator{
		&Scan{Collection: s.Collection, Alias: s.Collection, Filter: s.Where},
		&UpdateEntities{Binding: s.Collection, Assigns: s.Assigns},
	}
	return &Plan{Ops: ops}, nil
}

func buildDelete(s *lang.DeleteStmt) (*Plan, error) {
	ops := []Operator{
		&Scan{Collection: s.Collection, Alias: s.Collection, Filter: s.Where},
		&DeleteEntities{Binding: s.Collection},
	}
	return &Plan{Ops: ops}, nil
}

// whereNeedsPostTraverse reports whether expr references a binding only
// produced by one of the traverse patterns (i.e. a TargetAs alias), which
// means it cannot be fused into the leading Scan and must run as a
// separate Filter placed after the traversal chain.
func whereNeedsPostTraverse(expr lang.Expr, traverses []lang.TraversePattern) bool {
	if len(traverses) == 0 {
		return false
	}
	targets := make(map[string]bool, len(traverses))
	for _, t := range traverses {
		if t.TargetAs != "" {
			targets[t.TargetAs] = true
		}
	}
	return exprReferencesAlias(expr, targets)
}

func exprReferencesAlias(expr lang.Expr, aliases map[string]bool) bool {
	switch e := expr.(type) {
	case *lang.PropertyRef:
		return aliases[e.Alias]
	case *lang.BinaryExpr:
		return exprReferencesAlias(e.Left, aliases) || exprReferencesAlias(e.Right, aliases)
	case *lang.UnaryExpr:
		return exprReferencesAlias(e.Operand, aliases)
	case *lang.CallExpr:
		for _, arg := range e.Args {
			if exprReferencesAlias(arg, aliases) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
