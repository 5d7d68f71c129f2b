package exec

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/deedb/deedb/pkg/lang"
	"github.com/deedb/deedb/pkg/plan"
	"github.com/deedb/deedb/pkg/store"
	"github.com/deedb/deedb/pkg/txn"
	"github.com/deedb/deedb/pkg/value"
	"github.com/deedb/deedb/pkg/wal"
)

// boundEntity is one entity bound to an alias within an in-flight row:
// enough of its transactionally-visible snapshot (collection, properties)
// for predicate evaluation and projection, without re-reading mvcc for
// every field access.
type boundEntity struct {
	ID         value.EntityID
	Collection string
	Properties map[string]value.Value
}

// Binding maps an alias (the FROM alias, or a TRAVERSE pattern's AS name)
// to the entity currently bound to it within one in-flight row.
type Binding map[string]boundEntity

func cloneBinding(b Binding) Binding {
	out := make(Binding, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// execRow is the executor's internal row representation while walking the
// plan's operators: a Binding for every alias reached so far, plus
// Computed — group/aggregate values keyed by exprKey — once a GroupBy
// operator has run. Project and Having consult Computed before falling
// back to evaluating against Binding, so a plain (non-aggregated) query's
// rows work the same way with an always-empty Computed.
type execRow struct {
	Binding  Binding
	Computed map[string]value.Value
}

// execState carries the one piece of plan-wide context an operator needs
// beyond its own fields: the FROM alias, used as the default binding for
// an unqualified PropertyRef (Alias == "") anywhere after a Traverse may
// have introduced other aliases into the row.
type execState struct {
	primaryAlias string
}

func cloneProps(props map[string]value.Value) map[string]value.Value {
	out := make(map[string]value.Value, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ErrCancelled
	default:
		return nil
	}
}

// rowLookup resolves (alias, field) against row's bindings, falling back
// to defaultAlias when alias is unqualified.
func rowLookup(row execRow, defaultAlias string) lookupFunc {
	return func(alias, field string) (value.Value, bool) {
		if alias == "" {
			alias = defaultAlias
		}
		be, ok := row.Binding[alias]
		if !ok {
			return value.Null, false
		}
		v, ok := be.Properties[field]
		return v, ok
	}
}

func flatRowLookup(r Row) lookupFunc {
	return func(_, field string) (value.Value, bool) {
		v, ok := r[field]
		return v, ok
	}
}

func noRowLookup(_, _ string) (value.Value, bool) { return value.Null, false }

// computedLookupExpr evaluates expr against a post-GroupBy row: an exact
// match against an already-computed group key or aggregate short-circuits
// straight to that value, and any compound expression built out of such
// matches (e.g. `COUNT(*) + 1`, or a HAVING clause combining two
// aggregates) recurses structurally instead of re-deriving the aggregate
// from scratch. Anything else — an ordinary field reference in a query
// with no aggregation — falls back to the plain row lookup.
func computedLookupExpr(expr lang.Expr, row execRow, st *execState) (value.Value, error) {
	if row.Computed != nil {
		if v, ok := row.Computed[exprKey(expr)]; ok {
			return v, nil
		}
	}
	switch e := expr.(type) {
	case *lang.BinaryExpr:
		l, err := computedLookupExpr(e.Left, row, st)
		if err != nil {
			return value.Null, err
		}
		r, err := computedLookupExpr(e.Right, row, st)
		if err != nil {
			return value.Null, err
		}
		return applyBinaryOp(e.Op, l, r)
	case *lang.UnaryExpr:
		v, err := computedLookupExpr(e.Operand, row, st)
		if err != nil {
			return value.Null, err
		}
		return applyUnaryOp(e.Op, v)
	default:
		return evalWithLookup(expr, rowLookup(row, st.primaryAlias))
	}
}

// runPlan walks p's operators in order against t, per §4.J. The row shape
// transitions once, at Project: everything before it works with execRow
// (one or more entity bindings per row); everything from Project onward
// works with the flat output Row the caller ultimately receives.
func (e *Engine) runPlan(ctx context.Context, t *txn.Txn, p *plan.Plan) (*Result, error) {
	st := &execState{}
	var rows []execRow
	var outRows []Row
	var columns []string
	projected := false
	result := &Result{}

	for _, op := range p.Ops {
		if err := checkCtx(ctx); err != nil {
			return nil, err
		}
		var err error
		switch o := op.(type) {
		case *plan.Scan:
			if st.primaryAlias == "" {
				st.primaryAlias = o.Alias
			}
			rows, err = e.runScan(t, o)
		case *plan.IndexLookup:
			if st.primaryAlias == "" {
				st.primaryAlias = o.Alias
			}
			rows, err = e.runIndexLookup(t, o)
		case *plan.Traverse:
			rows, err = e.runTraverse(t, o, rows)
		case *plan.Filter:
			rows, err = e.runFilter(rows, o)
		case *plan.GroupBy:
			rows, err = e.runGroupBy(rows, o, st)
		case *plan.Having:
			rows, err = e.runHaving(rows, o, st)
		case *plan.Project:
			outRows, columns, err = e.runProject(rows, o, st)
			projected = true
		case *plan.Sort:
			outRows, err = runSort(outRows, o)
		case *plan.Skip:
			outRows = runSkip(outRows, o)
		case *plan.Limit:
			outRows = runLimit(outRows, o)
		case *plan.Join:
			err = fmt.Errorf("exec: JOIN has no producing statement shape yet")
		case *plan.InsertEntity:
			result, err = e.runInsert(t, o)
		case *plan.UpdateEntities:
			result, err = e.runUpdate(t, rows, o)
		case *plan.DeleteEntities:
			result, err = e.runDelete(t, rows, o)
		case *plan.CreateEdge:
			result, err = e.runCreateEdge(t, o)
		default:
			err = fmt.Errorf("exec: unhandled operator %T", op)
		}
		if err != nil {
			return nil, err
		}
	}

	if projected {
		result.Columns = columns
		result.Rows = outRows
		result.RowsAffected = len(outRows)
	}
	return result, nil
}

func (e *Engine) runScan(t *txn.Txn, o *plan.Scan) ([]execRow, error) {
	ents := e.Store.ScanCollection(o.Collection)
	rows := make([]execRow, 0, len(ents))
	for _, ent := range ents {
		_, props, err := e.MVCC.Read(ent.ID, t.ID, t.Iso)
		if err != nil {
			continue // not visible under this transaction's isolation level
		}
		row := execRow{Binding: Binding{o.Alias: {ID: ent.ID, Collection: o.Collection, Properties: props}}}
		if o.Filter != nil {
			v, err := evalWithLookup(o.Filter, rowLookup(row, o.Alias))
			if err != nil {
				return nil, err
			}
			if b, ok := v.AsBool(); !ok || !b {
				continue
			}
		}
		if err := e.Txns.TrackRead(t, ent.ID); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (e *Engine) runIndexLookup(t *txn.Txn, o *plan.IndexLookup) ([]execRow, error) {
	key, err := evalWithLookup(o.Key, noRowLookup)
	if err != nil {
		return nil, err
	}
	ids, err := e.Index.LookupEq(o.IndexName, key)
	if err != nil {
		return nil, err
	}
	rows := make([]execRow, 0, len(ids))
	for _, id := range ids {
		_, props, err := e.MVCC.Read(id, t.ID, t.Iso)
		if err != nil {
			continue
		}
		if err := e.Txns.TrackRead(t, id); err != nil {
			return nil, err
		}
		rows = append(rows, execRow{Binding: Binding{o.Alias: {ID: id, Collection: o.Collection, Properties: props}}})
	}
	return rows, nil
}

func (e *Engine) neighborsOf(id value.EntityID, dir lang.Direction, edgeType string) []store.Neighbor {
	switch dir {
	case lang.DirOut:
		return e.Store.GetOutgoingNeighbors(id, edgeType)
	case lang.DirIn:
		return e.Store.GetIncomingNeighbors(id, edgeType)
	default:
		out := e.Store.GetOutgoingNeighbors(id, edgeType)
		return append(out, e.Store.GetIncomingNeighbors(id, edgeType)...)
	}
}

// traverseFrom walks up to max hops of typed edges from start, breadth
// first, reinforcing every edge's adaptive score with the latency of
// resolving its far endpoint's visibility (§3, §4.J). Entities already
// visited in this traversal are never revisited, so a cyclic graph
// terminates. Only entities reached at hop >= min are returned.
func (e *Engine) traverseFrom(t *txn.Txn, start value.EntityID, dir lang.Direction, edgeType string, min, max int) []value.EntityID {
	visited := map[value.EntityID]bool{start: true}
	frontier := []value.EntityID{start}
	var results []value.EntityID

	for hop := 1; hop <= max; hop++ {
		var next []value.EntityID
		for _, id := range frontier {
			for _, nb := range e.neighborsOf(id, dir, edgeType) {
				if visited[nb.EntityID] {
					continue
				}
				visited[nb.EntityID] = true
				var visible bool
				dur, _ := latencyOf(func() error {
					_, _, err := e.MVCC.Read(nb.EntityID, t.ID, t.Iso)
					visible = err == nil
					return nil
				})
				e.Store.RecordTraversal(nb.EdgeID, dur)
				if !visible {
					continue
				}
				next = append(next, nb.EntityID)
				if hop >= min {
					results = append(results, nb.EntityID)
				}
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}
	return results
}

func (e *Engine) runTraverse(t *txn.Txn, o *plan.Traverse, rows []execRow) ([]execRow, error) {
	min, max := clampHops(o.MinHops, o.MaxHops)
	var out []execRow
	for _, row := range rows {
		src, ok := row.Binding[o.SourceBinding]
		if !ok {
			continue
		}
		for _, id := range e.traverseFrom(t, src.ID, o.Dir, o.EdgeType, min, max) {
			_, props, err := e.MVCC.Read(id, t.ID, t.Iso)
			if err != nil {
				continue
			}
			newBinding := cloneBinding(row.Binding)
			newBinding[o.TargetAlias] = boundEntity{ID: id, Collection: "", Properties: props}
			newRow := execRow{Binding: newBinding}
			if o.Filter != nil {
				v, err := evalWithLookup(o.Filter, rowLookup(newRow, o.TargetAlias))
				if err != nil {
					return nil, err
				}
				if b, ok := v.AsBool(); !ok || !b {
					continue
				}
			}
			if err := e.Txns.TrackRead(t, id); err != nil {
				return nil, err
			}
			out = append(out, newRow)
		}
	}
	return out, nil
}

func (e *Engine) runFilter(rows []execRow, o *plan.Filter) ([]execRow, error) {
	var out []execRow
	for _, row := range rows {
		v, err := evalWithLookup(o.Predicate, rowLookup(row, o.Binding))
		if err != nil {
			return nil, err
		}
		if b, ok := v.AsBool(); ok && b {
			out = append(out, row)
		}
	}
	return out, nil
}

func (e *Engine) runGroupBy(rows []execRow, o *plan.GroupBy, st *execState) ([]execRow, error) {
	type bucket struct {
		keyVals []value.Value
		rows    []execRow
	}
	buckets := make(map[string]*bucket)
	var order []string

	if len(o.GroupExprs) == 0 {
		// No grouping columns: every row (zero or more) folds into the one
		// implicit group, so a bare aggregate projection still produces a
		// row even over empty input (COUNT(*) == 0 rather than no rows).
		buckets[""] = &bucket{}
		order = append(order, "")
	}

	for _, row := range rows {
		lookup := rowLookup(row, st.primaryAlias)
		keyVals := make([]value.Value, len(o.GroupExprs))
		parts := make([]string, len(o.GroupExprs))
		for i, ge := range o.GroupExprs {
			v, err := evalWithLookup(ge, lookup)
			if err != nil {
				return nil, err
			}
			keyVals[i] = v
			parts[i] = fmt.Sprintf("%d:%s", v.Kind(), v.String())
		}
		key := strings.Join(parts, "\x1f")
		b, ok := buckets[key]
		if !ok {
			b = &bucket{keyVals: keyVals}
			buckets[key] = b
			order = append(order, key)
		}
		b.rows = append(b.rows, row)
	}

	out := make([]execRow, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		computed := make(map[string]value.Value, len(o.GroupExprs)+len(o.AggExprs))
		for i, ge := range o.GroupExprs {
			computed[exprKey(ge)] = b.keyVals[i]
		}
		for _, agg := range o.AggExprs {
			v, err := evalAggregate(agg.Expr, b.rows, st)
			if err != nil {
				return nil, err
			}
			computed[exprKey(agg.Expr)] = v
		}
		rep := execRow{Computed: computed}
		if len(b.rows) > 0 {
			rep.Binding = b.rows[0].Binding
		}
		out = append(out, rep)
	}
	return out, nil
}

// evalAggregate folds one SELECT/aggregate expression over a group's
// rows. Non-call expressions (a bare grouping column re-listed in the
// projection) take the first row's value, since every row in a group
// agrees on it by construction.
func evalAggregate(expr lang.Expr, rows []execRow, st *execState) (value.Value, error) {
	call, ok := expr.(*lang.CallExpr)
	if !ok {
		if len(rows) == 0 {
			return value.Null, nil
		}
		return evalWithLookup(expr, rowLookup(rows[0], st.primaryAlias))
	}

	name := strings.ToUpper(call.Name)
	if name == "COUNT" && call.Star {
		return value.Int(int64(len(rows))), nil
	}
	if len(call.Args) != 1 {
		return value.Null, fmt.Errorf("exec: %s takes exactly one argument", call.Name)
	}

	var nums []float64
	allInt := true
	nonNull := 0
	for _, row := range rows {
		v, err := evalWithLookup(call.Args[0], rowLookup(row, st.primaryAlias))
		if err != nil {
			return value.Null, err
		}
		if v.IsNull() {
			continue
		}
		nonNull++
		if name == "COUNT" {
			continue
		}
		n, ok := v.AsNumber()
		if !ok {
			return value.Null, fmt.Errorf("exec: %s requires a numeric argument, got %s", call.Name, v.Kind())
		}
		if v.Kind() != value.KindInt {
			allInt = false
		}
		nums = append(nums, n)
	}

	switch name {
	case "COUNT":
		return value.Int(int64(nonNull)), nil
	case "SUM":
		return numericResult(sumOf(nums), allInt), nil
	case "AVG":
		if len(nums) == 0 {
			return value.Null, nil
		}
		return value.Float(sumOf(nums) / float64(len(nums))), nil
	case "MIN":
		if len(nums) == 0 {
			return value.Null, nil
		}
		m := nums[0]
		for _, n := range nums[1:] {
			if n < m {
				m = n
			}
		}
		return numericResult(m, allInt), nil
	case "MAX":
		if len(nums) == 0 {
			return value.Null, nil
		}
		m := nums[0]
		for _, n := range nums[1:] {
			if n > m {
				m = n
			}
		}
		return numericResult(m, allInt), nil
	default:
		return value.Null, fmt.Errorf("exec: unknown aggregate function %q", call.Name)
	}
}

func sumOf(nums []float64) float64 {
	var s float64
	for _, n := range nums {
		s += n
	}
	return s
}

func numericResult(n float64, asInt bool) value.Value {
	if asInt {
		return value.Int(int64(n))
	}
	return value.Float(n)
}

func (e *Engine) runHaving(rows []execRow, o *plan.Having, st *execState) ([]execRow, error) {
	var out []execRow
	for _, row := range rows {
		v, err := computedLookupExpr(o.Predicate, row, st)
		if err != nil {
			return nil, err
		}
		if b, ok := v.AsBool(); ok && b {
			out = append(out, row)
		}
	}
	return out, nil
}

func projectionColumnName(item lang.ProjectItem) string {
	if item.Alias != "" {
		return item.Alias
	}
	switch e := item.Expr.(type) {
	case *lang.PropertyRef:
		return e.Field
	case *lang.CallExpr:
		if e.Star {
			return fmt.Sprintf("%s(*)", e.Name)
		}
		return e.Name
	default:
		return exprKey(item.Expr)
	}
}

func (e *Engine) runProject(rows []execRow, o *plan.Project, st *execState) ([]Row, []string, error) {
	columns := make([]string, len(o.Items))
	for i, item := range o.Items {
		columns[i] = projectionColumnName(item)
	}
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		orow := make(Row, len(o.Items))
		for i, item := range o.Items {
			v, err := computedLookupExpr(item.Expr, row, st)
			if err != nil {
				return nil, nil, err
			}
			orow[columns[i]] = v
		}
		out = append(out, orow)
	}
	return out, columns, nil
}

func runSort(rows []Row, o *plan.Sort) ([]Row, error) {
	type keyedRow struct {
		row  Row
		keys []value.Value
	}
	keyed := make([]keyedRow, len(rows))
	for i, r := range rows {
		keys := make([]value.Value, len(o.Items))
		for j, item := range o.Items {
			v, err := evalWithLookup(item.Expr, flatRowLookup(r))
			if err != nil {
				return nil, err
			}
			keys[j] = v
		}
		keyed[i] = keyedRow{row: r, keys: keys}
	}
	sort.SliceStable(keyed, func(i, j int) bool {
		for k, item := range o.Items {
			a, b := keyed[i].keys[k], keyed[j].keys[k]
			if !a.Comparable(b) {
				continue
			}
			c := a.Compare(b)
			if c == 0 {
				continue
			}
			if item.Asc {
				return c < 0
			}
			return c > 0
		}
		return false
	})
	out := make([]Row, len(keyed))
	for i, kr := range keyed {
		out[i] = kr.row
	}
	return out, nil
}

func runSkip(rows []Row, o *plan.Skip) []Row {
	if o.Count <= 0 {
		return rows
	}
	if o.Count >= len(rows) {
		return nil
	}
	return rows[o.Count:]
}

func runLimit(rows []Row, o *plan.Limit) []Row {
	if o.Count < 0 || o.Count >= len(rows) {
		return rows
	}
	return rows[:o.Count]
}

func (e *Engine) runInsert(t *txn.Txn, o *plan.InsertEntity) (*Result, error) {
	props := make(map[string]value.Value, len(o.Values))
	for _, kv := range o.Values {
		v, err := evalWithLookup(kv.Value, noRowLookup)
		if err != nil {
			return nil, err
		}
		props[kv.Key] = v
	}
	if e.validator != nil {
		if err := e.validator.ValidateInsert(o.Collection, props); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSchemaViolation, err)
		}
	}

	ents, _ := e.Store.IDGenerators()
	id := value.EntityID(ents.Next())
	if err := e.appendWAL(wal.Record{Kind: wal.KindCreateEntity, Txn: t.ID, EntityID: id, Collection: o.Collection, Properties: props}); err != nil {
		return nil, err
	}
	e.MVCC.CreateWithID(id, t.ID, o.Collection, props)
	if err := e.Index.OnInsert(o.Collection, id, props); err != nil {
		return nil, err
	}
	if err := e.Txns.TrackWrite(t, id); err != nil {
		return nil, err
	}
	return &Result{RowsAffected: 1, LastInsertID: id}, nil
}

func (e *Engine) runUpdate(t *txn.Txn, rows []execRow, o *plan.UpdateEntities) (*Result, error) {
	count := 0
	for _, row := range rows {
		be, ok := row.Binding[o.Binding]
		if !ok {
			continue
		}
		before := be.Properties
		after := cloneProps(before)
		for _, asn := range o.Assigns {
			v, err := evalWithLookup(asn.Value, rowLookup(row, o.Binding))
			if err != nil {
				return nil, err
			}
			after[asn.Field] = v
		}
		if e.validator != nil {
			if err := e.validator.ValidateUpdate(be.Collection, before, after); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrSchemaViolation, err)
			}
		}
		if err := e.appendWAL(wal.Record{Kind: wal.KindUpdateEntity, Txn: t.ID, EntityID: be.ID, Properties: after}); err != nil {
			return nil, err
		}
		if err := e.MVCC.Write(be.ID, t.ID, be.Collection, after); err != nil {
			return nil, err
		}
		if err := e.Index.OnUpdate(be.Collection, be.ID, before, after); err != nil {
			return nil, err
		}
		if err := e.Txns.TrackWrite(t, be.ID); err != nil {
			return nil, err
		}
		count++
	}
	return &Result{RowsAffected: count}, nil
}

func (e *Engine) deleteEdgeLogged(t *txn.Txn, id value.EdgeID) {
	_ = e.appendWAL(wal.Record{Kind: wal.KindDeleteEdge, Txn: t.ID, EdgeID: id})
	e.Store.RemoveEdge(id)
}

// runDelete removes every entity in Binding, transitively deleting every
// edge touching it first (§4.J's "DELETE cascades to incident edges"),
// so no edge is ever left dangling on a removed entity.
func (e *Engine) runDelete(t *txn.Txn, rows []execRow, o *plan.DeleteEntities) (*Result, error) {
	count := 0
	for _, row := range rows {
		be, ok := row.Binding[o.Binding]
		if !ok {
			continue
		}
		for _, nb := range e.Store.GetOutgoingNeighbors(be.ID, "") {
			e.deleteEdgeLogged(t, nb.EdgeID)
		}
		for _, nb := range e.Store.GetIncomingNeighbors(be.ID, "") {
			e.deleteEdgeLogged(t, nb.EdgeID)
		}
		if err := e.appendWAL(wal.Record{Kind: wal.KindDeleteEntity, Txn: t.ID, EntityID: be.ID}); err != nil {
			return nil, err
		}
		if err := e.MVCC.Delete(be.ID, t.ID, t.Iso); err != nil {
			return nil, err
		}
		e.Index.OnDelete(be.Collection, be.ID, be.Properties)
		if err := e.Txns.TrackWrite(t, be.ID); err != nil {
			return nil, err
		}
		count++
	}
	return &Result{RowsAffected: count}, nil
}

func (e *Engine) runCreateEdge(t *txn.Txn, o *plan.CreateEdge) (*Result, error) {
	srcVal, err := evalWithLookup(o.Source, noRowLookup)
	if err != nil {
		return nil, err
	}
	tgtVal, err := evalWithLookup(o.Target, noRowLookup)
	if err != nil {
		return nil, err
	}
	srcN, ok := srcVal.AsInt()
	if !ok {
		return nil, fmt.Errorf("exec: edge source must be an entity id, got %s", srcVal.Kind())
	}
	tgtN, ok := tgtVal.AsInt()
	if !ok {
		return nil, fmt.Errorf("exec: edge target must be an entity id, got %s", tgtVal.Kind())
	}
	src, tgt := value.EntityID(srcN), value.EntityID(tgtN)

	if _, _, err := e.MVCC.Read(src, t.ID, t.Iso); err != nil {
		return nil, err
	}
	if _, _, err := e.MVCC.Read(tgt, t.ID, t.Iso); err != nil {
		return nil, err
	}

	props := make(map[string]value.Value, len(o.Properties))
	for _, kv := range o.Properties {
		v, err := evalWithLookup(kv.Value, noRowLookup)
		if err != nil {
			return nil, err
		}
		props[kv.Key] = v
	}

	_, eids := e.Store.IDGenerators()
	id := value.EdgeID(eids.Next())
	if err := e.appendWAL(wal.Record{Kind: wal.KindCreateEdge, Txn: t.ID, EdgeID: id, Source: src, Target: tgt, Type: o.Type, Properties: props}); err != nil {
		return nil, err
	}
	e.Store.InstallEdge(&store.Edge{ID: id, Source: src, Target: tgt, Type: o.Type, Properties: props, CreatedAt: time.Now()})
	if err := e.Txns.TrackWrite(t, src); err != nil {
		return nil, err
	}
	if err := e.Txns.TrackWrite(t, tgt); err != nil {
		return nil, err
	}
	return &Result{RowsAffected: 1, LastInsertEdge: id}, nil
}
