package exec

import (
	"fmt"
	"strings"

	"github.com/deedb/deedb/pkg/lang"
	"github.com/deedb/deedb/pkg/value"
)

// lookupFunc resolves an (alias, field) property reference to a value.
// Different evaluation contexts supply different lookups: a single
// entity's properties (EvalExpr), a multi-binding row built up by Scan/
// Traverse (rowLookup), or the already-computed group/aggregate values of
// a post-GROUP BY row (groupedLookup, in operators.go).
type lookupFunc func(alias, field string) (value.Value, bool)

// EvalExpr evaluates expr against a single flat property map, ignoring
// any alias qualifier on a PropertyRef (there is only one binding in
// this context). Exported so pkg/schema's CHECK constraint can reuse the
// same expression semantics as the query executor without pkg/schema and
// pkg/exec importing each other.
func EvalExpr(expr lang.Expr, props map[string]value.Value) (value.Value, error) {
	return evalWithLookup(expr, func(_, field string) (value.Value, bool) {
		v, ok := props[field]
		return v, ok
	})
}

func evalWithLookup(expr lang.Expr, lookup lookupFunc) (value.Value, error) {
	if expr == nil {
		return value.Null, nil
	}
	switch e := expr.(type) {
	case *lang.Literal:
		return value.FromInterface(e.Value)
	case *lang.PropertyRef:
		v, ok := lookup(e.Alias, e.Field)
		if !ok {
			return value.Null, nil
		}
		return v, nil
	case *lang.UnaryExpr:
		operand, err := evalWithLookup(e.Operand, lookup)
		if err != nil {
			return value.Null, err
		}
		return applyUnaryOp(e.Op, operand)
	case *lang.BinaryExpr:
		return evalBinary(e, lookup)
	case *lang.CallExpr:
		return value.Null, fmt.Errorf("exec: aggregate %s is only valid in a GROUP BY/SELECT projection", e.Name)
	default:
		return value.Null, fmt.Errorf("exec: unsupported expression %T", expr)
	}
}

func applyUnaryOp(op string, v value.Value) (value.Value, error) {
	switch op {
	case "NOT":
		b, ok := v.AsBool()
		if !ok {
			return value.Null, fmt.Errorf("exec: NOT requires a bool, got %s", v.Kind())
		}
		return value.Bool(!b), nil
	case "-":
		if i, ok := v.AsInt(); ok {
			return value.Int(-i), nil
		}
		if f, ok := v.AsFloat(); ok {
			return value.Float(-f), nil
		}
		return value.Null, fmt.Errorf("exec: unary - requires a number, got %s", v.Kind())
	default:
		return value.Null, fmt.Errorf("exec: unknown unary operator %q", op)
	}
}

func evalBinary(e *lang.BinaryExpr, lookup lookupFunc) (value.Value, error) {
	// AND/OR short-circuit: the right operand isn't evaluated when the
	// left side already decides the result.
	switch e.Op {
	case "AND":
		l, err := evalWithLookup(e.Left, lookup)
		if err != nil {
			return value.Null, err
		}
		lb, ok := l.AsBool()
		if !ok {
			return value.Null, fmt.Errorf("exec: AND requires bool operands, got %s", l.Kind())
		}
		if !lb {
			return value.Bool(false), nil
		}
		r, err := evalWithLookup(e.Right, lookup)
		if err != nil {
			return value.Null, err
		}
		rb, ok := r.AsBool()
		if !ok {
			return value.Null, fmt.Errorf("exec: AND requires bool operands, got %s", r.Kind())
		}
		return value.Bool(rb), nil
	case "OR":
		l, err := evalWithLookup(e.Left, lookup)
		if err != nil {
			return value.Null, err
		}
		lb, ok := l.AsBool()
		if !ok {
			return value.Null, fmt.Errorf("exec: OR requires bool operands, got %s", l.Kind())
		}
		if lb {
			return value.Bool(true), nil
		}
		r, err := evalWithLookup(e.Right, lookup)
		if err != nil {
			return value.Null, err
		}
		rb, ok := r.AsBool()
		if !ok {
			return value.Null, fmt.Errorf("exec: OR requires bool operands, got %s", r.Kind())
		}
		return value.Bool(rb), nil
	}

	l, err := evalWithLookup(e.Left, lookup)
	if err != nil {
		return value.Null, err
	}
	r, err := evalWithLookup(e.Right, lookup)
	if err != nil {
		return value.Null, err
	}
	return applyBinaryOp(e.Op, l, r)
}

// applyBinaryOp applies a comparison or arithmetic operator to two
// already-evaluated values. Shared by the row evaluator above and the
// post-GROUP BY evaluator in operators.go, which builds its operand
// values from precomputed aggregates rather than a live lookup.
func applyBinaryOp(op string, l, r value.Value) (value.Value, error) {
	switch op {
	case "=":
		return value.Bool(l.Equal(r)), nil
	case "!=":
		return value.Bool(!l.Equal(r)), nil
	case "<", "<=", ">", ">=":
		if !l.Comparable(r) {
			return value.Bool(false), nil
		}
		c := l.Compare(r)
		switch op {
		case "<":
			return value.Bool(c < 0), nil
		case "<=":
			return value.Bool(c <= 0), nil
		case ">":
			return value.Bool(c > 0), nil
		default:
			return value.Bool(c >= 0), nil
		}
	case "+", "-", "*", "/":
		return applyArith(op, l, r)
	default:
		return value.Null, fmt.Errorf("exec: unknown binary operator %q", op)
	}
}

func applyArith(op string, l, r value.Value) (value.Value, error) {
	if op == "+" {
		if ls, ok := l.AsString(); ok {
			if rs, ok := r.AsString(); ok {
				return value.String(ls + rs), nil
			}
		}
	}
	ln, lok := l.AsNumber()
	rn, rok := r.AsNumber()
	if !lok || !rok {
		return value.Null, fmt.Errorf("exec: arithmetic requires numbers, got %s and %s", l.Kind(), r.Kind())
	}
	bothInt := l.Kind() == value.KindInt && r.Kind() == value.KindInt
	var result float64
	switch op {
	case "+":
		result = ln + rn
	case "-":
		result = ln - rn
	case "*":
		result = ln * rn
	case "/":
		if rn == 0 {
			return value.Null, fmt.Errorf("exec: division by zero")
		}
		result = ln / rn
		bothInt = false // integer division still yields a float here; no truncation
	}
	if bothInt {
		return value.Int(int64(result)), nil
	}
	return value.Float(result), nil
}

// exprKey is a canonical string for an expression, used only as an
// internal map key to match a GROUP BY/aggregate expression in a
// projection item back to the value GroupBy already computed for it. Not
// a parser or hashing concern; collisions between syntactically distinct
// expressions are not possible since the key encodes full structure.
func exprKey(e lang.Expr) string {
	if e == nil {
		return "nil"
	}
	switch v := e.(type) {
	case *lang.Literal:
		return fmt.Sprintf("lit:%v", v.Value)
	case *lang.PropertyRef:
		return fmt.Sprintf("prop:%s.%s", v.Alias, v.Field)
	case *lang.BinaryExpr:
		return fmt.Sprintf("bin:%s(%s,%s)", v.Op, exprKey(v.Left), exprKey(v.Right))
	case *lang.UnaryExpr:
		return fmt.Sprintf("un:%s(%s)", v.Op, exprKey(v.Operand))
	case *lang.CallExpr:
		parts := make([]string, len(v.Args))
		for i, a := range v.Args {
			parts[i] = exprKey(a)
		}
		star := ""
		if v.Star {
			star = "*"
		}
		return fmt.Sprintf("call:%s(%s%s)", v.Name, star, strings.Join(parts, ","))
	default:
		return fmt.Sprintf("%T", e)
	}
}
