package lang

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/deedb/deedb/pkg/mvcc"
)

// Parse lexes and parses src into a single Statement.
func Parse(src string) (Statement, error) {
	toks, err := Lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if !p.atEOF() {
		return nil, p.errorf("unexpected trailing input")
	}
	return stmt, nil
}

type parser struct {
	toks []Lexeme
	pos  int
}

func (p *parser) cur() Lexeme  { return p.toks[p.pos] }
func (p *parser) atEOF() bool  { return p.cur().Kind == TokEOF }
func (p *parser) advance() Lexeme {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("lang: %s (at pos %d, token %q)", fmt.Sprintf(format, args...), p.cur().Pos, p.cur().Text)
}

func (p *parser) isKeyword(kw string) bool {
	return p.cur().Kind == TokKeyword && p.cur().Text == kw
}

func (p *parser) eatKeyword(kw string) error {
	if !p.isKeyword(kw) {
		return p.errorf("expected %s", kw)
	}
	p.advance()
	return nil
}

func (p *parser) tryKeyword(kw string) bool {
	if p.isKeyword(kw) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) isPunct(s string) bool {
	return p.cur().Kind == TokPunct && p.cur().Text == s
}

func (p *parser) eatPunct(s string) error {
	if !p.isPunct(s) {
		return p.errorf("expected %q", s)
	}
	p.advance()
	return nil
}

func (p *parser) tryPunct(s string) bool {
	if p.isPunct(s) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) eatIdent() (string, error) {
	if p.cur().Kind != TokIdent {
		return "", p.errorf("expected identifier")
	}
	return p.advance().Text, nil
}

func (p *parser) parseStatement() (Statement, error) {
	switch {
	case p.isKeyword("FROM"):
		return p.parseSelect()
	case p.isKeyword("INSERT"):
		return p.parseInsert()
	case p.isKeyword("UPDATE"):
		return p.parseUpdate()
	case p.isKeyword("DELETE"):
		return p.parseDelete()
	case p.isKeyword("BEGIN"):
		return p.parseBegin()
	case p.isKeyword("COMMIT"):
		p.advance()
		return &CommitStmt{}, nil
	case p.isKeyword("ROLLBACK"):
		p.advance()
		return &RollbackStmt{}, nil
	case p.isKeyword("CREATE"):
		return p.parseCreate()
	case p.isKeyword("DROP"):
		return p.parseDropIndex()
	}
	return nil, p.errorf("unexpected token starting statement")
}

// --- SELECT ---

func (p *parser) parseSelect() (*SelectStmt, error) {
	if err := p.eatKeyword("FROM"); err != nil {
		return nil, err
	}
	coll, err := p.eatIdent()
	if err != nil {
		return nil, err
	}
	stmt := &SelectStmt{Collection: coll}

	if p.tryKeyword("AS") {
		if stmt.Alias, err = p.eatIdent(); err != nil {
			return nil, err
		}
	} else if p.cur().Kind == TokIdent {
		stmt.Alias = p.advance().Text
	}

	for p.isKeyword("TRAVERSE") {
		p.advance()
		for {
			pat, err := p.parseTraversePattern()
			if err != nil {
				return nil, err
			}
			stmt.Traverses = append(stmt.Traverses, pat)
			if !p.tryPunct(",") {
				break
			}
		}
	}

	if p.tryKeyword("WHERE") {
		if stmt.Where, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}

	if err := p.eatKeyword("SELECT"); err != nil {
		return nil, err
	}
	if stmt.Projection, err = p.parseProjectList(); err != nil {
		return nil, err
	}

	if p.tryKeyword("GROUP") {
		if err := p.eatKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			stmt.GroupBy = append(stmt.GroupBy, e)
			if !p.tryPunct(",") {
				break
			}
		}
	}

	if p.tryKeyword("HAVING") {
		if stmt.Having, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}

	if p.tryKeyword("ORDER") {
		if err := p.eatKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			asc := true
			if p.tryKeyword("DESC") {
				asc = false
			} else {
				p.tryKeyword("ASC")
			}
			stmt.OrderBy = append(stmt.OrderBy, OrderItem{Expr: e, Asc: asc})
			if !p.tryPunct(",") {
				break
			}
		}
	}

	if p.tryKeyword("LIMIT") {
		n, err := p.eatInt()
		if err != nil {
			return nil, err
		}
		stmt.Limit = &n
	}
	if p.tryKeyword("OFFSET") {
		n, err := p.eatInt()
		if err != nil {
			return nil, err
		}
		stmt.Offset = &n
	}
	return stmt, nil
}

func (p *parser) eatInt() (int, error) {
	if p.cur().Kind != TokInt {
		return 0, p.errorf("expected integer")
	}
	text := p.advance().Text
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, p.errorf("bad integer literal %q", text)
	}
	return n, nil
}

func (p *parser) parseProjectList() ([]ProjectItem, error) {
	var items []ProjectItem
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		alias := ""
		if p.tryKeyword("AS") {
			if alias, err = p.eatIdent(); err != nil {
				return nil, err
			}
		}
		items = append(items, ProjectItem{Expr: e, Alias: alias})
		if !p.tryPunct(",") {
			break
		}
	}
	return items, nil
}

// parseTraversePattern parses one element of `dir "[" [":" id] ["*" int
// [".." int]] "]" dir id?`, i.e. a Cypher-style relationship pattern such
// as -[:FOLLOWS*1..3]->friend or <-[:OWNS]-.
func (p *parser) parseTraversePattern() (TraversePattern, error) {
	left, err := p.eatArrowOrDash()
	if err != nil {
		return TraversePattern{}, err
	}
	if err := p.eatPunct("["); err != nil {
		return TraversePattern{}, err
	}
	pat := TraversePattern{MinHops: 1, MaxHops: 1}
	if p.tryPunct(":") {
		if pat.EdgeType, err = p.eatIdent(); err != nil {
			return TraversePattern{}, err
		}
	}
	if p.cur().Kind == TokOp && p.cur().Text == "*" {
		p.advance()
		if p.cur().Kind == TokInt {
			min, _ := strconv.Atoi(p.advance().Text)
			pat.MinHops = min
			pat.MaxHops = min
			if p.tryPunct(".") {
				if err := p.eatPunct("."); err != nil {
					return TraversePattern{}, err
				}
				max, err := p.eatInt()
				if err != nil {
					return TraversePattern{}, err
				}
				pat.MaxHops = max
			}
		} else {
			pat.MinHops = 1
			pat.MaxHops = 0 // unbounded, executor clamps
		}
	}
	if err := p.eatPunct("]"); err != nil {
		return TraversePattern{}, err
	}
	right, err := p.eatArrowOrDash()
	if err != nil {
		return TraversePattern{}, err
	}
	switch {
	case left == "-" && right == "->":
		pat.Dir = DirOut
	case left == "<-" && right == "-":
		pat.Dir = DirIn
	case left == "<-" && right == "->":
		pat.Dir = DirBoth
	default:
		return TraversePattern{}, p.errorf("invalid traversal arrow combination %q/%q", left, right)
	}
	if p.cur().Kind == TokIdent {
		pat.TargetAs = p.advance().Text
	}
	return pat, nil
}

func (p *parser) eatArrowOrDash() (string, error) {
	if p.cur().Kind == TokArrow {
		return p.advance().Text, nil
	}
	if p.cur().Kind == TokOp && p.cur().Text == "-" {
		return p.advance().Text, nil
	}
	return "", p.errorf("expected a direction arrow")
}

// --- INSERT / UPDATE / DELETE / CREATE EDGE ---

func (p *parser) parseInsert() (*InsertStmt, error) {
	if err := p.eatKeyword("INSERT"); err != nil {
		return nil, err
	}
	if err := p.eatKeyword("INTO"); err != nil {
		return nil, err
	}
	coll, err := p.eatIdent()
	if err != nil {
		return nil, err
	}
	if err := p.eatKeyword("VALUES"); err != nil {
		return nil, err
	}
	if err := p.eatPunct("("); err != nil {
		return nil, err
	}
	kvs, err := p.parseKVObject()
	if err != nil {
		return nil, err
	}
	if err := p.eatPunct(")"); err != nil {
		return nil, err
	}
	return &InsertStmt{Collection: coll, Values: kvs}, nil
}

func (p *parser) parseKVObject() ([]KV, error) {
	if err := p.eatPunct("{"); err != nil {
		return nil, err
	}
	var kvs []KV
	if !p.isPunct("}") {
		for {
			key, err := p.eatIdent()
			if err != nil {
				return nil, err
			}
			if err := p.eatPunct(":"); err != nil {
				return nil, err
			}
			val, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			kvs = append(kvs, KV{Key: key, Value: val})
			if !p.tryPunct(",") {
				break
			}
		}
	}
	if err := p.eatPunct("}"); err != nil {
		return nil, err
	}
	return kvs, nil
}

func (p *parser) parseUpdate() (*UpdateStmt, error) {
	if err := p.eatKeyword("UPDATE"); err != nil {
		return nil, err
	}
	coll, err := p.eatIdent()
	if err != nil {
		return nil, err
	}
	if err := p.eatKeyword("SET"); err != nil {
		return nil, err
	}
	stmt := &UpdateStmt{Collection: coll}
	for {
		field, err := p.eatIdent()
		if err != nil {
			return nil, err
		}
		if p.cur().Kind != TokOp || p.cur().Text != "=" {
			return nil, p.errorf("expected '='")
		}
		p.advance()
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Assigns = append(stmt.Assigns, Assign{Field: field, Value: val})
		if !p.tryPunct(",") {
			break
		}
	}
	if p.tryKeyword("WHERE") {
		if stmt.Where, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *parser) parseDelete() (*DeleteStmt, error) {
	if err := p.eatKeyword("DELETE"); err != nil {
		return nil, err
	}
	if err := p.eatKeyword("FROM"); err != nil {
		return nil, err
	}
	coll, err := p.eatIdent()
	if err != nil {
		return nil, err
	}
	stmt := &DeleteStmt{Collection: coll}
	if p.tryKeyword("WHERE") {
		if stmt.Where, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *parser) parseBegin() (*BeginStmt, error) {
	if err := p.eatKeyword("BEGIN"); err != nil {
		return nil, err
	}
	p.tryKeyword("TRANSACTION")
	iso := mvcc.ReadCommitted
	if p.tryKeyword("ISOLATION") {
		if err := p.eatKeyword("LEVEL"); err != nil {
			return nil, err
		}
		switch {
		case p.tryKeyword("READ"):
			if p.tryKeyword("UNCOMMITTED") {
				iso = mvcc.ReadUncommitted
			} else if err := p.eatKeyword("COMMITTED"); err == nil {
				iso = mvcc.ReadCommitted
			} else {
				return nil, err
			}
		case p.tryKeyword("REPEATABLE"):
			if err := p.eatKeyword("READ"); err != nil {
				return nil, err
			}
			iso = mvcc.RepeatableRead
		case p.tryKeyword("SERIALIZABLE"):
			iso = mvcc.Serializable
		default:
			return nil, p.errorf("expected isolation level")
		}
	}
	return &BeginStmt{Isolation: iso}, nil
}

func (p *parser) parseCreate() (Statement, error) {
	if err := p.eatKeyword("CREATE"); err != nil {
		return nil, err
	}
	unique := p.tryKeyword("UNIQUE")
	if unique || p.isKeyword("INDEX") {
		if err := p.eatKeyword("INDEX"); err != nil {
			return nil, err
		}
		name, err := p.eatIdent()
		if err != nil {
			return nil, err
		}
		if err := p.eatKeyword("ON"); err != nil {
			return nil, err
		}
		coll, err := p.eatIdent()
		if err != nil {
			return nil, err
		}
		if err := p.eatPunct("("); err != nil {
			return nil, err
		}
		field, err := p.eatIdent()
		if err != nil {
			return nil, err
		}
		if err := p.eatPunct(")"); err != nil {
			return nil, err
		}
		return &CreateIndexStmt{Name: name, Collection: coll, Field: field, Unique: unique}, nil
	}
	return p.parseCreateEdge()
}

func (p *parser) parseCreateEdge() (*CreateEdgeStmt, error) {
	if err := p.eatPunct("("); err != nil {
		return nil, err
	}
	src, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.eatPunct(")"); err != nil {
		return nil, err
	}
	if err := p.eatArrowLiteral("-"); err != nil {
		return nil, err
	}
	if err := p.eatPunct("["); err != nil {
		return nil, err
	}
	if err := p.eatPunct(":"); err != nil {
		return nil, err
	}
	typ, err := p.eatIdent()
	if err != nil {
		return nil, err
	}
	if err := p.eatPunct("]"); err != nil {
		return nil, err
	}
	if err := p.eatArrowLiteral("->"); err != nil {
		return nil, err
	}
	if err := p.eatPunct("("); err != nil {
		return nil, err
	}
	tgt, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.eatPunct(")"); err != nil {
		return nil, err
	}
	stmt := &CreateEdgeStmt{Source: src, Target: tgt, Type: typ}
	if p.isPunct("{") {
		if stmt.Properties, err = p.parseKVObject(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *parser) eatArrowLiteral(text string) error {
	got, err := p.eatArrowOrDash()
	if err != nil {
		return err
	}
	if got != text {
		return p.errorf("expected %q, got %q", text, got)
	}
	return nil
}

func (p *parser) parseDropIndex() (*DropIndexStmt, error) {
	if err := p.eatKeyword("DROP"); err != nil {
		return nil, err
	}
	if err := p.eatKeyword("INDEX"); err != nil {
		return nil, err
	}
	name, err := p.eatIdent()
	if err != nil {
		return nil, err
	}
	return &DropIndexStmt{Name: name}, nil
}

// --- expressions, precedence low to high: OR, AND, NOT, comparison,
// additive, multiplicative, unary, primary ---

func (p *parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tryKeyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.tryKeyword("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.tryKeyword("NOT") {
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "NOT", Operand: operand}, nil
	}
	return p.parseComparison()
}

var comparisonOps = map[string]bool{"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if p.cur().Kind == TokOp && comparisonOps[p.cur().Text] {
		op := p.advance().Text
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: op, Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == TokOp && (p.cur().Text == "+" || p.cur().Text == "-") {
		op := p.advance().Text
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == TokOp && (p.cur().Text == "*" || p.cur().Text == "/") {
		op := p.advance().Text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.cur().Kind == TokOp && p.cur().Text == "-" {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "-", Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.cur()
	switch tok.Kind {
	case TokInt:
		p.advance()
		n, err := strconv.ParseInt(tok.Text, 10, 64)
		if err != nil {
			return nil, p.errorf("bad integer literal %q", tok.Text)
		}
		return &Literal{Value: n}, nil
	case TokFloat:
		p.advance()
		f, err := strconv.ParseFloat(tok.Text, 64)
		if err != nil {
			return nil, p.errorf("bad float literal %q", tok.Text)
		}
		return &Literal{Value: f}, nil
	case TokString:
		p.advance()
		return &Literal{Value: tok.Text}, nil
	case TokKeyword:
		switch tok.Text {
		case "TRUE":
			p.advance()
			return &Literal{Value: true}, nil
		case "FALSE":
			p.advance()
			return &Literal{Value: false}, nil
		case "NULL":
			p.advance()
			return &Literal{Value: nil}, nil
		}
	case TokPunct:
		if tok.Text == "(" {
			p.advance()
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.eatPunct(")"); err != nil {
				return nil, err
			}
			return e, nil
		}
	case TokIdent:
		name := p.advance().Text
		if p.isPunct("(") {
			return p.parseCallArgs(name)
		}
		if p.tryPunct(".") {
			field, err := p.eatIdent()
			if err != nil {
				return nil, err
			}
			return &PropertyRef{Alias: name, Field: field}, nil
		}
		return &PropertyRef{Field: name}, nil
	}
	return nil, p.errorf("unexpected token in expression")
}

// parseCallArgs parses FN(...) given FN's name has already been consumed.
// COUNT(*) is parsed with Star set and no Args, per §4.G.
func (p *parser) parseCallArgs(name string) (Expr, error) {
	if err := p.eatPunct("("); err != nil {
		return nil, err
	}
	call := &CallExpr{Name: strings.ToUpper(name)}
	if p.cur().Kind == TokOp && p.cur().Text == "*" {
		p.advance()
		call.Star = true
	} else if !p.isPunct(")") {
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, arg)
			if !p.tryPunct(",") {
				break
			}
		}
	}
	if err := p.eatPunct(")"); err != nil {
		return nil, err
	}
	return call, nil
}
