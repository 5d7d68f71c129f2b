// Package lang implements the query language front end of §4.G: a lexer
// producing a token stream, and a recursive-descent parser building the
// AST shapes declared in ast.go. It is written fresh — the teacher's
// pkg/cypher/ast_builder.go splits clause text with strings.Split rather
// than tokenizing, where this grammar needs a real lexer — but mirrors
// pkg/cypher/parser.go's marker-interface AST shape and naming.
package lang

import (
	"fmt"
	"strings"
)

// TokenKind identifies the lexical class of a Token.
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokIdent
	TokKeyword
	TokInt
	TokFloat
	TokString
	TokOp       // comparison/arithmetic operators
	TokArrow    // -> <- <-> (the bare "-" is its own op token)
	TokPunct    // . , ; : ( ) [ ] { }
)

// keywords is the case-insensitive reserved-word set from §4.G. Aggregate
// function names (COUNT, SUM, ...) are deliberately absent: the parser
// recognizes them as plain identifiers immediately followed by "(".
var keywords = map[string]bool{
	"FROM": true, "WHERE": true, "SELECT": true, "TRAVERSE": true,
	"CREATE": true, "UPDATE": true, "DELETE": true, "SET": true,
	"INSERT": true, "INTO": true, "VALUES": true, "AND": true, "OR": true,
	"NOT": true, "AS": true, "LIMIT": true, "OFFSET": true, "ORDER": true,
	"BY": true, "ASC": true, "DESC": true, "TRUE": true, "FALSE": true,
	"NULL": true, "BEGIN": true, "TRANSACTION": true, "COMMIT": true,
	"ROLLBACK": true, "ISOLATION": true, "LEVEL": true, "READ": true,
	"UNCOMMITTED": true, "COMMITTED": true, "REPEATABLE": true,
	"SERIALIZABLE": true, "GROUP": true, "HAVING": true, "INDEX": true,
	"UNIQUE": true, "ON": true, "DROP": true,
}

// Lexeme is one scanned token: a kind, its literal text (normalized for
// identifiers/keywords to upper case for keywords, verbatim otherwise),
// and position for diagnostics.
type Lexeme struct {
	Kind TokenKind
	Text string
	Pos  int
}

// Lex scans src into a token stream terminated by a TokEOF lexeme.
func Lex(src string) ([]Lexeme, error) {
	l := &lexer{src: []rune(src)}
	var out []Lexeme
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
		if tok.Kind == TokEOF {
			return out, nil
		}
	}
}

type lexer struct {
	src []rune
	pos int
}

func (l *lexer) peek() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) peekAt(off int) rune {
	if l.pos+off >= len(l.src) {
		return 0
	}
	return l.src[l.pos+off]
}

func (l *lexer) next() (Lexeme, error) {
	l.skipSpaceAndComments()
	start := l.pos
	if l.pos >= len(l.src) {
		return Lexeme{Kind: TokEOF, Pos: start}, nil
	}

	c := l.peek()
	switch {
	case isIdentStart(c):
		return l.lexIdent(start), nil
	case c >= '0' && c <= '9':
		return l.lexNumber(start)
	case c == '\'' || c == '"':
		return l.lexString(start)
	}

	switch c {
	case '-':
		if l.peekAt(1) == '>' {
			l.pos += 2
			return Lexeme{Kind: TokArrow, Text: "->", Pos: start}, nil
		}
		l.pos++
		return Lexeme{Kind: TokOp, Text: "-", Pos: start}, nil
	case '<':
		if l.peekAt(1) == '-' && l.peekAt(2) == '>' {
			l.pos += 3
			return Lexeme{Kind: TokArrow, Text: "<->", Pos: start}, nil
		}
		if l.peekAt(1) == '-' {
			l.pos += 2
			return Lexeme{Kind: TokArrow, Text: "<-", Pos: start}, nil
		}
		if l.peekAt(1) == '=' {
			l.pos += 2
			return Lexeme{Kind: TokOp, Text: "<=", Pos: start}, nil
		}
		l.pos++
		return Lexeme{Kind: TokOp, Text: "<", Pos: start}, nil
	case '>':
		if l.peekAt(1) == '=' {
			l.pos += 2
			return Lexeme{Kind: TokOp, Text: ">=", Pos: start}, nil
		}
		l.pos++
		return Lexeme{Kind: TokOp, Text: ">", Pos: start}, nil
	case '=':
		l.pos++
		return Lexeme{Kind: TokOp, Text: "=", Pos: start}, nil
	case '!':
		if l.peekAt(1) == '=' {
			l.pos += 2
			return Lexeme{Kind: TokOp, Text: "!=", Pos: start}, nil
		}
		return Lexeme{}, fmt.Errorf("lang: unexpected '!' at %d", start)
	case '+', '*', '/':
		l.pos++
		return Lexeme{Kind: TokOp, Text: string(c), Pos: start}, nil
	case '.', ',', ';', ':', '(', ')', '[', ']', '{', '}':
		l.pos++
		return Lexeme{Kind: TokPunct, Text: string(c), Pos: start}, nil
	}
	return Lexeme{}, fmt.Errorf("lang: unexpected character %q at %d", c, start)
}

func (l *lexer) skipSpaceAndComments() {
	for l.pos < len(l.src) {
		c := l.peek()
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			l.pos++
			continue
		}
		if c == '-' && l.peekAt(1) == '-' {
			for l.pos < len(l.src) && l.peek() != '\n' {
				l.pos++
			}
			continue
		}
		break
	}
}

func isIdentStart(c rune) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentCont(c rune) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func (l *lexer) lexIdent(start int) Lexeme {
	for l.pos < len(l.src) && isIdentCont(l.peek()) {
		l.pos++
	}
	text := string(l.src[start:l.pos])
	upper := strings.ToUpper(text)
	if keywords[upper] {
		return Lexeme{Kind: TokKeyword, Text: upper, Pos: start}
	}
	return Lexeme{Kind: TokIdent, Text: text, Pos: start}
}

func (l *lexer) lexNumber(start int) (Lexeme, error) {
	isFloat := false
	for l.pos < len(l.src) && l.peek() >= '0' && l.peek() <= '9' {
		l.pos++
	}
	if l.peek() == '.' && l.peekAt(1) >= '0' && l.peekAt(1) <= '9' {
		isFloat = true
		l.pos++
		for l.pos < len(l.src) && l.peek() >= '0' && l.peek() <= '9' {
			l.pos++
		}
	}
	kind := TokInt
	if isFloat {
		kind = TokFloat
	}
	return Lexeme{Kind: kind, Text: string(l.src[start:l.pos]), Pos: start}, nil
}

func (l *lexer) lexString(start int) (Lexeme, error) {
	quote := l.peek()
	l.pos++
	var sb strings.Builder
	for {
		if l.pos >= len(l.src) {
			return Lexeme{}, fmt.Errorf("lang: unterminated string at %d", start)
		}
		c := l.peek()
		if c == quote {
			l.pos++
			break
		}
		if c == '\\' {
			l.pos++
			esc := l.peek()
			switch esc {
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			case 'r':
				sb.WriteRune('\r')
			case '\\':
				sb.WriteRune('\\')
			case '\'':
				sb.WriteRune('\'')
			case '"':
				sb.WriteRune('"')
			default:
				return Lexeme{}, fmt.Errorf("lang: unknown escape \\%c at %d", esc, l.pos)
			}
			l.pos++
			continue
		}
		sb.WriteRune(c)
		l.pos++
	}
	return Lexeme{Kind: TokString, Text: sb.String(), Pos: start}, nil
}
