package oml

import (
	"fmt"
	"path"
	"strings"

	"github.com/jmespath/go-jmespath"
	"github.com/therealutkarshpriyadarshi/logdebug/pkg/types"
)

const headerSeparator = "---"

// SyntaxError reports malformed OML with the position it was detected at.
type SyntaxError struct {
	Line int
	Col  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at line %d, column %d: %s", e.Line, e.Col, e.Msg)
}

var literalTypes = map[string]types.FieldType{
	"chars": types.FieldChars,
	"digit": types.FieldDigit,
	"float": types.FieldFloat,
	"bool":  types.FieldBool,
	"ip":    types.FieldIP,
	"time":  types.FieldTime,
}

// Parse compiles an OML document: an optional "key : value" header closed
// by a "---" line, followed by ';'-terminated statements.
func Parse(input string) (*Program, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("oml is empty")
	}

	prog := &Program{}
	body, firstLine := input, 1

	lines := strings.Split(strings.ReplaceAll(input, "\r\n", "\n"), "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == headerSeparator {
			if err := parseHeader(prog, lines[:i]); err != nil {
				return nil, err
			}
			body = strings.Join(lines[i+1:], "\n")
			firstLine = i + 2
			break
		}
	}

	p := &parser{lexer: NewLexer(body, firstLine)}
	p.advance()

	for p.current.Type != TokenEOF {
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		prog.Statements = append(prog.Statements, stmt)
	}

	if len(prog.Statements) == 0 {
		return nil, &SyntaxError{Line: p.current.Line, Col: p.current.Col, Msg: "no statements"}
	}

	return prog, nil
}

// parseHeader reads "name" and "rule" entries. A key with an empty value
// collects the indented lines that follow it.
func parseHeader(prog *Program, lines []string) error {
	var key string
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "//") {
			continue
		}

		if k, v, ok := strings.Cut(trimmed, ":"); ok && isHeaderKey(strings.TrimSpace(k)) {
			key = strings.TrimSpace(k)
			if key != "name" && key != "rule" {
				return &SyntaxError{Line: i + 1, Col: 1, Msg: fmt.Sprintf("unknown header key %q", key)}
			}
			trimmed = strings.TrimSpace(v)
			if trimmed == "" {
				continue
			}
		} else if key == "" {
			return &SyntaxError{Line: i + 1, Col: 1, Msg: "expected header entry 'key : value'"}
		}

		switch key {
		case "name":
			prog.Name = strings.TrimSpace(prog.Name + " " + trimmed)
		case "rule":
			for _, pattern := range strings.Fields(trimmed) {
				if _, err := path.Match(pattern, ""); err != nil {
					return &SyntaxError{Line: i + 1, Col: 1, Msg: fmt.Sprintf("invalid rule pattern %q", pattern)}
				}
				prog.Rules = append(prog.Rules, pattern)
			}
		}
	}
	return nil
}

func isHeaderKey(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '_') {
			return false
		}
	}
	return true
}

// parser turns body tokens into statements.
type parser struct {
	lexer   *Lexer
	current Token
}

func (p *parser) advance() {
	p.current = p.lexer.NextToken()
}

func (p *parser) errorf(tok Token, format string, args ...any) error {
	return &SyntaxError{Line: tok.Line, Col: tok.Col, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(t TokenType) (Token, error) {
	tok := p.current
	if tok.Type != t {
		if tok.Type == TokenIllegal {
			return tok, p.errorf(tok, "%s", tok.Value)
		}
		return tok, p.errorf(tok, "expected %s but got %s", t, tok)
	}
	p.advance()
	return tok, nil
}

// parseStatement handles `target [: type] = expr ;`
func (p *parser) parseStatement() (Statement, error) {
	start := p.current
	stmt := Statement{Line: start.Line, Col: start.Col}

	switch start.Type {
	case TokenIdent:
		stmt.Target = start.Value
	case TokenStar:
		stmt.Target = "*"
	default:
		return stmt, p.errorf(start, "expected target field but got %s", start)
	}
	p.advance()

	if p.current.Type == TokenColon {
		if stmt.Target == "*" {
			return stmt, p.errorf(p.current, "wildcard target cannot declare a type")
		}
		p.advance()
		typeTok, err := p.expect(TokenIdent)
		if err != nil {
			return stmt, err
		}
		t, err := types.ParseFieldType(typeTok.Value)
		if err != nil {
			return stmt, p.errorf(typeTok, "%v", err)
		}
		stmt.Type = t
	}

	if _, err := p.expect(TokenAssign); err != nil {
		return stmt, err
	}

	exprTok := p.current
	expr, err := p.parseExpr()
	if err != nil {
		return stmt, err
	}
	stmt.Expr = expr

	if stmt.Target == "*" {
		take, ok := expr.(TakeExpr)
		if !ok || len(take.Keys) > 0 {
			return stmt, p.errorf(exprTok, "wildcard target requires take() or read()")
		}
	}

	if _, err := p.expect(TokenSemi); err != nil {
		return stmt, err
	}
	return stmt, nil
}

func (p *parser) parseExpr() (Expr, error) {
	tok := p.current
	switch tok.Type {
	case TokenString:
		p.advance()
		return LiteralExpr{Value: types.Chars("", tok.Value)}, nil
	case TokenRef:
		p.advance()
		return TakeExpr{Keys: []string{tok.Value}}, nil
	case TokenIdent:
		// handled below
	case TokenIllegal:
		return nil, p.errorf(tok, "%s", tok.Value)
	default:
		return nil, p.errorf(tok, "expected expression but got %s", tok)
	}

	p.advance()

	if p.current.Type == TokenScope {
		return p.parseNow(tok)
	}

	if t, ok := literalTypes[tok.Value]; ok {
		return p.parseLiteral(tok, t)
	}

	switch tok.Value {
	case "take", "read":
		return p.parseTake(tok.Value == "take")
	case "jmes":
		return p.parseJmes()
	case "fmt":
		return p.parseFmt()
	default:
		return nil, p.errorf(tok, "unknown function %q", tok.Value)
	}
}

// parseNow handles Now::time(), Now::date() and Now::hour()
func (p *parser) parseNow(scope Token) (Expr, error) {
	if scope.Value != "Now" {
		return nil, p.errorf(scope, "unknown scope %q", scope.Value)
	}
	p.advance()

	unit, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	switch unit.Value {
	case "time", "date", "hour":
	default:
		return nil, p.errorf(unit, "unknown function Now::%s", unit.Value)
	}

	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return NowExpr{Unit: unit.Value}, nil
}

// parseLiteral reads the raw argument of chars(...), digit(...) and friends
func (p *parser) parseLiteral(fn Token, t types.FieldType) (Expr, error) {
	if p.current.Type != TokenLParen {
		return nil, p.errorf(p.current, "expected %s but got %s", TokenLParen, p.current)
	}
	raw, ok := p.lexer.ReadRaw()
	if !ok {
		return nil, p.errorf(p.current, "unclosed %s(", fn.Value)
	}

	f, err := types.Convert("", t, raw)
	if err != nil {
		return nil, p.errorf(fn, "invalid %s literal %q", fn.Value, raw)
	}
	p.advance()
	return LiteralExpr{Value: f}, nil
}

// parseTake handles take(), take(src), take(option:[a, b])
func (p *parser) parseTake(consume bool) (Expr, error) {
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}

	expr := TakeExpr{Consume: consume}
	switch p.current.Type {
	case TokenRParen:
	case TokenString:
		expr.Keys = []string{p.current.Value}
		p.advance()
	case TokenIdent:
		name := p.current
		p.advance()
		if p.current.Type != TokenColon {
			expr.Keys = []string{name.Value}
			break
		}
		if name.Value != "option" {
			return nil, p.errorf(name, "unknown argument %q", name.Value)
		}
		p.advance()
		keys, err := p.parseKeyList()
		if err != nil {
			return nil, err
		}
		expr.Keys = keys
	default:
		return nil, p.errorf(p.current, "expected field name but got %s", p.current)
	}

	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return expr, nil
}

func (p *parser) parseKeyList() ([]string, error) {
	if _, err := p.expect(TokenLBracket); err != nil {
		return nil, err
	}

	var keys []string
	for {
		switch p.current.Type {
		case TokenIdent, TokenString:
			keys = append(keys, p.current.Value)
			p.advance()
		default:
			return nil, p.errorf(p.current, "expected field name but got %s", p.current)
		}

		if p.current.Type == TokenComma {
			p.advance()
			continue
		}
		if _, err := p.expect(TokenRBracket); err != nil {
			return nil, err
		}
		break
	}
	return keys, nil
}

// parseJmes handles jmes("query")
func (p *parser) parseJmes() (Expr, error) {
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	query, err := p.expect(TokenString)
	if err != nil {
		return nil, err
	}
	compiled, err := jmespath.Compile(query.Value)
	if err != nil {
		return nil, p.errorf(query, "invalid jmespath %q: %v", query.Value, err)
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return JmesExpr{Query: query.Value, compiled: compiled}, nil
}

// parseFmt handles fmt("{}-{}", @a, read(b))
func (p *parser) parseFmt() (Expr, error) {
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	format, err := p.expect(TokenString)
	if err != nil {
		return nil, err
	}

	expr := FmtExpr{Format: format.Value}
	for p.current.Type == TokenComma {
		p.advance()
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		expr.Args = append(expr.Args, arg)
	}

	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	if n := strings.Count(expr.Format, "{}"); n != len(expr.Args) {
		return nil, p.errorf(format, "format has %d placeholders but %d arguments", n, len(expr.Args))
	}
	return expr, nil
}
