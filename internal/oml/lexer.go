package oml

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// TokenType represents the type of a lexical token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenIllegal
	TokenIdent
	TokenString
	TokenRef // @name
	TokenColon
	TokenScope // ::
	TokenAssign
	TokenSemi
	TokenComma
	TokenStar
	TokenLParen
	TokenRParen
	TokenLBracket
	TokenRBracket
)

var tokenNames = map[TokenType]string{
	TokenEOF:      "end of input",
	TokenIllegal:  "illegal token",
	TokenIdent:    "identifier",
	TokenString:   "string",
	TokenRef:      "field reference",
	TokenColon:    "':'",
	TokenScope:    "'::'",
	TokenAssign:   "'='",
	TokenSemi:     "';'",
	TokenComma:    "','",
	TokenStar:     "'*'",
	TokenLParen:   "'('",
	TokenRParen:   "')'",
	TokenLBracket: "'['",
	TokenRBracket: "']'",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// Token represents a lexical token and where it starts.
type Token struct {
	Type  TokenType
	Value string
	Line  int
	Col   int
}

func (t Token) String() string {
	switch t.Type {
	case TokenIdent, TokenString, TokenIllegal:
		return fmt.Sprintf("%s %q", t.Type, t.Value)
	case TokenRef:
		return "@" + t.Value
	default:
		return t.Type.String()
	}
}

// Lexer tokenizes an OML statement body.
type Lexer struct {
	input     string
	pos       int
	line      int
	lineStart int
}

// NewLexer creates a Lexer whose first line is reported as firstLine.
func NewLexer(input string, firstLine int) *Lexer {
	if firstLine < 1 {
		firstLine = 1
	}
	return &Lexer{input: input, line: firstLine}
}

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()

	line, col := l.line, l.col()
	tok := func(t TokenType, v string) Token {
		return Token{Type: t, Value: v, Line: line, Col: col}
	}

	if l.pos >= len(l.input) {
		return tok(TokenEOF, "")
	}

	ch := l.input[l.pos]
	switch ch {
	case ':':
		if l.peek(1) == ':' {
			l.pos += 2
			return tok(TokenScope, "::")
		}
		l.pos++
		return tok(TokenColon, ":")
	case '=':
		l.pos++
		return tok(TokenAssign, "=")
	case ';':
		l.pos++
		return tok(TokenSemi, ";")
	case ',':
		l.pos++
		return tok(TokenComma, ",")
	case '*':
		l.pos++
		return tok(TokenStar, "*")
	case '(':
		l.pos++
		return tok(TokenLParen, "(")
	case ')':
		l.pos++
		return tok(TokenRParen, ")")
	case '[':
		l.pos++
		return tok(TokenLBracket, "[")
	case ']':
		l.pos++
		return tok(TokenRBracket, "]")
	case '"':
		value, ok := l.readString()
		if !ok {
			return tok(TokenIllegal, "unterminated string")
		}
		return tok(TokenString, value)
	case '@':
		l.pos++
		if l.pos >= len(l.input) || !isIdentChar(l.input[l.pos]) {
			return tok(TokenIllegal, "@")
		}
		return tok(TokenRef, l.readIdent())
	}

	if isIdentChar(ch) {
		return tok(TokenIdent, l.readIdent())
	}

	l.pos++
	return tok(TokenIllegal, string(ch))
}

// ReadRaw consumes text up to the ')' that closes an already consumed '('.
// Quoted text is unquoted; anything else is trimmed.
func (l *Lexer) ReadRaw() (string, bool) {
	start := l.pos
	depth := 0
	for l.pos < len(l.input) {
		switch l.input[l.pos] {
		case '\n':
			l.newline()
		case '(':
			depth++
		case ')':
			if depth == 0 {
				raw := strings.TrimSpace(l.input[start:l.pos])
				l.pos++
				if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
					if s, err := strconv.Unquote(raw); err == nil {
						return s, true
					}
					return raw[1 : len(raw)-1], true
				}
				return raw, true
			}
			depth--
		}
		l.pos++
	}
	return "", false
}

func (l *Lexer) col() int {
	return l.pos - l.lineStart + 1
}

func (l *Lexer) peek(offset int) byte {
	if l.pos+offset < len(l.input) {
		return l.input[l.pos+offset]
	}
	return 0
}

func (l *Lexer) newline() {
	l.line++
	l.lineStart = l.pos + 1
}

// skipWhitespace also skips '#' and '//' comments
func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		switch {
		case ch == '\n':
			l.newline()
			l.pos++
		case unicode.IsSpace(rune(ch)):
			l.pos++
		case ch == '#', ch == '/' && l.peek(1) == '/':
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.pos++
			}
		default:
			return
		}
	}
}

func (l *Lexer) readString() (string, bool) {
	start := l.pos
	l.pos++ // skip opening quote
	for l.pos < len(l.input) {
		switch l.input[l.pos] {
		case '\\':
			l.pos += 2
			continue
		case '\n':
			return "", false
		case '"':
			l.pos++
			quoted := l.input[start:l.pos]
			if s, err := strconv.Unquote(quoted); err == nil {
				return s, true
			}
			return quoted[1 : len(quoted)-1], true
		}
		l.pos++
	}
	return "", false
}

func (l *Lexer) readIdent() string {
	start := l.pos
	for l.pos < len(l.input) && isIdentChar(l.input[l.pos]) {
		l.pos++
	}
	return l.input[start:l.pos]
}

func isIdentChar(ch byte) bool {
	r := rune(ch)
	return unicode.IsLetter(r) || unicode.IsDigit(r) || ch == '_' || ch == '-' || ch == '.' || ch == '/'
}
