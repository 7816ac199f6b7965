package oml

import (
	"github.com/jmespath/go-jmespath"
	"github.com/therealutkarshpriyadarshi/logdebug/pkg/types"
)

// Program is a compiled OML document.
type Program struct {
	Name       string
	Rules      []string
	Statements []Statement
}

// Statement assigns the value of Expr to Target. A Target of "*" copies
// the remaining input fields.
type Statement struct {
	Target string
	Type   types.FieldType // optional cast
	Expr   Expr
	Line   int
	Col    int
}

// Expr is the interface implemented by all expression nodes.
type Expr interface {
	expr() // marker method
}

// TakeExpr returns the first input field present among Keys. An empty
// Keys list means the statement target. Consumed fields are skipped by
// later take() calls and by "* = take()".
type TakeExpr struct {
	Keys    []string
	Consume bool
}

func (TakeExpr) expr() {}

// LiteralExpr is a constant value checked at compile time.
type LiteralExpr struct {
	Value types.Field
}

func (LiteralExpr) expr() {}

// NowExpr reads the evaluation clock. Unit is time, date or hour.
type NowExpr struct {
	Unit string
}

func (NowExpr) expr() {}

// JmesExpr runs a JMESPath query over the whole input record.
type JmesExpr struct {
	Query    string
	compiled *jmespath.JMESPath
}

func (JmesExpr) expr() {}

// FmtExpr substitutes each "{}" in Format with the text of the next argument.
type FmtExpr struct {
	Format string
	Args   []Expr
}

func (FmtExpr) expr() {}
