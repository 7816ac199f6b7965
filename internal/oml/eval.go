package oml

import (
	"context"
	"fmt"
	"math"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/logdebug/pkg/types"
)

// Engine compiles and applies OML documents to records.
type Engine struct {
	now func() time.Time
}

// NewEngine creates an engine that reads the wall clock for Now:: functions.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// NewEngineWithClock creates an engine with a fixed clock source.
func NewEngineWithClock(now func() time.Time) *Engine {
	return &Engine{now: now}
}

// Name returns the engine name
func (e *Engine) Name() string {
	return "oml"
}

// Transform compiles oml and applies it to rec. rec is never modified.
func (e *Engine) Transform(ctx context.Context, oml string, rec *types.Record) (out *types.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("oml engine panic: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prog, err := Parse(oml)
	if err != nil {
		return nil, err
	}
	return prog.Apply(rec, e.now())
}

// Apply evaluates the program against rec and returns a new record. The
// output keeps the input's Source so the same rule header keeps matching.
func (p *Program) Apply(rec *types.Record, now time.Time) (*types.Record, error) {
	if rec == nil {
		return nil, fmt.Errorf("no input record")
	}
	if !p.Matches(rec.Source) {
		return nil, fmt.Errorf("record source %q does not match rule %s", rec.Source, strings.Join(p.Rules, " "))
	}

	state := &evalState{
		input:    rec,
		consumed: make(map[string]bool),
		now:      now,
	}
	out := types.NewRecord(rec.Source)

	for _, stmt := range p.Statements {
		if stmt.Target == "*" {
			state.copyRemaining(out, stmt.Expr.(TakeExpr).Consume)
			continue
		}

		f, err := state.eval(stmt.Target, stmt.Expr)
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", stmt.Line, stmt.Target, err)
		}
		if stmt.Type != "" {
			if f, err = types.Cast(f, stmt.Type); err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", stmt.Line, stmt.Target, err)
			}
		}
		f.Name = stmt.Target
		out.Set(f.Clone())
	}

	return out, nil
}

// Matches reports whether source satisfies the rule header. A program
// without rules matches every record.
func (p *Program) Matches(source string) bool {
	if len(p.Rules) == 0 {
		return true
	}
	for _, pattern := range p.Rules {
		if ok, _ := path.Match(pattern, source); ok {
			return true
		}
	}
	return false
}

type evalState struct {
	input    *types.Record
	consumed map[string]bool
	now      time.Time
}

func (s *evalState) eval(target string, expr Expr) (types.Field, error) {
	switch e := expr.(type) {
	case TakeExpr:
		return s.take(target, e)
	case LiteralExpr:
		return e.Value, nil
	case NowExpr:
		return s.nowField(e.Unit), nil
	case JmesExpr:
		return s.jmes(e)
	case FmtExpr:
		return s.format(target, e)
	default:
		return types.Field{}, fmt.Errorf("unsupported expression %T", expr)
	}
}

func (s *evalState) take(target string, e TakeExpr) (types.Field, error) {
	keys := e.Keys
	if len(keys) == 0 {
		keys = []string{target}
	}

	for _, key := range keys {
		if e.Consume && s.consumed[key] {
			continue
		}
		if f, ok := s.input.Get(key); ok {
			if e.Consume {
				s.consumed[key] = true
			}
			return f, nil
		}
	}

	if len(keys) == 1 {
		return types.Field{}, fmt.Errorf("field %q not found", keys[0])
	}
	return types.Field{}, fmt.Errorf("none of the fields [%s] found", strings.Join(keys, ", "))
}

// copyRemaining appends input fields not yet present in out, in input
// order. With consume set, fields already taken are skipped.
func (s *evalState) copyRemaining(out *types.Record, consume bool) {
	for _, f := range s.input.Fields {
		if consume && s.consumed[f.Name] {
			continue
		}
		if _, exists := out.Get(f.Name); exists {
			continue
		}
		if consume {
			s.consumed[f.Name] = true
		}
		out.Set(f.Clone())
	}
}

func (s *evalState) nowField(unit string) types.Field {
	switch unit {
	case "date":
		return types.Digit("", dateDigits(s.now))
	case "hour":
		return types.Digit("", dateDigits(s.now)*100+int64(s.now.Hour()))
	default:
		return types.Time("", s.now)
	}
}

// dateDigits renders t as YYYYMMDD
func dateDigits(t time.Time) int64 {
	return int64(t.Year())*10000 + int64(t.Month())*100 + int64(t.Day())
}

func (s *evalState) jmes(e JmesExpr) (types.Field, error) {
	res, err := e.compiled.Search(s.input.AsMap())
	if err != nil {
		return types.Field{}, fmt.Errorf("jmespath search failed: %w", err)
	}
	if res == nil {
		return types.Field{}, fmt.Errorf("jmes(%q) produced no value", e.Query)
	}
	return fromNative("", res)
}

func (s *evalState) format(target string, e FmtExpr) (types.Field, error) {
	var b strings.Builder
	rest := e.Format
	for _, arg := range e.Args {
		f, err := s.eval(target, arg)
		if err != nil {
			return types.Field{}, err
		}
		if !f.IsScalar() {
			return types.Field{}, fmt.Errorf("cannot format %s field %q", f.Type, f.Name)
		}
		i := strings.Index(rest, "{}")
		b.WriteString(rest[:i])
		b.WriteString(f.Text())
		rest = rest[i+2:]
	}
	b.WriteString(rest)
	return types.Chars("", b.String()), nil
}

// fromNative maps a JMESPath result back onto a field. Whole numbers
// become digits since records expose digits to queries as float64.
func fromNative(name string, v any) (types.Field, error) {
	switch val := v.(type) {
	case nil:
		return types.Chars(name, ""), nil
	case string:
		return types.Chars(name, val), nil
	case bool:
		return types.Bool(name, val), nil
	case float64:
		if !types.Finite(val) {
			return types.Field{}, fmt.Errorf("jmespath result %s is not a finite number", types.FormatFloat(val))
		}
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return types.Digit(name, int64(val)), nil
		}
		return types.Float(name, val), nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		nested := types.NewRecord("")
		for _, k := range keys {
			f, err := fromNative(k, val[k])
			if err != nil {
				return types.Field{}, err
			}
			nested.Set(f)
		}
		return types.Obj(name, nested), nil
	case []any:
		items := make([]types.Field, 0, len(val))
		for _, item := range val {
			f, err := fromNative("", item)
			if err != nil {
				return types.Field{}, err
			}
			items = append(items, f)
		}
		return types.Array(name, items), nil
	default:
		return types.Field{}, fmt.Errorf("unsupported jmespath result %T", v)
	}
}
