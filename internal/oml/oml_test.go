package oml

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/logdebug/pkg/types"
)

var fixedNow = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func sampleRecord() *types.Record {
	user := types.NewRecord("")
	user.Set(types.Chars("id", "u-1"))
	user.Set(types.Digit("age", 30))

	rec := types.NewRecord("/example/simple")
	rec.Set(types.Chars("sip", "222.133.52.20"))
	rec.Set(types.Chars("recv_time", "2019-08-06T12:12:19+08:00"))
	rec.Set(types.Digit("status", 200))
	rec.Set(types.Chars("agent", "curl"))
	rec.Set(types.Obj("user", user))
	return rec
}

func TestLexer(t *testing.T) {
	tests := []struct {
		input    string
		expected []TokenType
	}{
		{"a = take() ;", []TokenType{TokenIdent, TokenAssign, TokenIdent, TokenLParen, TokenRParen, TokenSemi, TokenEOF}},
		{"a : digit = read(b);", []TokenType{TokenIdent, TokenColon, TokenIdent, TokenAssign, TokenIdent, TokenLParen, TokenIdent, TokenRParen, TokenSemi, TokenEOF}},
		{"x = Now::time();", []TokenType{TokenIdent, TokenAssign, TokenIdent, TokenScope, TokenIdent, TokenLParen, TokenRParen, TokenSemi, TokenEOF}},
		{`* = take(option:[src-ip, "b"]);`, []TokenType{TokenStar, TokenAssign, TokenIdent, TokenLParen, TokenIdent, TokenColon, TokenLBracket, TokenIdent, TokenComma, TokenString, TokenRBracket, TokenRParen, TokenSemi, TokenEOF}},
		{"# comment\nx = @a; // trailing", []TokenType{TokenIdent, TokenAssign, TokenRef, TokenSemi, TokenEOF}},
		{`"open`, []TokenType{TokenIllegal}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			lexer := NewLexer(tt.input, 1)
			for i, expected := range tt.expected {
				tok := lexer.NextToken()
				if tok.Type != expected {
					t.Errorf("token %d: expected %v, got %v (%q)", i, expected, tok.Type, tok.Value)
				}
			}
		})
	}
}

func TestLexer_Positions(t *testing.T) {
	lexer := NewLexer("a = b;\n  c", 5)
	var last Token
	for tok := lexer.NextToken(); tok.Type != TokenEOF; tok = lexer.NextToken() {
		last = tok
	}
	if last.Value != "c" || last.Line != 6 || last.Col != 3 {
		t.Errorf("last token = %+v, want c at 6:3", last)
	}
}

func TestParse_Header(t *testing.T) {
	prog, err := Parse(`name : /oml/example/simple

rule :
    /example/simple*
    /other/*
---
recv_time  = take() ;
*  = take() ;`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if prog.Name != "/oml/example/simple" {
		t.Errorf("Name = %q", prog.Name)
	}
	if !reflect.DeepEqual(prog.Rules, []string{"/example/simple*", "/other/*"}) {
		t.Errorf("Rules = %v", prog.Rules)
	}
	if len(prog.Statements) != 2 {
		t.Fatalf("Statements = %d, want 2", len(prog.Statements))
	}
	if prog.Statements[0].Line != 7 {
		t.Errorf("first statement line = %d, want 7", prog.Statements[0].Line)
	}
	if !prog.Matches("/example/simple") || prog.Matches("/example/other") {
		t.Error("Matches() did not apply rule globs")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantLine int
		wantCol  int
	}{
		{"missing semicolon", "a = take()\nb = take();", 2, 1},
		{"unknown function", "a = grab();", 1, 5},
		{"unknown type", "a : decimal = take();", 1, 5},
		{"bad literal", "a = digit(abc);", 1, 5},
		{"unclosed literal", "a = chars(abc;", 1, 10},
		{"wildcard with source", "* = take(a);", 1, 5},
		{"wildcard with type", "* : chars = take();", 1, 3},
		{"bad jmespath", `a = jmes("user.[");`, 1, 10},
		{"fmt arity", `a = fmt("{}-{}", @x);`, 1, 9},
		{"unknown scope", "a = Later::time();", 1, 5},
		{"unknown header key", "owner : me\n---\na = take();", 1, 1},
		{"empty option list", "a = take(option:[]);", 1, 18},
		{"only comments", "# nothing here\n", 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			var syntaxErr *SyntaxError
			if !errors.As(err, &syntaxErr) {
				t.Fatalf("Parse() error = %v, want SyntaxError", err)
			}
			if syntaxErr.Line != tt.wantLine || syntaxErr.Col != tt.wantCol {
				t.Errorf("position = %d:%d, want %d:%d (%v)", syntaxErr.Line, syntaxErr.Col, tt.wantLine, tt.wantCol, err)
			}
		})
	}

	if _, err := Parse("  \n"); err == nil {
		t.Error("expected error for empty oml")
	}
}

func TestEngine_Transform(t *testing.T) {
	engine := NewEngineWithClock(func() time.Time { return fixedNow })
	ctx := context.Background()

	tests := []struct {
		name      string
		oml       string
		wantNames []string
		check     func(t *testing.T, out *types.Record)
	}{
		{
			name:      "rename with type",
			oml:       "http_status : chars = take(status) ;",
			wantNames: []string{"http_status"},
			check: func(t *testing.T, out *types.Record) {
				f, _ := out.Get("http_status")
				if f.Type != types.FieldChars || f.Value != "200" {
					t.Errorf("http_status = %+v", f)
				}
			},
		},
		{
			name: "example document",
			oml: `name : /oml/example/simple
rule :
    /example/simple*
---
recv_time  : time = take() ;
occur_time = Now::time() ;
src_ip     = take(option:[src-ip,sip,source-ip] );
*  = take() ;`,
			wantNames: []string{"recv_time", "occur_time", "src_ip", "status", "agent", "user"},
			check: func(t *testing.T, out *types.Record) {
				f, _ := out.Get("occur_time")
				if f.Type != types.FieldTime || !f.Value.(time.Time).Equal(fixedNow) {
					t.Errorf("occur_time = %+v", f)
				}
				f, _ = out.Get("recv_time")
				if f.Type != types.FieldTime {
					t.Errorf("recv_time type = %s, want time", f.Type)
				}
				if out.Source != "/example/simple" {
					t.Errorf("Source = %q", out.Source)
				}
			},
		},
		{
			name:      "read does not consume",
			oml:       "a = read(agent); * = take();",
			wantNames: []string{"a", "sip", "recv_time", "status", "agent", "user"},
		},
		{
			name:      "wildcard read keeps taken fields",
			oml:       "status = take(); * = read();",
			wantNames: []string{"status", "sip", "recv_time", "agent", "user"},
		},
		{
			name:      "literals and now",
			oml:       "env = chars(prod); port = digit(8080); addr = ip(10.0.0.1); day = Now::date(); hour = Now::hour(); tag = \"x y\";",
			wantNames: []string{"env", "port", "addr", "day", "hour", "tag"},
			check: func(t *testing.T, out *types.Record) {
				day, _ := out.Get("day")
				hour, _ := out.Get("hour")
				if day.Value != int64(20240115) || hour.Value != int64(2024011510) {
					t.Errorf("day = %v, hour = %v", day.Value, hour.Value)
				}
				addr, _ := out.Get("addr")
				if addr.Type != types.FieldIP {
					t.Errorf("addr type = %s", addr.Type)
				}
			},
		},
		{
			name:      "jmes",
			oml:       `uid = jmes("user.id"); age = jmes("user.age"); user = jmes("user");`,
			wantNames: []string{"uid", "age", "user"},
			check: func(t *testing.T, out *types.Record) {
				uid, _ := out.Get("uid")
				age, _ := out.Get("age")
				if uid.Value != "u-1" || age.Type != types.FieldDigit || age.Value != int64(30) {
					t.Errorf("uid = %+v, age = %+v", uid, age)
				}
				user, _ := out.Get("user")
				if got := user.Value.(*types.Record).Names(); !reflect.DeepEqual(got, []string{"age", "id"}) {
					t.Errorf("user names = %v", got)
				}
			},
		},
		{
			name:      "fmt",
			oml:       `summary = fmt("{} from {}", @status, read(sip));`,
			wantNames: []string{"summary"},
			check: func(t *testing.T, out *types.Record) {
				f, _ := out.Get("summary")
				if f.Value != "200 from 222.133.52.20" {
					t.Errorf("summary = %q", f.Value)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := sampleRecord()
			out, err := engine.Transform(ctx, tt.oml, in)
			if err != nil {
				t.Fatalf("Transform() error = %v", err)
			}
			if got := out.Names(); !reflect.DeepEqual(got, tt.wantNames) {
				t.Errorf("Names() = %v, want %v", got, tt.wantNames)
			}
			if tt.check != nil {
				tt.check(t, out)
			}
			if !reflect.DeepEqual(in, sampleRecord()) {
				t.Error("input record was modified")
			}
		})
	}
}

func TestEngine_TransformErrors(t *testing.T) {
	engine := NewEngine()
	ctx := context.Background()

	tests := []struct {
		name    string
		oml     string
		wantMsg string
	}{
		{"missing field", "a = take(nope);", `field "nope" not found`},
		{"missing options", "a = take(option:[x, y]);", "none of the fields [x, y] found"},
		{"taken twice", "a = take(agent); b = take(agent);", `field "agent" not found`},
		{"bad cast", "agent : digit = take();", "is not a digit"},
		{"nested cast", "user : chars = take();", "cannot cast obj"},
		{"rule mismatch", "rule : /nginx/*\n---\na = take(agent);", "does not match rule"},
		{"jmes no value", `a = jmes("missing");`, "produced no value"},
		{"fmt nested", `a = fmt("{}", @user);`, "cannot format obj"},
		{"syntax", "a = ;", "syntax error at line 1, column 5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Transform(ctx, tt.oml, sampleRecord())
			if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Transform() error = %v, want %q", err, tt.wantMsg)
			}
		})
	}

	if _, err := engine.Transform(ctx, "a = take();", nil); err == nil {
		t.Error("expected error for nil record")
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := engine.Transform(cctx, "a = take();", sampleRecord()); !errors.Is(err, context.Canceled) {
		t.Errorf("Transform() error = %v, want context.Canceled", err)
	}
}

func TestEngine_TransformRejectsUnrepresentableNumbers(t *testing.T) {
	engine := NewEngine()
	ctx := context.Background()

	big := types.NewRecord("/example/json")
	big.Set(types.Float("a", 1e30))
	if _, err := engine.Transform(ctx, "a : digit = take();", big); err == nil || !strings.Contains(err.Error(), "out of digit range") {
		t.Errorf("Transform() error = %v, want out of digit range", err)
	}

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		rec := types.NewRecord("/example/json")
		rec.Set(types.Float("a", v))
		if _, err := engine.Transform(ctx, `b = jmes("a");`, rec); err == nil || !strings.Contains(err.Error(), "not a finite number") {
			t.Errorf("jmes over %v: error = %v, want non-finite error", v, err)
		}
	}

	if _, err := fromNative("n", []any{1.0, math.Inf(-1)}); err == nil {
		t.Error("expected error for non-finite array item")
	}
}

func TestProgram_ApplyIsRepeatable(t *testing.T) {
	prog, err := Parse("http_status = take(status); * = take();")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	first, err := prog.Apply(sampleRecord(), fixedNow)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	second, err := prog.Apply(sampleRecord(), fixedNow)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("Apply() results differ between runs")
	}

	// applying again to its own output fails: status is gone
	if _, err := prog.Apply(first, fixedNow); err == nil {
		t.Error("expected error re-applying a rename to its output")
	}
}
