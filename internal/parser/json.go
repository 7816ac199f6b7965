package parser

import (
	"fmt"

	"github.com/therealutkarshpriyadarshi/logdebug/pkg/types"
	"github.com/valyala/fastjson"
)

// JSONParser parses JSON-formatted log lines, keeping the document's key order
type JSONParser struct {
	fields  *fieldBuilder
	parsers fastjson.ParserPool
}

// NewJSONParser creates a new JSON parser
func NewJSONParser(cfg *ParserConfig) (*JSONParser, error) {
	fields, err := newFieldBuilder(cfg)
	if err != nil {
		return nil, err
	}
	return &JSONParser{fields: fields}, nil
}

// Parse parses a JSON log line. The document must be an object.
func (p *JSONParser) Parse(line string) (*types.Record, error) {
	if line == "" {
		return nil, ErrEmptyInput
	}

	jp := p.parsers.Get()
	defer p.parsers.Put(jp)

	v, err := jp.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}

	obj, err := v.Object()
	if err != nil {
		return nil, fmt.Errorf("json log must be an object, got %s", v.Type())
	}

	rec := p.fields.newRecord()
	var visitErr error
	obj.Visit(func(key []byte, val *fastjson.Value) {
		if visitErr != nil {
			return
		}
		f, err := jsonField(string(key), val)
		if err != nil {
			visitErr = err
			return
		}
		if f.Type == types.FieldChars {
			visitErr = p.fields.text(rec, f.Name, f.Value.(string))
			return
		}
		visitErr = p.fields.typed(rec, f)
	})
	if visitErr != nil {
		return nil, visitErr
	}

	return p.fields.finish(rec)
}

// Name returns the parser name
func (p *JSONParser) Name() string {
	return "json"
}

// jsonField copies a fastjson value into a Field. The value must not be
// retained because the parser is returned to the pool afterwards.
func jsonField(name string, v *fastjson.Value) (types.Field, error) {
	switch v.Type() {
	case fastjson.TypeString:
		return types.Chars(name, string(v.GetStringBytes())), nil
	case fastjson.TypeNumber:
		if n, err := v.Int64(); err == nil {
			return types.Digit(name, n), nil
		}
		n, err := v.Float64()
		if err != nil {
			return types.Field{}, fmt.Errorf("field %s: %w", name, err)
		}
		if !types.Finite(n) {
			return types.Field{}, fmt.Errorf("field %s: non-finite number %s", name, v.String())
		}
		return types.Float(name, n), nil
	case fastjson.TypeTrue:
		return types.Bool(name, true), nil
	case fastjson.TypeFalse:
		return types.Bool(name, false), nil
	case fastjson.TypeNull:
		return types.Chars(name, ""), nil
	case fastjson.TypeObject:
		obj, _ := v.Object()
		nested := types.NewRecord("")
		var err error
		obj.Visit(func(key []byte, val *fastjson.Value) {
			if err != nil {
				return
			}
			var f types.Field
			f, err = jsonField(string(key), val)
			if err == nil {
				nested.Set(f)
			}
		})
		if err != nil {
			return types.Field{}, err
		}
		return types.Obj(name, nested), nil
	case fastjson.TypeArray:
		arr, _ := v.Array()
		items := make([]types.Field, 0, len(arr))
		for _, item := range arr {
			f, err := jsonField("", item)
			if err != nil {
				return types.Field{}, err
			}
			items = append(items, f)
		}
		return types.Array(name, items), nil
	default:
		return types.Field{}, fmt.Errorf("field %s: unsupported json type %s", name, v.Type())
	}
}
