package types

import (
	"net/netip"
	"strconv"
	"time"
)

// FieldType names the value kind carried by a Field
type FieldType string

const (
	FieldChars FieldType = "chars"
	FieldDigit FieldType = "digit"
	FieldFloat FieldType = "float"
	FieldBool  FieldType = "bool"
	FieldTime  FieldType = "time"
	FieldIP    FieldType = "ip"
	FieldObj   FieldType = "obj"
	FieldArray FieldType = "array"
)

// TimeLayout is the textual layout used for time fields
const TimeLayout = time.RFC3339Nano

// Field is a single named, typed value of a Record.
//
// Value holds string, int64, float64, bool, time.Time, netip.Addr,
// *Record or []Field depending on Type. Array elements are unnamed fields.
type Field struct {
	Name  string    `json:"name"`
	Type  FieldType `json:"type"`
	Value any       `json:"value"`
}

// Record is an ordered set of fields produced by a parse or transform stage
type Record struct {
	Source string  `json:"source,omitempty"`
	Fields []Field `json:"fields"`
}

// NewRecord creates an empty record for the given source rule
func NewRecord(source string) *Record {
	return &Record{Source: source, Fields: make([]Field, 0, 8)}
}

// Len returns the number of top-level fields
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Fields)
}

// Get looks up a top-level field by name
func (r *Record) Get(name string) (Field, bool) {
	if r == nil {
		return Field{}, false
	}
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Set replaces a field with the same name in place, or appends it
func (r *Record) Set(f Field) {
	for i := range r.Fields {
		if r.Fields[i].Name == f.Name {
			r.Fields[i] = f
			return
		}
	}
	r.Fields = append(r.Fields, f)
}

// Names returns field names in declaration order
func (r *Record) Names() []string {
	names := make([]string, 0, r.Len())
	if r == nil {
		return names
	}
	for _, f := range r.Fields {
		names = append(names, f.Name)
	}
	return names
}

// Clone returns a deep copy that shares no mutable state with r
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{Source: r.Source, Fields: make([]Field, len(r.Fields))}
	for i, f := range r.Fields {
		out.Fields[i] = f.Clone()
	}
	return out
}

// Clone returns a deep copy of the field
func (f Field) Clone() Field {
	switch v := f.Value.(type) {
	case *Record:
		f.Value = v.Clone()
	case []Field:
		items := make([]Field, len(v))
		for i, item := range v {
			items[i] = item.Clone()
		}
		f.Value = items
	}
	return f
}

// Text renders a scalar value as plain text. Nested values return "".
func (f Field) Text() string {
	switch v := f.Value.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return FormatFloat(v)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(TimeLayout)
	case netip.Addr:
		return v.String()
	case nil:
		return ""
	default:
		return ""
	}
}

// IsScalar reports whether the field holds a non-nested value
func (f Field) IsScalar() bool {
	return f.Type != FieldObj && f.Type != FieldArray
}

// FormatFloat renders floats the same way everywhere a float is printed
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// AsMap converts the record into plain Go values suitable for JSON-shaped
// queries. Numbers become float64, times and addresses become strings.
func (r *Record) AsMap() map[string]any {
	out := make(map[string]any, r.Len())
	if r == nil {
		return out
	}
	for _, f := range r.Fields {
		out[f.Name] = f.native()
	}
	return out
}

func (f Field) native() any {
	switch v := f.Value.(type) {
	case *Record:
		return v.AsMap()
	case []Field:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = item.native()
		}
		return items
	case int64:
		return float64(v)
	case float64, bool, string:
		return v
	default:
		return f.Text()
	}
}

// Field constructors

func Chars(name, v string) Field { return Field{Name: name, Type: FieldChars, Value: v} }

func Digit(name string, v int64) Field { return Field{Name: name, Type: FieldDigit, Value: v} }

func Float(name string, v float64) Field { return Field{Name: name, Type: FieldFloat, Value: v} }

func Bool(name string, v bool) Field { return Field{Name: name, Type: FieldBool, Value: v} }

func Time(name string, v time.Time) Field { return Field{Name: name, Type: FieldTime, Value: v} }

func IP(name string, v netip.Addr) Field { return Field{Name: name, Type: FieldIP, Value: v} }

func Obj(name string, v *Record) Field { return Field{Name: name, Type: FieldObj, Value: v} }

func Array(name string, v []Field) Field { return Field{Name: name, Type: FieldArray, Value: v} }
