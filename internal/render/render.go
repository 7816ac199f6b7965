// Package render turns records into the field list and canonical text
// returned to debug clients.
package render

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/therealutkarshpriyadarshi/logdebug/internal/pool"
	"github.com/therealutkarshpriyadarshi/logdebug/pkg/types"
)

// Encoding names a canonical text format
type Encoding string

const (
	JSON Encoding = "json"
	YAML Encoding = "yaml"
	KV   Encoding = "kv"

	DefaultEncoding = JSON
)

// ErrUnknownEncoding is returned for encodings missing from the table
var ErrUnknownEncoding = errors.New("unknown encoding")

// Encoder serializes a whole record. Encoders must not modify the record.
type Encoder func(rec *types.Record) (string, error)

var encoders = map[Encoding]Encoder{
	JSON: encodeJSON,
	YAML: encodeYAML,
	KV:   encodeKV,
}

// ParsedField is the display projection of a single field
type ParsedField struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// ParseEncoding resolves a client supplied encoding name. The empty string
// selects DefaultEncoding.
func ParseEncoding(s string) (Encoding, error) {
	if s == "" {
		return DefaultEncoding, nil
	}
	enc := Encoding(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := encoders[enc]; !ok {
		return "", fmt.Errorf("%w: %q (supported: %s)", ErrUnknownEncoding, s, strings.Join(names(), ", "))
	}
	return enc, nil
}

// Encodings lists the supported encodings in name order
func Encodings() []Encoding {
	out := make([]Encoding, 0, len(encoders))
	for enc := range encoders {
		out = append(out, enc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func names() []string {
	encs := Encodings()
	out := make([]string, len(encs))
	for i, enc := range encs {
		out[i] = string(enc)
	}
	return out
}

// Render serializes rec in the requested encoding
func Render(rec *types.Record, enc Encoding) (string, error) {
	encode, ok := encoders[enc]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEncoding, enc)
	}
	if rec == nil {
		return "", fmt.Errorf("cannot render a nil record")
	}
	return encode(rec)
}

// Fields lists rec's top-level fields in order. Nested values are shown
// as their canonical JSON text.
func Fields(rec *types.Record) []ParsedField {
	out := make([]ParsedField, 0, rec.Len())
	if rec == nil {
		return out
	}
	for _, f := range rec.Fields {
		out = append(out, ParsedField{
			Name:  f.Name,
			Type:  string(f.Type),
			Value: Value(f),
		})
	}
	return out
}

// Value renders one field value as display text
func Value(f types.Field) string {
	if f.IsScalar() {
		return f.Text()
	}
	b := pool.GetBuffer()
	defer pool.PutBuffer(b)

	writeJSONValue(b, f)
	return b.String()
}
