package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/logdebug/pkg/types"
)

// KVParser extracts key=value pairs from a log line
type KVParser struct {
	fieldSplit string
	valueSplit string
	fields     *fieldBuilder
}

// NewKVParser creates a new key-value parser
func NewKVParser(cfg *ParserConfig) (*KVParser, error) {
	fields, err := newFieldBuilder(cfg)
	if err != nil {
		return nil, err
	}

	fieldSplit := cfg.FieldSplit
	if fieldSplit == "" {
		fieldSplit = " "
	}

	valueSplit := cfg.ValueSplit
	if valueSplit == "" {
		valueSplit = "="
	}

	return &KVParser{
		fieldSplit: fieldSplit,
		valueSplit: valueSplit,
		fields:     fields,
	}, nil
}

// Parse extracts pairs in the order they appear in the line. Double-quoted
// values may contain the field separator and Go-style escapes.
func (p *KVParser) Parse(line string) (*types.Record, error) {
	if line == "" {
		return nil, ErrEmptyInput
	}

	rec := p.fields.newRecord()
	for _, pair := range splitUnquoted(line, p.fieldSplit) {
		kv := strings.SplitN(pair, p.valueSplit, 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		if key == "" {
			continue
		}
		value := unquoteValue(strings.TrimSpace(kv[1]))
		if err := p.fields.text(rec, key, value); err != nil {
			return nil, err
		}
	}

	if rec.Len() == 0 {
		return nil, fmt.Errorf("no key%svalue pairs found in log line: %q", p.valueSplit, truncate(line, 120))
	}

	return p.fields.finish(rec)
}

// Name returns the parser name
func (p *KVParser) Name() string {
	return "kv"
}

// splitUnquoted splits s on sep, ignoring separators inside double quotes
func splitUnquoted(s, sep string) []string {
	var parts []string
	inQuote, escaped := false, false
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inQuote && c == '\\':
			escaped = true
		case c == '"':
			inQuote = !inQuote
		case !inQuote && strings.HasPrefix(s[i:], sep):
			parts = append(parts, s[start:i])
			start = i + len(sep)
			i += len(sep) - 1
		}
	}
	return append(parts, s[start:])
}

func unquoteValue(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		if u, err := strconv.Unquote(v); err == nil {
			return u
		}
	}
	return strings.Trim(v, `"`)
}
