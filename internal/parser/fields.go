package parser

import (
	"fmt"
	"sort"

	"github.com/therealutkarshpriyadarshi/logdebug/pkg/types"
)

// fieldBuilder applies declared types, inference and custom fields while
// a parser fills a record
type fieldBuilder struct {
	source      string
	declared    map[string]types.FieldType
	timeFormats []string
	inferTypes  bool
	custom      map[string]string
}

func newFieldBuilder(cfg *ParserConfig) (*fieldBuilder, error) {
	declared := make(map[string]types.FieldType, len(cfg.Fields))
	for name, typeName := range cfg.Fields {
		t, err := types.ParseFieldType(typeName)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		declared[name] = t
	}

	var timeFormats []string
	if cfg.TimeFormat != "" {
		timeFormats = []string{cfg.TimeFormat}
	}

	return &fieldBuilder{
		source:      cfg.Name,
		declared:    declared,
		timeFormats: timeFormats,
		inferTypes:  cfg.InferTypes,
		custom:      cfg.CustomFields,
	}, nil
}

// declare registers a default type unless the rules already declare one
func (b *fieldBuilder) declare(name string, t types.FieldType) {
	if _, ok := b.declared[name]; !ok {
		b.declared[name] = t
	}
}

func (b *fieldBuilder) newRecord() *types.Record {
	return types.NewRecord(b.source)
}

// text adds a field extracted as text
func (b *fieldBuilder) text(rec *types.Record, name, value string) error {
	if t, ok := b.declared[name]; ok {
		f, err := types.Convert(name, t, value, b.timeFormats...)
		if err != nil {
			return err
		}
		rec.Set(f)
		return nil
	}

	if b.inferTypes {
		rec.Set(types.Infer(name, value))
		return nil
	}

	rec.Set(types.Chars(name, value))
	return nil
}

// typed adds a field that already carries a type, casting it when the
// rules declare a different one
func (b *fieldBuilder) typed(rec *types.Record, f types.Field) error {
	if t, ok := b.declared[f.Name]; ok && t != f.Type {
		cast, err := types.Cast(f, t)
		if err != nil {
			return err
		}
		f = cast
	}
	rec.Set(f)
	return nil
}

// finish appends custom fields in key order
func (b *fieldBuilder) finish(rec *types.Record) (*types.Record, error) {
	keys := make([]string, 0, len(b.custom))
	for k := range b.custom {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := b.text(rec, k, b.custom[k]); err != nil {
			return nil, err
		}
	}
	return rec, nil
}
