package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/therealutkarshpriyadarshi/logdebug/pkg/types"
	"gopkg.in/yaml.v3"
)

// Parser defines the interface for log parsers
type Parser interface {
	// Parse parses one raw log event into a Record
	Parse(event string) (*types.Record, error)

	// Name returns the parser name
	Name() string
}

// ParserType represents different parser types
type ParserType string

const (
	ParserTypeRegex  ParserType = "regex"
	ParserTypeJSON   ParserType = "json"
	ParserTypeGrok   ParserType = "grok"
	ParserTypeKV     ParserType = "kv"
	ParserTypeSyslog ParserType = "syslog"
)

// ParserConfig is the rule document submitted with a parse request
type ParserConfig struct {
	Name         string            `yaml:"name,omitempty"`          // Rule name, becomes Record.Source
	Type         ParserType        `yaml:"type"`                    // Parser type
	Pattern      string            `yaml:"pattern,omitempty"`       // For regex/grok parsers
	GrokPattern  string            `yaml:"grok_pattern,omitempty"`  // Named grok pattern
	Format       string            `yaml:"format,omitempty"`        // Syslog flavour: rfc5424 or rfc3164
	Fields       map[string]string `yaml:"fields,omitempty"`        // Declared field types
	InferTypes   bool              `yaml:"infer_types,omitempty"`   // Infer digit/float/bool for undeclared fields
	TimeFormat   string            `yaml:"time_format,omitempty"`   // Layout for time fields
	FieldSplit   string            `yaml:"field_split,omitempty"`   // Pair separator for kv
	ValueSplit   string            `yaml:"value_split,omitempty"`   // Key/value separator for kv
	CustomFields map[string]string `yaml:"custom_fields,omitempty"` // Static fields to add
	Multiline    *MultilineConfig  `yaml:"multiline,omitempty"`     // Event grouping
}

// MultilineConfig holds configuration for multi-line event grouping
type MultilineConfig struct {
	Pattern  string `yaml:"pattern"`   // Regex marking the first line of an event
	Negate   bool   `yaml:"negate"`    // Whether to negate the pattern match
	Match    string `yaml:"match"`     // "after" or "before" - where continuation lines attach
	MaxLines int    `yaml:"max_lines"` // Maximum lines per event
}

// ErrEmptyInput is returned when the submitted logs contain no event
var ErrEmptyInput = errors.New("empty log input")

// New creates a new parser based on the configuration
func New(cfg *ParserConfig) (Parser, error) {
	if cfg == nil {
		return nil, fmt.Errorf("parser configuration is nil")
	}

	switch cfg.Type {
	case ParserTypeRegex:
		return NewRegexParser(cfg)
	case ParserTypeJSON:
		return NewJSONParser(cfg)
	case ParserTypeGrok:
		return NewGrokParser(cfg)
	case ParserTypeKV:
		return NewKVParser(cfg)
	case ParserTypeSyslog:
		return NewSyslogParser(cfg)
	case "":
		return nil, fmt.Errorf("parser type is required")
	default:
		return nil, fmt.Errorf("unknown parser type: %s", cfg.Type)
	}
}

// LoadRules decodes a YAML rule document. Unknown keys are rejected so
// typos surface as errors instead of silently ignored settings.
func LoadRules(rules string) (*ParserConfig, error) {
	if strings.TrimSpace(rules) == "" {
		return nil, fmt.Errorf("rules are empty")
	}

	dec := yaml.NewDecoder(bytes.NewReader([]byte(rules)))
	dec.KnownFields(true)

	var cfg ParserConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}
	return &cfg, nil
}

// Engine runs a rule document against raw log text
type Engine struct{}

// NewEngine creates a parse engine
func NewEngine() *Engine {
	return &Engine{}
}

// Parse compiles rules and parses the first event found in logs. It never
// panics on malformed input; internal faults are reported as errors.
func (e *Engine) Parse(ctx context.Context, rules, logs string) (rec *types.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = fmt.Errorf("rule engine fault: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg, err := LoadRules(rules)
	if err != nil {
		return nil, err
	}

	p, err := New(cfg)
	if err != nil {
		return nil, err
	}

	events, err := SplitEvents(logs, cfg.Multiline)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrEmptyInput
	}

	rec, err = p.Parse(events[0])
	if err != nil && cfg.Type == ParserTypeJSON && len(events) > 1 {
		// a pretty-printed document spans several lines
		if whole, wholeErr := p.Parse(strings.TrimSpace(logs)); wholeErr == nil {
			return whole, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Name returns the engine name
func (e *Engine) Name() string {
	return "rule-engine"
}
