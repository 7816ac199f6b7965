package parser

import (
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/therealutkarshpriyadarshi/logdebug/pkg/types"
)

// RegexParser parses log lines using regular expressions
type RegexParser struct {
	pattern *regexp.Regexp
	fields  *fieldBuilder
}

// NewRegexParser creates a new regex parser
func NewRegexParser(cfg *ParserConfig) (*RegexParser, error) {
	if cfg.Pattern == "" {
		return nil, fmt.Errorf("regex pattern is required")
	}

	pattern, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to compile regex pattern: %w", err)
	}

	fields, err := newFieldBuilder(cfg)
	if err != nil {
		return nil, err
	}

	return &RegexParser{
		pattern: pattern,
		fields:  fields,
	}, nil
}

// Parse parses a log line using regex pattern matching
func (p *RegexParser) Parse(line string) (*types.Record, error) {
	return extractCaptures(p.pattern, p.fields, line)
}

// Name returns the parser name
func (p *RegexParser) Name() string {
	return "regex"
}

// extractCaptures fills a record from the named groups of pattern, in
// group order. Groups that did not take part in the match are skipped.
func extractCaptures(pattern *regexp.Regexp, fields *fieldBuilder, line string) (*types.Record, error) {
	if line == "" {
		return nil, ErrEmptyInput
	}

	loc := pattern.FindStringSubmatchIndex(line)
	if loc == nil {
		return nil, fmt.Errorf("pattern did not match log line: %q", truncate(line, 120))
	}

	rec := fields.newRecord()
	for i, name := range pattern.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		start, end := loc[2*i], loc[2*i+1]
		if start < 0 {
			continue
		}
		if err := fields.text(rec, name, line[start:end]); err != nil {
			return nil, err
		}
	}

	if rec.Len() == 0 && len(fields.custom) == 0 {
		return nil, fmt.Errorf("pattern has no named groups to extract")
	}

	return fields.finish(rec)
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
