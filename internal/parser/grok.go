package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/therealutkarshpriyadarshi/logdebug/pkg/types"
)

// GrokParser parses log lines using Grok patterns
type GrokParser struct {
	pattern     *regexp.Regexp
	patternName string
	fields      *fieldBuilder
}

// Common Grok patterns (subset of popular patterns)
var grokPatterns = map[string]string{
	// Base patterns
	"USERNAME":   `[a-zA-Z0-9._-]+`,
	"USER":       `%{USERNAME}`,
	"INT":        `(?:[+-]?(?:[0-9]+))`,
	"NUMBER":     `(?:[+-]?(?:[0-9]+(?:\.[0-9]+)?))`,
	"POSINT":     `\b(?:[1-9][0-9]*)\b`,
	"WORD":       `\b\w+\b`,
	"NOTSPACE":   `\S+`,
	"SPACE":      `\s*`,
	"DATA":       `.*?`,
	"GREEDYDATA": `.*`,
	"QS":         `"(?:[^"\\]|\\.)*"`,

	// Date/Time patterns
	"MONTHDAY":          `(?:(?:0[1-9])|(?:[12][0-9])|(?:3[01])|[1-9])`,
	"MONTHNUM":          `(?:0?[1-9]|1[0-2])`,
	"MONTH":             `\b(?:Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|Jun(?:e)?|Jul(?:y)?|Aug(?:ust)?|Sep(?:tember)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)\b`,
	"YEAR":              `(?:\d\d){1,2}`,
	"HOUR":              `(?:2[0123]|[01]?[0-9])`,
	"MINUTE":            `(?:[0-5][0-9])`,
	"SECOND":            `(?:(?:[0-5]?[0-9]|60)(?:[:.,][0-9]+)?)`,
	"TIME":              `%{HOUR}:%{MINUTE}(?::%{SECOND})?`,
	"ISO8601_TIMEZONE":  `(?:Z|[+-]%{HOUR}(?::?%{MINUTE}))`,
	"TIMESTAMP_ISO8601": `%{YEAR}-%{MONTHNUM}-%{MONTHDAY}[T ]%{HOUR}:?%{MINUTE}(?::?%{SECOND})?%{ISO8601_TIMEZONE}?`,
	"HTTPDATE":          `%{MONTHDAY}/%{MONTH}/%{YEAR}:%{TIME} %{INT}`,

	// Network patterns
	"IP":       `(?:%{IPV4}|%{IPV6})`,
	"IPV4":     `(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)`,
	"IPV6":     `(?:[0-9A-Fa-f]{0,4}:){2,7}[0-9A-Fa-f]{0,4}`,
	"HOSTNAME": `\b(?:[0-9A-Za-z][0-9A-Za-z-]{0,62})(?:\.(?:[0-9A-Za-z][0-9A-Za-z-]{0,62}))*\.?`,
	"IPORHOST": `(?:%{IP}|%{HOSTNAME})`,

	// Log level patterns
	"LOGLEVEL": `(?:DEBUG|TRACE|INFO|WARN(?:ING)?|ERROR|FATAL|CRITICAL)`,

	// Common log formats
	"SYSLOGBASE":      `%{MONTH} +%{MONTHDAY} %{TIME} %{HOSTNAME:host} %{DATA:program}(?:\[%{POSINT:pid}\])?:`,
	"COMMONAPACHELOG": `%{IPORHOST:clientip} %{USER:ident} %{USER:auth} \[%{HTTPDATE:timestamp}\] "(?:%{WORD:verb} %{NOTSPACE:request}(?: HTTP/%{NUMBER:httpversion})?|%{DATA:rawrequest})" %{NUMBER:response} (?:%{NUMBER:bytes}|-)`,
}

// Named Grok pattern templates
var namedGrokPatterns = map[string]string{
	"syslog": `%{SYSLOGBASE} %{GREEDYDATA:message}`,
	"apache": `%{COMMONAPACHELOG}`,
	"nginx":  `%{IPORHOST:clientip} - %{USER:ident} \[%{HTTPDATE:timestamp}\] "(?:%{WORD:verb} %{NOTSPACE:request}(?: HTTP/%{NUMBER:httpversion})?|%{DATA:rawrequest})" %{NUMBER:response} %{NUMBER:bytes} "%{DATA:referrer}" "%{DATA:agent}"`,
	"java":   `%{TIMESTAMP_ISO8601:timestamp} %{LOGLEVEL:level} \[%{DATA:thread}\] %{DATA:logger} - %{GREEDYDATA:message}`,
	"python": `%{TIMESTAMP_ISO8601:timestamp} - %{DATA:logger} - %{LOGLEVEL:level} - %{GREEDYDATA:message}`,
	"go":     `%{TIMESTAMP_ISO8601:timestamp} %{LOGLEVEL:level} %{GREEDYDATA:message}`,
}

// Default field types for named patterns; rules may override them
var namedGrokTypes = map[string]map[string]types.FieldType{
	"apache": {"clientip": types.FieldChars, "response": types.FieldDigit, "timestamp": types.FieldTime},
	"nginx":  {"response": types.FieldDigit, "bytes": types.FieldDigit, "timestamp": types.FieldTime},
	"java":   {"timestamp": types.FieldTime},
	"python": {"timestamp": types.FieldTime},
	"go":     {"timestamp": types.FieldTime},
	"syslog": {"pid": types.FieldDigit},
}

// %{PATTERN}, %{PATTERN:field} or %{PATTERN:field:type}
var grokRef = regexp.MustCompile(`%\{([A-Z0-9_]+)(?::([A-Za-z0-9_]+))?(?::([a-z]+))?\}`)

// NewGrokParser creates a new Grok parser
func NewGrokParser(cfg *ParserConfig) (*GrokParser, error) {
	var pattern string
	var patternName string

	if cfg.GrokPattern != "" {
		var ok bool
		pattern, ok = namedGrokPatterns[cfg.GrokPattern]
		if !ok {
			return nil, fmt.Errorf("unknown grok pattern: %s (available: %s)",
				cfg.GrokPattern, strings.Join(GetAvailableGrokPatterns(), ", "))
		}
		patternName = cfg.GrokPattern
	} else if cfg.Pattern != "" {
		pattern = cfg.Pattern
		patternName = "custom"
	} else {
		return nil, fmt.Errorf("grok pattern or custom pattern is required")
	}

	fields, err := newFieldBuilder(cfg)
	if err != nil {
		return nil, err
	}

	expandedPattern, inline, err := expandGrokPattern(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to expand grok pattern: %w", err)
	}

	regex, err := regexp.Compile(expandedPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to compile expanded pattern: %w", err)
	}

	for name, t := range inline {
		fields.declare(name, t)
	}
	if patternName != "custom" {
		if fields.timeFormats == nil && (patternName == "nginx" || patternName == "apache") {
			fields.timeFormats = []string{"02/Jan/2006:15:04:05 -0700"}
		}
		for name, t := range namedGrokTypes[patternName] {
			fields.declare(name, t)
		}
	}

	return &GrokParser{
		pattern:     regex,
		patternName: patternName,
		fields:      fields,
	}, nil
}

// expandGrokPattern expands grok pattern syntax to regex. It also returns
// the types written inline as %{PATTERN:field:type}.
func expandGrokPattern(pattern string) (string, map[string]types.FieldType, error) {
	inline := make(map[string]types.FieldType)
	expanded := pattern
	maxIterations := 100 // Prevent infinite loops

	for i := 0; ; i++ {
		matches := grokRef.FindAllStringSubmatch(expanded, -1)
		if len(matches) == 0 {
			return expanded, inline, nil
		}
		if i == maxIterations {
			return "", nil, fmt.Errorf("grok pattern nesting is too deep")
		}

		for _, match := range matches {
			patternName, fieldName, typeName := match[1], match[2], match[3]

			replacement, ok := grokPatterns[patternName]
			if !ok {
				return "", nil, fmt.Errorf("unknown grok pattern: %s", patternName)
			}

			if fieldName != "" {
				replacement = fmt.Sprintf("(?P<%s>%s)", fieldName, replacement)
			}
			if typeName != "" && fieldName != "" {
				t, err := types.ParseFieldType(typeName)
				if err != nil {
					return "", nil, err
				}
				inline[fieldName] = t
			}

			expanded = strings.Replace(expanded, match[0], replacement, 1)
		}
	}
}

// Parse parses a log line using grok pattern
func (p *GrokParser) Parse(line string) (*types.Record, error) {
	return extractCaptures(p.pattern, p.fields, line)
}

// Name returns the parser name
func (p *GrokParser) Name() string {
	return fmt.Sprintf("grok(%s)", p.patternName)
}

// GetAvailableGrokPatterns returns the sorted list of named grok patterns
func GetAvailableGrokPatterns() []string {
	patterns := make([]string, 0, len(namedGrokPatterns))
	for name := range namedGrokPatterns {
		patterns = append(patterns, name)
	}
	sort.Strings(patterns)
	return patterns
}
