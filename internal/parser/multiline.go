package parser

import (
	"fmt"
	"regexp"
	"strings"
)

const defaultMaxLines = 500

// SplitEvents cuts raw log text into events. Without a multiline config
// every non-empty line is an event; with one, continuation lines are
// grouped with the line that starts their event (e.g. stack traces).
func SplitEvents(logs string, cfg *MultilineConfig) ([]string, error) {
	lines := strings.Split(strings.ReplaceAll(logs, "\r\n", "\n"), "\n")

	if cfg == nil {
		events := make([]string, 0, len(lines))
		for _, line := range lines {
			if strings.TrimSpace(line) != "" {
				events = append(events, line)
			}
		}
		return events, nil
	}

	g, err := newLineGrouper(cfg)
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		g.add(line)
	}
	g.flush()
	return g.events, nil
}

// lineGrouper buffers lines until an event boundary is seen
type lineGrouper struct {
	pattern  *regexp.Regexp
	negate   bool
	before   bool
	maxLines int
	buffer   []string
	events   []string
}

func newLineGrouper(cfg *MultilineConfig) (*lineGrouper, error) {
	if cfg.Pattern == "" {
		return nil, fmt.Errorf("multiline pattern is required")
	}

	pattern, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to compile multiline pattern: %w", err)
	}

	switch cfg.Match {
	case "", "after", "before":
	default:
		return nil, fmt.Errorf("invalid multiline match: %s", cfg.Match)
	}

	maxLines := cfg.MaxLines
	if maxLines <= 0 {
		maxLines = defaultMaxLines
	}

	return &lineGrouper{
		pattern:  pattern,
		negate:   cfg.Negate,
		before:   cfg.Match == "before",
		maxLines: maxLines,
	}, nil
}

func (g *lineGrouper) add(line string) {
	isStart := g.pattern.MatchString(line)
	if g.negate {
		isStart = !isStart
	}

	if g.before {
		// continuation lines precede the line that completes the event
		g.buffer = append(g.buffer, line)
		if isStart || len(g.buffer) >= g.maxLines {
			g.flush()
		}
		return
	}

	if isStart && len(g.buffer) > 0 {
		g.flush()
	}
	g.buffer = append(g.buffer, line)
	if len(g.buffer) >= g.maxLines {
		g.flush()
	}
}

func (g *lineGrouper) flush() {
	if len(g.buffer) == 0 {
		return
	}
	g.events = append(g.events, strings.Join(g.buffer, "\n"))
	g.buffer = g.buffer[:0]
}
