package types

import (
	"fmt"
	"math"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// ParseFieldType validates a type name coming from rules or OML
func ParseFieldType(s string) (FieldType, error) {
	switch t := FieldType(strings.ToLower(strings.TrimSpace(s))); t {
	case FieldChars, FieldDigit, FieldFloat, FieldBool, FieldTime, FieldIP, FieldObj, FieldArray:
		return t, nil
	case "string":
		return FieldChars, nil
	case "int", "integer":
		return FieldDigit, nil
	}
	return "", fmt.Errorf("unknown field type: %q", s)
}

// Convert builds a typed field from text. timeFormats are tried in order
// for time fields; DefaultTimeFormats is used when none are given.
func Convert(name string, t FieldType, text string, timeFormats ...string) (Field, error) {
	switch t {
	case FieldChars, "":
		return Chars(name, text), nil
	case FieldDigit:
		v, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return Field{}, fmt.Errorf("field %s: %q is not a digit", name, text)
		}
		return Digit(name, v), nil
	case FieldFloat:
		v, err := parseFinite(text)
		if err != nil {
			return Field{}, fmt.Errorf("field %s: %q is not a float", name, text)
		}
		return Float(name, v), nil
	case FieldBool:
		v, err := strconv.ParseBool(strings.TrimSpace(text))
		if err != nil {
			return Field{}, fmt.Errorf("field %s: %q is not a bool", name, text)
		}
		return Bool(name, v), nil
	case FieldTime:
		ts, err := ParseTimestamp(strings.TrimSpace(text), timeFormats...)
		if err != nil {
			return Field{}, fmt.Errorf("field %s: %w", name, err)
		}
		return Time(name, ts), nil
	case FieldIP:
		addr, err := netip.ParseAddr(strings.TrimSpace(text))
		if err != nil {
			return Field{}, fmt.Errorf("field %s: %q is not an ip address", name, text)
		}
		return IP(name, addr), nil
	default:
		return Field{}, fmt.Errorf("field %s: cannot convert text to %s", name, t)
	}
}

// Infer picks digit, float or bool when text parses cleanly, chars otherwise
func Infer(name, text string) Field {
	if v, err := strconv.ParseInt(text, 10, 64); err == nil {
		return Digit(name, v)
	}
	if v, err := parseFinite(text); err == nil && strings.ContainsAny(text, ".eE") {
		return Float(name, v)
	}
	if text == "true" || text == "false" {
		return Bool(name, text == "true")
	}
	return Chars(name, text)
}

// Cast converts an existing field to another type, keeping its name
func Cast(f Field, t FieldType) (Field, error) {
	if f.Type == t {
		return f, nil
	}
	if !f.IsScalar() {
		return Field{}, fmt.Errorf("field %s: cannot cast %s to %s", f.Name, f.Type, t)
	}
	switch {
	case f.Type == FieldDigit && t == FieldFloat:
		return Float(f.Name, float64(f.Value.(int64))), nil
	case f.Type == FieldFloat && t == FieldDigit:
		v := f.Value.(float64)
		if v != math.Trunc(v) {
			return Field{}, fmt.Errorf("field %s: %s is not a whole number", f.Name, FormatFloat(v))
		}
		if v < -(1<<63) || v >= 1<<63 {
			return Field{}, fmt.Errorf("field %s: %s is out of digit range", f.Name, FormatFloat(v))
		}
		return Digit(f.Name, int64(v)), nil
	}
	return Convert(f.Name, t, f.Text())
}

// Finite reports whether v can be held by a float field. NaN and the
// infinities have no JSON form.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func parseFinite(text string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, err
	}
	if !Finite(v) {
		return 0, fmt.Errorf("non-finite value")
	}
	return v, nil
}

// ParseTimestamp attempts to parse a timestamp from a string using multiple formats
func ParseTimestamp(ts string, formats ...string) (time.Time, error) {
	if len(formats) == 0 {
		formats = DefaultTimeFormats()
	}

	for _, format := range formats {
		if format == "" {
			continue
		}
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp: %s", ts)
}

// DefaultTimeFormats returns common timestamp formats
func DefaultTimeFormats() []string {
	return []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.000",
		"2006/01/02 15:04:05",
		"Jan 02 15:04:05",
		"Jan _2 15:04:05",
		"Jan 02, 2006 15:04:05",
		"02/Jan/2006:15:04:05 -0700",
	}
}
