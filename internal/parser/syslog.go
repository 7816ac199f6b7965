package parser

import (
	"fmt"
	"sort"

	syslog "github.com/leodido/go-syslog/v4"
	"github.com/leodido/go-syslog/v4/rfc3164"
	"github.com/leodido/go-syslog/v4/rfc5424"
	"github.com/therealutkarshpriyadarshi/logdebug/pkg/types"
)

// Syslog formats
const (
	SyslogRFC5424 = "rfc5424"
	SyslogRFC3164 = "rfc3164"
)

// SyslogParser parses RFC5424 or RFC3164 syslog messages
type SyslogParser struct {
	format string
	fields *fieldBuilder
}

// NewSyslogParser creates a new syslog parser
func NewSyslogParser(cfg *ParserConfig) (*SyslogParser, error) {
	format := cfg.Format
	if format == "" {
		format = SyslogRFC5424
	}
	if format != SyslogRFC5424 && format != SyslogRFC3164 {
		return nil, fmt.Errorf("unknown syslog format: %s", format)
	}

	fields, err := newFieldBuilder(cfg)
	if err != nil {
		return nil, err
	}

	return &SyslogParser{format: format, fields: fields}, nil
}

// Parse parses one syslog message
func (p *SyslogParser) Parse(line string) (*types.Record, error) {
	if line == "" {
		return nil, ErrEmptyInput
	}

	var machine syslog.Machine
	if p.format == SyslogRFC3164 {
		machine = rfc3164.NewParser(rfc3164.WithBestEffort(), rfc3164.WithYear(rfc3164.CurrentYear{}))
	} else {
		machine = rfc5424.NewParser(rfc5424.WithBestEffort())
	}

	msg, err := machine.Parse([]byte(line))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s message: %w", p.format, err)
	}

	rec := p.fields.newRecord()
	var add []types.Field

	switch m := msg.(type) {
	case *rfc5424.SyslogMessage:
		add = baseFields(&m.Base)
		add = insertAfter(add, "severity", types.Digit("version", int64(m.Version)))
		if m.StructuredData != nil && len(*m.StructuredData) > 0 {
			add = insertAfter(add, "msg_id", types.Obj("structured_data", structuredData(*m.StructuredData)))
		}
	case *rfc3164.SyslogMessage:
		add = baseFields(&m.Base)
	default:
		return nil, fmt.Errorf("parsed message is not a valid %s message", p.format)
	}

	for _, f := range add {
		if err := p.fields.typed(rec, f); err != nil {
			return nil, err
		}
	}

	return p.fields.finish(rec)
}

// Name returns the parser name
func (p *SyslogParser) Name() string {
	return "syslog(" + p.format + ")"
}

// baseFields lists the parts both syslog flavours share, skipping absent ones
func baseFields(b *syslog.Base) []types.Field {
	out := make([]types.Field, 0, 10)
	if b.Priority != nil {
		out = append(out,
			types.Digit("priority", int64(*b.Priority)),
			types.Digit("facility", int64(*b.Priority/8)),
			types.Digit("severity", int64(*b.Priority%8)),
		)
	}
	if b.Timestamp != nil {
		out = append(out, types.Time("timestamp", *b.Timestamp))
	}
	if b.Hostname != nil {
		out = append(out, types.Chars("hostname", *b.Hostname))
	}
	if b.Appname != nil {
		out = append(out, types.Chars("app_name", *b.Appname))
	}
	if b.ProcID != nil {
		out = append(out, types.Chars("proc_id", *b.ProcID))
	}
	if b.MsgID != nil {
		out = append(out, types.Chars("msg_id", *b.MsgID))
	}
	if b.Message != nil {
		out = append(out, types.Chars("message", *b.Message))
	}
	return out
}

// insertAfter places f right after the named field, or before the message
// when the named field is absent
func insertAfter(fields []types.Field, name string, f types.Field) []types.Field {
	at := len(fields)
	for i := range fields {
		if fields[i].Name == name {
			at = i + 1
			break
		}
		if fields[i].Name == "message" {
			at = i
		}
	}
	fields = append(fields, types.Field{})
	copy(fields[at+1:], fields[at:])
	fields[at] = f
	return fields
}

// structuredData converts SD elements into nested records with sorted keys
func structuredData(sd map[string]map[string]string) *types.Record {
	ids := make([]string, 0, len(sd))
	for id := range sd {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := types.NewRecord("")
	for _, id := range ids {
		params := sd[id]
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		elem := types.NewRecord("")
		for _, k := range keys {
			elem.Set(types.Chars(k, params[k]))
		}
		out.Set(types.Obj(id, elem))
	}
	return out
}
