package render

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/therealutkarshpriyadarshi/logdebug/internal/pool"
	"github.com/therealutkarshpriyadarshi/logdebug/pkg/types"
)

// encodeJSON writes a compact JSON object with keys in field order
func encodeJSON(rec *types.Record) (string, error) {
	b := pool.GetBuffer()
	defer pool.PutBuffer(b)

	writeJSONObject(b, rec)
	return b.String(), nil
}

func writeJSONObject(b *bytes.Buffer, rec *types.Record) {
	b.WriteByte('{')
	if rec != nil {
		for i, f := range rec.Fields {
			if i > 0 {
				b.WriteByte(',')
			}
			writeJSONString(b, f.Name)
			b.WriteByte(':')
			writeJSONValue(b, f)
		}
	}
	b.WriteByte('}')
}

func writeJSONValue(b *bytes.Buffer, f types.Field) {
	switch v := f.Value.(type) {
	case *types.Record:
		writeJSONObject(b, v)
	case []types.Field:
		b.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				b.WriteByte(',')
			}
			writeJSONValue(b, item)
		}
		b.WriteByte(']')
	case int64:
		b.WriteString(strconv.FormatInt(v, 10))
	case float64:
		b.WriteString(types.FormatFloat(v))
	case bool:
		b.WriteString(strconv.FormatBool(v))
	case nil:
		b.WriteString("null")
	default:
		writeJSONString(b, f.Text())
	}
}

func writeJSONString(b *bytes.Buffer, s string) {
	enc := json.NewEncoder(b)
	enc.SetEscapeHTML(false)
	// encoding a string cannot fail
	_ = enc.Encode(s)
	// drop the newline Encode appends
	b.Truncate(b.Len() - 1)
}
