package render

import (
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/logdebug/pkg/types"
)

// encodeKV writes one `name=value` line. Values containing spaces,
// quotes or '=' are quoted.
func encodeKV(rec *types.Record) (string, error) {
	parts := make([]string, 0, rec.Len())
	for _, f := range rec.Fields {
		parts = append(parts, f.Name+"="+kvValue(Value(f)))
	}
	return strings.Join(parts, " "), nil
}

func kvValue(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
