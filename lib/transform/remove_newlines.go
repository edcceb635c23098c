package transform

import (
	"strings"

	"github.com/bedrock-data/conveyor/lib/rows"
)

// RemoveNewlines replaces embedded newlines in string values with spaces.
// The bulk-load client always prepends this transform: the staging format is
// line-oriented, and a stray newline corrupts the whole file.
type RemoveNewlines struct{}

func (RemoveNewlines) Transform(row rows.Row) (Result, error) {
	out := make(rows.Row, len(row))
	for k, v := range row {
		if s, ok := v.(string); ok {
			s = strings.ReplaceAll(s, "\r\n", " ")
			out[k] = strings.ReplaceAll(s, "\n", " ")
			continue
		}
		out[k] = v
	}
	return RowResult(out), nil
}
