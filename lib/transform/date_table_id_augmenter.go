package transform

import (
	"fmt"
	"time"

	"github.com/bedrock-data/conveyor/lib/config/constants"
	"github.com/bedrock-data/conveyor/lib/rows"
	"github.com/bedrock-data/conveyor/lib/schema"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// DateTableIDAugmenter emits an integer YYYYMMDD date-dimension key
// `<col>_dt_id` for each configured date/timestamp column, truncated to the
// day. Non-destructive: the original column is kept.
type DateTableIDAugmenter struct {
	dateColumns []string
}

func NewDateTableIDAugmenter(dateColumns []string) *DateTableIDAugmenter {
	return &DateTableIDAugmenter{dateColumns: dateColumns}
}

// DateColumnsOf picks the date and timestamp columns out of table schemas,
// for callers that want every temporal column keyed.
func DateColumnsOf(tables ...*schema.Table) []string {
	var cols []string
	for _, t := range tables {
		for _, c := range t.Columns() {
			if c.Type == schema.Date || c.Type == schema.Timestamp {
				cols = append(cols, c.Name)
			}
		}
	}
	return cols
}

func (a *DateTableIDAugmenter) Transform(row rows.Row) (Result, error) {
	out := row.Clone()
	for _, col := range a.dateColumns {
		value, ok := row[col]
		if !ok || value == nil {
			continue
		}

		ts, err := parseDateValue(value)
		if err != nil {
			return Result{}, fmt.Errorf("column %q: %w", col, err)
		}
		out[col+constants.DateTableIDSuffix] = ts.Year()*10000 + int(ts.Month())*100 + ts.Day()
	}
	return RowResult(out), nil
}

func parseDateValue(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable date value %q", v)
	default:
		return time.Time{}, fmt.Errorf("unsupported date value of type %T", value)
	}
}
