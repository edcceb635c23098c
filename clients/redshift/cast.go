package redshift

import (
	"fmt"
	"strconv"
	"time"

	"github.com/bedrock-data/conveyor/lib/schema"
)

const (
	// nullPlaceholder needs to match NULL AS '...' in the COPY statement.
	nullPlaceholder = `\N`

	stagingDateLayout      = "2006-01-02"
	stagingTimestampLayout = "2006-01-02 15:04:05"
)

// castValueStaging converts a value into the string form the staged CSV
// carries for its column.
func castValueStaging(col schema.Column, value any) (string, error) {
	if value == nil {
		return nullPlaceholder, nil
	}

	switch v := value.(type) {
	case time.Time:
		switch col.Type {
		case schema.Date:
			return v.Format(stagingDateLayout), nil
		default:
			return v.Format(stagingTimestampLayout), nil
		}
	case bool:
		return strconv.FormatBool(v), nil
	case string:
		return v, nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return fmt.Sprint(value), nil
	}
}

// castRow orders and casts a row's values to match the table's column order.
// Identity columns stay out of the record, the warehouse generates them.
func castRow(t *schema.Table, row map[string]any) ([]string, error) {
	cols := t.Columns()
	record := make([]string, 0, len(cols))
	for _, col := range cols {
		if t.IsIdentity(col.Name) {
			continue
		}
		value, err := castValueStaging(col, row[col.Name])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
		record = append(record, value)
	}
	return record, nil
}
