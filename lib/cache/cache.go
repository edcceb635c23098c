package cache

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/bedrock-data/conveyor/lib/input"
	"github.com/bedrock-data/conveyor/lib/rows"
)

// DefaultMaxRows bounds how many rows a cache may hold. The cache is
// process-memory-resident; a source that breaches this ceiling needs a WHERE
// clause, not a bigger cache.
const DefaultMaxRows = 1_000_000

// RowCache is an in-memory multi-value index keyed by a tuple of column
// values. It is filled once from a lookup source and read-only afterwards,
// which makes concurrent reads safe without locking.
type RowCache struct {
	keyColumns []string
	maxRows    int
	lookup     map[string][]rows.Row
}

func New(keyColumns []string, maxRows int) (*RowCache, error) {
	if len(keyColumns) == 0 {
		return nil, fmt.Errorf("key columns cannot be empty")
	}
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &RowCache{
		keyColumns: keyColumns,
		maxRows:    maxRows,
		lookup:     make(map[string][]rows.Row),
	}, nil
}

// Fill scans the reader and indexes every row. Rows sharing a key accumulate
// into a list rather than overwriting each other.
func (c *RowCache) Fill(reader input.Reader) error {
	var count int
	return reader.EachRow(func(row rows.Row) error {
		count++
		if count > c.maxRows {
			return fmt.Errorf("row cache exceeded its ceiling of %d rows, add a filter to the lookup source", c.maxRows)
		}
		key := HashColumnValues(c.keyColumns, row)
		c.lookup[key] = append(c.lookup[key], row)
		return nil
	})
}

// FindRows returns every cached row sharing the key columns of row, in
// insertion order. Returns nil when nothing matches.
func (c *RowCache) FindRows(row rows.Row) []rows.Row {
	return c.lookup[HashColumnValues(c.keyColumns, row)]
}

func (c *RowCache) Len() int {
	return len(c.lookup)
}

// HashColumnValues computes the composite cache key for a row. Single-column
// keys skip the join and encode for performance.
func HashColumnValues(columns []string, row rows.Row) string {
	if len(columns) == 1 {
		return valueKey(row[columns[0]])
	}

	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = valueKey(row[c])
	}
	return base64.StdEncoding.EncodeToString([]byte(strings.Join(parts, "|")))
}

func valueKey(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
