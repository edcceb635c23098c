package transform

import (
	"github.com/bedrock-data/conveyor/lib/rows"
	"github.com/bedrock-data/conveyor/lib/schema"
)

// SplitRow partitions a flat row into per-table named rows, each holding
// only the columns that table declares. A table with no overlapping columns
// still gets an (empty) row, not an absence.
type SplitRow struct {
	tableColumns map[string][]string
}

func NewSplitRow(tableColumns map[string][]string) *SplitRow {
	return &SplitRow{tableColumns: tableColumns}
}

// SplitByTableSchemas builds a splitter straight from destination table
// schemas.
func SplitByTableSchemas(tables ...*schema.Table) *SplitRow {
	tableColumns := make(map[string][]string, len(tables))
	for _, t := range tables {
		tableColumns[t.Name] = t.ColumnNames()
	}
	return NewSplitRow(tableColumns)
}

func (s *SplitRow) Transform(row rows.Row) (Result, error) {
	named := make(rows.NamedRows, len(s.tableColumns))
	for table, columns := range s.tableColumns {
		split := rows.Row{}
		for _, c := range columns {
			if v, ok := row[c]; ok {
				split[c] = v
			}
		}
		named[table] = []rows.Row{split}
	}
	return NamedResult(named), nil
}
