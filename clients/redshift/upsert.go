package redshift

import (
	"errors"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/bedrock-data/conveyor/lib/cache"
	"github.com/bedrock-data/conveyor/lib/input"
	"github.com/bedrock-data/conveyor/lib/rows"
	"github.com/bedrock-data/conveyor/lib/schema"
	"github.com/bedrock-data/conveyor/lib/transform"
)

// maxParallelTables bounds how many destination tables stage and merge at
// the same time.
const maxParallelTables = 4

// UpsertRows stages the transformed rows and merges them into the target by
// primary key: matching destination rows are replaced, new rows inserted.
// Transforms fanning out named rows load each named table; those tables are
// reflected from the catalog and must also carry primary keys.
func (s *Store) UpsertRows(table *schema.Table, reader input.Reader, transformer transform.Transformer) (int, error) {
	if len(table.PrimaryKey) == 0 {
		return 0, SchemaError{Table: table.Name, Reason: "cannot upsert rows without a primary key"}
	}
	return s.addRows(table, reader, transformer, true)
}

// AppendRows stages and loads rows without the merge step. Duplicates are
// kept, tables without primary keys are fine.
func (s *Store) AppendRows(table *schema.Table, reader input.Reader, transformer transform.Transformer) (int, error) {
	return s.addRows(table, reader, transformer, false)
}

type tableBatch struct {
	table *schema.Table
	rows  []rows.Row
}

func (s *Store) addRows(table *schema.Table, reader input.Reader, transformer transform.Transformer, upsert bool) (int, error) {
	// Raw newlines in values would shift line numbers reported by
	// stl_load_errors, so they are always stripped first.
	chain := transform.NewMultiTransformer(transform.RemoveNewlines{}, transformer)

	named := rows.NamedRows{}
	err := reader.EachRow(func(row rows.Row) error {
		res, err := chain.Transform(row)
		if err != nil {
			return err
		}
		if res.Skipped() {
			return nil
		}
		if splitRows, ok := res.Named(); ok {
			for name, rs := range splitRows {
				named[name] = append(named[name], rs...)
			}
			return nil
		}

		r, _ := res.Row()
		named[table.Name] = append(named[table.Name], r)
		return nil
	})
	if err != nil {
		return 0, err
	}

	var batches []tableBatch
	for name, rs := range named {
		t := table
		if name != table.Name {
			if t, err = s.TableSchema(name); err != nil {
				return 0, err
			}
		}

		if upsert {
			if len(t.PrimaryKey) == 0 {
				return 0, SchemaError{Table: t.Name, Reason: "cannot upsert rows without a primary key"}
			}
			rs = dedupeRows(t.PrimaryKey, rs)
		}
		batches = append(batches, tableBatch{table: t, rows: rs})
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].table.Name < batches[j].table.Name })

	// Tables load independently: one table failing does not stop or roll
	// back its siblings, and every failure surfaces.
	var g errgroup.Group
	g.SetLimit(maxParallelTables)
	counts := make([]int, len(batches))
	loadErrs := make([]error, len(batches))
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			counts[i], loadErrs[i] = s.loadTable(batch.table, batch.rows, upsert)
			return nil
		})
	}
	_ = g.Wait()

	return s.rowCountPolicy(counts), errors.Join(loadErrs...)
}

// dedupeRows keeps one row per primary key. A later duplicate replaces the
// earlier one in place, so first-appearance order is preserved while the
// last write wins.
func dedupeRows(keyColumns []string, rs []rows.Row) []rows.Row {
	seen := make(map[string]int, len(rs))
	out := make([]rows.Row, 0, len(rs))
	for _, r := range rs {
		key := cache.HashColumnValues(keyColumns, r)
		if i, ok := seen[key]; ok {
			out[i] = r
			continue
		}
		seen[key] = len(out)
		out = append(out, r)
	}
	return out
}
