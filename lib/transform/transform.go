package transform

import (
	"fmt"

	"github.com/bedrock-data/conveyor/lib/rows"
)

// Transformer reshapes a single row. A result is either a plain row, a set
// of named rows fanned out per destination table, or a skip marker that
// drops the row from all downstream processing.
type Transformer interface {
	Transform(row rows.Row) (Result, error)
}

type Result struct {
	skip  bool
	row   rows.Row
	named rows.NamedRows
}

func RowResult(row rows.Row) Result {
	return Result{row: row}
}

func NamedResult(named rows.NamedRows) Result {
	return Result{named: named}
}

func Skip() Result {
	return Result{skip: true}
}

func (r Result) Skipped() bool {
	return r.skip
}

func (r Result) Row() (rows.Row, bool) {
	return r.row, !r.skip && r.named == nil
}

func (r Result) Named() (rows.NamedRows, bool) {
	return r.named, r.named != nil
}

// MultiTransformer is an ordered composition. The first Skip short-circuits
// the remaining transformers. Once a transformer fans a row out into named
// rows, the rest of the chain applies to each split row individually; a
// skip there drops just that split row.
type MultiTransformer struct {
	transformers []Transformer
}

func NewMultiTransformer(transformers ...Transformer) *MultiTransformer {
	return &MultiTransformer{transformers: transformers}
}

func (m *MultiTransformer) Transform(row rows.Row) (Result, error) {
	current := RowResult(row)
	for _, t := range m.transformers {
		if t == nil {
			continue
		}

		if named, ok := current.Named(); ok {
			transformed, err := transformNamed(t, named)
			if err != nil {
				return Result{}, err
			}
			current = NamedResult(transformed)
			continue
		}

		r, _ := current.Row()
		next, err := t.Transform(r)
		if err != nil {
			return Result{}, err
		}
		if next.Skipped() {
			return Skip(), nil
		}
		current = next
	}
	return current, nil
}

func transformNamed(t Transformer, named rows.NamedRows) (rows.NamedRows, error) {
	out := make(rows.NamedRows, len(named))
	for name, rs := range named {
		kept := make([]rows.Row, 0, len(rs))
		for _, r := range rs {
			res, err := t.Transform(r)
			if err != nil {
				return nil, err
			}
			if res.Skipped() {
				continue
			}
			if _, ok := res.Named(); ok {
				return nil, fmt.Errorf("transformer produced named rows inside an already split row set for table %q", name)
			}
			next, _ := res.Row()
			kept = append(kept, next)
		}
		out[name] = kept
	}
	return out, nil
}
