package input

import "github.com/bedrock-data/conveyor/lib/rows"

// Reader yields rows one at a time. Readers are single-pass in the general
// case; only ArrayReader is safe to iterate more than once.
type Reader interface {
	EachRow(fn func(rows.Row) error) error
}

type ArrayReader struct {
	rows []rows.Row
}

func Array(rs ...rows.Row) *ArrayReader {
	return &ArrayReader{rows: rs}
}

func (a *ArrayReader) EachRow(fn func(rows.Row) error) error {
	for _, r := range a.rows {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}
