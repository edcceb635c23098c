package transform

import (
	"fmt"

	"github.com/bedrock-data/conveyor/lib/cache"
	"github.com/bedrock-data/conveyor/lib/config/constants"
	"github.com/bedrock-data/conveyor/lib/rows"
)

// RowSelector picks which cached row matches the incoming one when a natural
// key resolves to more than one candidate.
type RowSelector interface {
	SelectRow(current rows.Row, found []rows.Row) (rows.Row, error)
}

// StrictSelector is the default policy: a natural key matching more than one
// existing row is an error, not a guess.
type StrictSelector struct{}

func (StrictSelector) SelectRow(_ rows.Row, found []rows.Row) (rows.Row, error) {
	if len(found) == 0 {
		return nil, nil
	}
	if len(found) > 1 {
		return nil, fmt.Errorf("expected a single matching row, found %d", len(found))
	}
	return found[0], nil
}

// CurrentFlagSelector matches on a secondary field first, then falls back to
// the row whose current flag is set. Used for history tables where a natural
// key legitimately maps to several versions.
type CurrentFlagSelector struct {
	MatchColumn   string
	CurrentColumn string
}

func (s CurrentFlagSelector) SelectRow(current rows.Row, found []rows.Row) (rows.Row, error) {
	var flagged rows.Row
	for _, f := range found {
		if s.MatchColumn != "" && f[s.MatchColumn] == current[s.MatchColumn] {
			return f, nil
		}
		if isTrue(f[s.CurrentColumn]) {
			flagged = f
		}
	}
	return flagged, nil
}

func isTrue(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "t" || t == "true"
	default:
		return false
	}
}

// ColumnValueAugmenter enriches an incoming row from the matching existing
// destination row: augmenting columns are copied in when absent, and
// tracking columns are snapshotted into `old_<col>` fields so downstream
// transforms can detect changes. A row with no match passes through
// untouched.
type ColumnValueAugmenter struct {
	augmentingColumns []string
	trackingColumns   []string
	cache             *cache.RowCache
	selector          RowSelector
}

func NewColumnValueAugmenter(augmentingColumns, trackingColumns []string, rowCache *cache.RowCache, selector RowSelector) (*ColumnValueAugmenter, error) {
	if rowCache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	if selector == nil {
		selector = StrictSelector{}
	}
	return &ColumnValueAugmenter{
		augmentingColumns: augmentingColumns,
		trackingColumns:   trackingColumns,
		cache:             rowCache,
		selector:          selector,
	}, nil
}

// Match returns the existing row this one augments from, or nil.
func (a *ColumnValueAugmenter) Match(row rows.Row) (rows.Row, error) {
	return a.selector.SelectRow(row, a.cache.FindRows(row))
}

func (a *ColumnValueAugmenter) Transform(row rows.Row) (Result, error) {
	match, err := a.Match(row)
	if err != nil {
		return Result{}, err
	}
	if match == nil {
		return RowResult(row), nil
	}

	out := row.Clone()
	for _, c := range a.augmentingColumns {
		if _, ok := out[c]; !ok {
			out[c] = match[c]
		}
	}
	for _, c := range a.trackingColumns {
		out[constants.OldColumnPrefix+c] = match[c]
	}
	return RowResult(out), nil
}
