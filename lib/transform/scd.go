package transform

import (
	"fmt"
	"time"

	"github.com/bedrock-data/conveyor/lib/cache"
	"github.com/bedrock-data/conveyor/lib/rows"
	"github.com/bedrock-data/conveyor/lib/schema"
)

const (
	defaultCurrentColumn   = "h_current"
	defaultCreatedAtColumn = "h_created_at"
	defaultEndedAtColumn   = "h_ended_at"
)

// SCDConfig wires up a slowly-changing-dimension history transformer.
type SCDConfig struct {
	TrackedColumns []string
	NaturalKeys    []string
	IDGenerator    IDGenerator
	MainTable      *schema.Table
	HistoryTable   *schema.Table

	// Cache holds the existing history rows keyed by the natural keys.
	Cache *cache.RowCache

	// Selector resolves a natural key matching several history versions.
	// Defaults to CurrentFlagSelector over the current column.
	Selector RowSelector

	// Now is injectable so created_at/ended_at stamps are deterministic in
	// tests.
	Now func() time.Time

	CurrentColumn   string
	CreatedAtColumn string
	EndedAtColumn   string
}

// SCDHistoryTransformer maintains dimension history. For each incoming row
// it decides between three shapes: a brand-new entity (new main row plus one
// current history row), an unchanged entity (main row only, no history
// output at all), or a changed entity (the matched history version closed
// out with its original values, plus a fresh current version).
type SCDHistoryTransformer struct {
	cfg          SCDConfig
	mainPK       string
	historyPK    string
	dateAug      *DateTableIDAugmenter
	valueAug     *ColumnValueAugmenter
	splitter     *SplitRow
	historyHasFK bool
}

func NewSCDHistoryTransformer(cfg SCDConfig) (*SCDHistoryTransformer, error) {
	if cfg.IDGenerator == nil {
		return nil, fmt.Errorf("id generator cannot be nil")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	if cfg.MainTable == nil || cfg.HistoryTable == nil {
		return nil, fmt.Errorf("main and history tables cannot be nil")
	}

	mainPK, err := singlePrimaryKey(cfg.MainTable)
	if err != nil {
		return nil, err
	}
	historyPK, err := singlePrimaryKey(cfg.HistoryTable)
	if err != nil {
		return nil, err
	}

	if cfg.CurrentColumn == "" {
		cfg.CurrentColumn = defaultCurrentColumn
	}
	if cfg.CreatedAtColumn == "" {
		cfg.CreatedAtColumn = defaultCreatedAtColumn
	}
	if cfg.EndedAtColumn == "" {
		cfg.EndedAtColumn = defaultEndedAtColumn
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Selector == nil {
		cfg.Selector = CurrentFlagSelector{CurrentColumn: cfg.CurrentColumn}
	}

	augmenting := []string{mainPK, historyPK, cfg.CreatedAtColumn, cfg.EndedAtColumn}
	augmenting = append(augmenting, cfg.NaturalKeys...)
	valueAug, err := NewColumnValueAugmenter(augmenting, cfg.TrackedColumns, cfg.Cache, cfg.Selector)
	if err != nil {
		return nil, err
	}

	_, historyHasFK := cfg.HistoryTable.Column(mainPK)
	return &SCDHistoryTransformer{
		cfg:          cfg,
		mainPK:       mainPK,
		historyPK:    historyPK,
		dateAug:      NewDateTableIDAugmenter(DateColumnsOf(cfg.MainTable, cfg.HistoryTable)),
		valueAug:     valueAug,
		splitter:     SplitByTableSchemas(cfg.MainTable, cfg.HistoryTable),
		historyHasFK: historyHasFK,
	}, nil
}

func singlePrimaryKey(t *schema.Table) (string, error) {
	switch len(t.PrimaryKey) {
	case 0:
		return "", fmt.Errorf("no primary key found on table %q", t.Name)
	case 1:
		return t.PrimaryKey[0], nil
	default:
		return "", fmt.Errorf("table %q has a composite primary key, history tracking needs a single surrogate key", t.Name)
	}
}

func (s *SCDHistoryTransformer) Transform(row rows.Row) (Result, error) {
	res, err := s.dateAug.Transform(row)
	if err != nil {
		return Result{}, err
	}
	enriched, _ := res.Row()

	matched, err := s.valueAug.Match(enriched)
	if err != nil {
		return Result{}, err
	}
	res, err = s.valueAug.Transform(enriched)
	if err != nil {
		return Result{}, err
	}
	enriched, _ = res.Row()

	res, err = s.splitter.Transform(enriched)
	if err != nil {
		return Result{}, err
	}
	named, _ := res.Named()
	mainRow := named[s.cfg.MainTable.Name][0]
	histRow := named[s.cfg.HistoryTable.Name][0]

	if id, ok := mainRow[s.mainPK]; !ok || id == nil {
		return s.newEntity(mainRow, histRow), nil
	}
	if !s.trackedChanged(enriched) {
		// Unchanged entity: emit the main row alone so no spurious merge
		// runs against the history table.
		return NamedResult(rows.NamedRows{
			s.cfg.MainTable.Name: {mainRow},
		}), nil
	}
	return s.changedEntity(matched, mainRow, histRow), nil
}

func (s *SCDHistoryTransformer) newEntity(mainRow, histRow rows.Row) Result {
	mainRow[s.mainPK] = s.cfg.IDGenerator.Generate()
	histRow[s.historyPK] = s.cfg.IDGenerator.Generate()
	if s.historyHasFK {
		histRow[s.mainPK] = mainRow[s.mainPK]
	}
	histRow[s.cfg.CurrentColumn] = true
	histRow[s.cfg.CreatedAtColumn] = s.cfg.Now()

	return NamedResult(rows.NamedRows{
		s.cfg.MainTable.Name:    {mainRow},
		s.cfg.HistoryTable.Name: {histRow},
	})
}

func (s *SCDHistoryTransformer) trackedChanged(enriched rows.Row) bool {
	for _, c := range s.cfg.TrackedColumns {
		if enriched["old_"+c] != enriched[c] {
			return true
		}
	}
	return false
}

func (s *SCDHistoryTransformer) changedEntity(matched, mainRow, histRow rows.Row) Result {
	now := s.cfg.Now()

	// Close out the matched version with its original tracked values; the
	// historical record stays immutable.
	oldHist := histRow.Clone()
	for _, c := range s.cfg.TrackedColumns {
		oldHist[c] = matched[c]
	}
	oldHist[s.historyPK] = matched[s.historyPK]
	oldHist[s.cfg.CurrentColumn] = false
	oldHist[s.cfg.EndedAtColumn] = now

	newHist := histRow.Clone()
	newHist[s.historyPK] = s.cfg.IDGenerator.Generate()
	if s.historyHasFK {
		newHist[s.mainPK] = mainRow[s.mainPK]
	}
	newHist[s.cfg.CurrentColumn] = true
	newHist[s.cfg.CreatedAtColumn] = now
	delete(newHist, s.cfg.EndedAtColumn)

	return NamedResult(rows.NamedRows{
		s.cfg.MainTable.Name:    {mainRow},
		s.cfg.HistoryTable.Name: {oldHist, newHist},
	})
}
