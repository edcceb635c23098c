package transform

import (
	"fmt"

	"github.com/bedrock-data/conveyor/lib/cache"
	"github.com/bedrock-data/conveyor/lib/input"
	"github.com/bedrock-data/conveyor/lib/rows"
)

// IDAugmenter assigns a surrogate key: the natural-key tuple is looked up in
// a prebuilt id cache, and only a miss consults the generator. Given the
// same cache and generator sequence the assignment is deterministic, which
// is what makes retried loads idempotent.
type IDAugmenter struct {
	surrogateKey string
	naturalKeys  []string
	lookup       *cache.RowCache
	generator    IDGenerator
}

func NewIDAugmenter(surrogateKey string, naturalKeys []string, lookupSource input.Reader, generator IDGenerator) (*IDAugmenter, error) {
	if surrogateKey == "" {
		return nil, fmt.Errorf("surrogate key cannot be empty")
	}
	if generator == nil {
		return nil, fmt.Errorf("id generator cannot be nil")
	}

	lookup, err := cache.New(naturalKeys, 0)
	if err != nil {
		return nil, err
	}
	if err := lookup.Fill(lookupSource); err != nil {
		return nil, fmt.Errorf("failed to build id lookup: %w", err)
	}

	return &IDAugmenter{
		surrogateKey: surrogateKey,
		naturalKeys:  naturalKeys,
		lookup:       lookup,
		generator:    generator,
	}, nil
}

func (a *IDAugmenter) Transform(row rows.Row) (Result, error) {
	out := row.Clone()
	if found := a.lookup.FindRows(row); len(found) > 0 {
		// Later lookup rows win when a natural key maps to several.
		out[a.surrogateKey] = found[len(found)-1][a.surrogateKey]
		return RowResult(out), nil
	}
	out[a.surrogateKey] = a.generator.Generate()
	return RowResult(out), nil
}
