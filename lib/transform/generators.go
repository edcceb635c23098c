package transform

import "github.com/google/uuid"

// IDGenerator produces surrogate keys for rows whose natural key has no
// existing mapping.
type IDGenerator interface {
	Generate() any
}

// IncrementingGenerator is a monotonic counter, used in tests where
// deterministic ids matter.
type IncrementingGenerator struct {
	next int64
}

func NewIncrementingGenerator(start int64) *IncrementingGenerator {
	return &IncrementingGenerator{next: start}
}

func (g *IncrementingGenerator) Generate() any {
	g.next++
	return g.next
}

type UUIDGenerator struct{}

func (UUIDGenerator) Generate() any {
	return uuid.New().String()
}
