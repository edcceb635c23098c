package jobs

import (
	"github.com/bedrock-data/conveyor/lib/notify"
)

// Result is what a job reports back after a successful run.
type Result struct {
	RowsProcessed int
	Message       string
}

// Batch is the unit of work a job runs against. Encodings are stable, the
// same batch always encodes to the same string, so runs can be matched back
// to their queue payloads.
type Batch interface {
	Encode() (string, error)
	Validate() error
}

// BatchFactory rebuilds a batch out of decoded payload fields.
type BatchFactory interface {
	FromMap(fields map[string]any) (Batch, error)
}

// Job is a unit of ETL work. Implementations are registered with a Registry
// and instantiated fresh for every execution attempt.
type Job interface {
	ID() string
	Run(batch Batch) (Result, error)
	BatchFactory() BatchFactory
	Notifier() notify.Notifier
}
