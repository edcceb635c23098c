package constants

const (
	// OldColumnPrefix is prepended to tracked columns when a transform
	// snapshots the previously loaded value next to the incoming one.
	OldColumnPrefix = "old_"

	// DateTableIDSuffix is appended to date columns augmented with a
	// YYYYMMDD integer key into the shared date dimension.
	DateTableIDSuffix = "_dt_id"
)

// ExporterKind is used for the Telemetry package
type ExporterKind string

const (
	Datadog ExporterKind = "datadog"
)

type QueueKind string

const (
	FileQueue QueueKind = "file"
	SQSQueue  QueueKind = "sqs"
)

var validQueues = []QueueKind{
	FileQueue,
	SQSQueue,
}

func IsValidQueue(queue QueueKind) bool {
	for _, validQueue := range validQueues {
		if queue == validQueue {
			return true
		}
	}

	return false
}
