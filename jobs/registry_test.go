package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bedrock-data/conveyor/lib/notify"
)

type stubJob struct {
	id      string
	factory BatchFactory
	result  Result
	runErr  error
}

func (j *stubJob) ID() string { return j.id }

func (j *stubJob) Run(_ Batch) (Result, error) { return j.result, j.runErr }

func (j *stubJob) BatchFactory() BatchFactory { return j.factory }

func (j *stubJob) Notifier() notify.Notifier { return notify.NullNotifier{} }

func TestRegistry_CreateReturnsFreshInstances(t *testing.T) {
	registry := NewRegistry()
	registry.Register("daily_export", func() Job {
		return &stubJob{id: "daily_export", factory: DayBatchFactory{}}
	})

	first, err := registry.Create("daily_export")
	require.NoError(t, err)
	second, err := registry.Create("daily_export")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, "daily_export", first.ID())
}

func TestRegistry_UnknownJob(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Create("ghost")
	var notFound NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "ghost", notFound.JobID)

	_, err = registry.BatchFactory("ghost")
	assert.ErrorAs(t, err, &notFound)
}

func TestRegistry_BatchFactoryOverride(t *testing.T) {
	registry := NewRegistry()
	registry.Register("daily_export", func() Job {
		return &stubJob{id: "daily_export", factory: DayBatchFactory{}}
	})

	factory, err := registry.BatchFactory("daily_export")
	require.NoError(t, err)
	assert.IsType(t, DayBatchFactory{}, factory)

	fixed := time.Date(2017, 6, 1, 0, 0, 0, 0, time.UTC)
	registry.RegisterBatchFactory("daily_export", DayBatchFactory{Now: func() time.Time { return fixed }})

	overridden, err := registry.BatchFactory("daily_export")
	require.NoError(t, err)
	batch, err := overridden.FromMap(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, DayBatch{Day: fixed}, batch)
}

func TestRegistry_IDs(t *testing.T) {
	registry := NewRegistry()
	registry.Register("hourly_sync", func() Job { return &stubJob{id: "hourly_sync"} })
	registry.Register("daily_export", func() Job { return &stubJob{id: "daily_export"} })

	assert.Equal(t, []string{"daily_export", "hourly_sync"}, registry.IDs())
}
