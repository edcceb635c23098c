package schedule

import (
	"encoding/json"
	"time"

	"github.com/bedrock-data/conveyor/jobs"
	"github.com/bedrock-data/conveyor/lib/config"
	"github.com/bedrock-data/conveyor/models/jobrun"
)

// Ledger is the slice of the run repository the scheduler consults and
// writes through. Pending and last-ended questions are scoped to a single
// batch, a run for yesterday's batch never blocks today's.
type Ledger interface {
	HasPending(jobID, batch string) (bool, error)
	LastEnded(jobID, batch string) (*jobrun.JobRun, error)
	CreateForJob(jobID, batch string) (*jobrun.JobRun, error)
	Queued(run *jobrun.JobRun) error
}

const dayLayout = "2006-01-02"

// DailyTimeSchedule fires a job once per calendar day, any time after its
// HH:MM (UTC) window opens.
type DailyTimeSchedule struct {
	JobID  string
	Hour   int
	Minute int
	Batch  map[string]any

	now func() time.Time
}

func NewDailyTimeSchedule(cfg config.Schedule) *DailyTimeSchedule {
	return &DailyTimeSchedule{
		JobID:  cfg.JobID,
		Hour:   cfg.Hour,
		Minute: cfg.Minute,
		Batch:  cfg.Batch,
		now:    time.Now,
	}
}

// window is today's earliest firing time.
func (s *DailyTimeSchedule) window() time.Time {
	now := s.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), s.Hour, s.Minute, 0, 0, time.UTC)
}

// Ready reports whether the job should be queued right now: the window has
// opened, no run of today's batch is pending, and the batch has not already
// ended inside the window.
func (s *DailyTimeSchedule) Ready(ledger Ledger) (bool, error) {
	window := s.window()
	if s.now().UTC().Before(window) {
		return false, nil
	}

	batch, err := s.batchJSON()
	if err != nil {
		return false, err
	}

	pending, err := ledger.HasPending(s.JobID, batch)
	if err != nil || pending {
		return false, err
	}

	last, err := ledger.LastEnded(s.JobID, batch)
	if err != nil {
		return false, err
	}
	if last != nil && last.EndedAt != nil && !last.EndedAt.UTC().Before(window) {
		return false, nil
	}
	return true, nil
}

// batchJSON is the ledger encoding of today's batch. Map keys marshal in
// sorted order, so the scheduler and the worker derive the same string.
func (s *DailyTimeSchedule) batchJSON() (string, error) {
	encoded, err := json.Marshal(s.Payload().Batch)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// Payload builds the queue payload for today's firing. Without configured
// batch fields it defaults to a day batch for the current day.
func (s *DailyTimeSchedule) Payload() jobs.Payload {
	batch := s.Batch
	if batch == nil {
		batch = map[string]any{"day": s.now().UTC().Format(dayLayout)}
	}
	return jobs.Payload{JobID: s.JobID, Batch: batch}
}
