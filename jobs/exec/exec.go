package exec

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bedrock-data/conveyor/clients/redshift"
	"github.com/bedrock-data/conveyor/jobs"
	"github.com/bedrock-data/conveyor/lib/config"
	"github.com/bedrock-data/conveyor/lib/db"
	"github.com/bedrock-data/conveyor/lib/notify"
	"github.com/bedrock-data/conveyor/lib/telemetry/metrics/base"
	"github.com/bedrock-data/conveyor/models/jobrun"
)

// RetryError marks a failure the job itself knows to be transient. The
// engine retries it with backoff regardless of the inner error's type.
type RetryError struct {
	Inner error
}

func (e RetryError) Error() string {
	return e.Inner.Error()
}

func (e RetryError) Unwrap() error {
	return e.Inner
}

// fatalSignatures never retry no matter how they are wrapped. The load-abort
// text covers a bulk load that already exhausted its own recovery loop.
var fatalSignatures = []string{
	"Unknown database",
	"Load into table",
	"stl_load_errors",
}

// Ledger is the slice of the run repository the engine persists through.
type Ledger interface {
	CreateForJob(jobID, batch string) (*jobrun.JobRun, error)
	LatestQueued(jobID, batch string) (*jobrun.JobRun, error)
	Running(run *jobrun.JobRun) error
	Success(run *jobrun.JobRun, rowsProcessed int, message string) error
	Exception(run *jobrun.JobRun, runErr error) error
}

// Exec drives one job execution through its run states, retrying transient
// failures with exponential backoff against the same ledger row.
type Exec struct {
	registry *jobs.Registry
	ledger   Ledger
	metrics  base.Client
	cfg      config.Worker

	sleep    func(time.Duration)
	now      func() time.Time
	hostname func() (string, error)
}

func New(registry *jobs.Registry, ledger Ledger, metrics base.Client, cfg config.Worker) *Exec {
	return &Exec{
		registry: registry,
		ledger:   ledger,
		metrics:  metrics,
		cfg:      cfg,
		sleep:    time.Sleep,
		now:      time.Now,
		hostname: os.Hostname,
	}
}

// Run executes the payload's job to a terminal state. The returned error
// reflects the terminal outcome, callers at the queue boundary log it and
// ack the message either way.
func (e *Exec) Run(payload jobs.Payload) error {
	factory, err := e.registry.BatchFactory(payload.JobID)
	if err != nil {
		return err
	}

	batch, err := factory.FromMap(payload.Batch)
	if err != nil {
		return fmt.Errorf("failed to build a batch for job %q: %w", payload.JobID, err)
	}

	// A batch that fails validation never gets a run row, there is nothing
	// to retry or record.
	if err = batch.Validate(); err != nil {
		slog.Error("Dropping a job with an invalid batch",
			slog.String("jobID", payload.JobID), slog.Any("err", err))
		return fmt.Errorf("invalid batch for job %q: %w", payload.JobID, err)
	}

	encoded, err := batch.Encode()
	if err != nil {
		return err
	}

	job, err := e.registry.Create(payload.JobID)
	if err != nil {
		return err
	}

	// A scheduler may have queued this run already, reuse its row.
	run, err := e.ledger.LatestQueued(payload.JobID, encoded)
	if err != nil {
		return err
	}
	if run == nil {
		if run, err = e.ledger.CreateForJob(payload.JobID, encoded); err != nil {
			return err
		}
	}

	if err = e.ledger.Running(run); err != nil {
		return err
	}

	host, hostErr := e.hostname()
	if hostErr != nil {
		host = "unknown"
	}
	job.Notifier().Notify(notify.NewMessage(
		fmt.Sprintf("Job %s starting on host %s", payload.JobID, host)))

	start := e.now()
	result, runErr := e.runWithRetries(job, batch, factory, payload)
	duration := e.now().Sub(start)

	if runErr != nil {
		if err = e.ledger.Exception(run, runErr); err != nil {
			slog.Error("Failed to record a job exception",
				slog.String("jobID", payload.JobID), slog.Any("err", err))
		}
		job.Notifier().NotifyException(payload.JobID, runErr)
		e.emitTerminal(payload.JobID, "error", duration, 0)
		return runErr
	}

	if err = e.ledger.Success(run, result.RowsProcessed, result.Message); err != nil {
		slog.Error("Failed to record a job success",
			slog.String("jobID", payload.JobID), slog.Any("err", err))
	}

	msg := notify.NewMessage(fmt.Sprintf("Job %s finished", payload.JobID)).
		SetColor("good").
		AddField("Rows processed", fmt.Sprintf("%d", result.RowsProcessed)).
		AddField("Duration", duration.Round(time.Second).String())
	if result.Message != "" {
		msg.AddText(result.Message)
	}
	job.Notifier().Notify(msg)

	e.emitTerminal(payload.JobID, "success", duration, result.RowsProcessed)
	return nil
}

// runWithRetries keeps attempting the job while failures classify as
// retryable, backing off wait * mult^attempt between attempts. Every retry
// gets a fresh job and batch instance.
func (e *Exec) runWithRetries(job jobs.Job, batch jobs.Batch, factory jobs.BatchFactory, payload jobs.Payload) (jobs.Result, error) {
	wait := time.Duration(e.cfg.RetryWaitSeconds) * time.Second

	var result jobs.Result
	var err error
	for retries := 0; ; retries++ {
		result, err = job.Run(batch)
		if err == nil {
			return result, nil
		}

		if !retryable(err) || retries >= e.cfg.RetryMax {
			return result, err
		}

		slog.Warn("Job failed, retrying...",
			slog.String("jobID", payload.JobID),
			slog.Int("retries", retries),
			slog.Duration("sleep", wait),
			slog.Any("err", err),
		)
		e.sleep(wait)
		wait = time.Duration(float64(wait) * e.cfg.RetryMult)

		if job, err = e.registry.Create(payload.JobID); err != nil {
			return jobs.Result{}, err
		}
		if batch, err = factory.FromMap(payload.Batch); err != nil {
			return jobs.Result{}, err
		}
	}
}

// emitTerminal publishes the one metric point per execution, regardless of
// how many attempts it took.
func (e *Exec) emitTerminal(jobID, status string, duration time.Duration, rows int) {
	tags := map[string]string{"job_id": jobID, "status": status}
	e.metrics.Timing("job.execution", duration, tags)
	e.metrics.Count("job.rows_processed", int64(rows), tags)
}

func retryable(err error) bool {
	var validationErr redshift.ValidationError
	if errors.As(err, &validationErr) {
		return false
	}
	for _, signature := range fatalSignatures {
		if strings.Contains(err.Error(), signature) {
			return false
		}
	}

	var retryErr RetryError
	if errors.As(err, &retryErr) {
		return true
	}
	return db.RetryableError(err)
}
