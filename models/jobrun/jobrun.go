package jobrun

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bedrock-data/conveyor/lib/db"
)

type Status string

const (
	StatusNew     Status = "new"
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

const maxMessageLength = 4096

// JobRun is one ledger row: a single execution of a job against a batch,
// from creation through its terminal state. Retries reuse the same run.
type JobRun struct {
	ID            int64
	JobID         string
	Batch         string
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
	QueuedAt      *time.Time
	StartedAt     *time.Time
	EndedAt       *time.Time
	RowsProcessed int
	Message       string
}

// Duration reports wall time between start and end, zero until both are set.
func (r *JobRun) Duration() time.Duration {
	if r.StartedAt == nil || r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(*r.StartedAt)
}

func (r *JobRun) Finished() bool {
	return r.Status == StatusSuccess || r.Status == StatusError
}

const createTableDDL = `CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	job_id VARCHAR(255) NOT NULL,
	batch VARCHAR(4096),
	status VARCHAR(32) NOT NULL,
	queued_at TIMESTAMP,
	started_at TIMESTAMP,
	ended_at TIMESTAMP,
	rows_processed INTEGER,
	message VARCHAR(4096)
)`

const runColumns = "id, created_at, updated_at, job_id, batch, status, queued_at, started_at, ended_at, rows_processed, message"

// Repository persists job runs in the ledger database.
type Repository struct {
	store  db.Store
	schema string

	// Writes go through one mutex, the ledger driver does not tolerate
	// concurrent statements on a single connection.
	mu  sync.Mutex
	now func() time.Time
}

func NewRepository(store db.Store, schemaName string) *Repository {
	return &Repository{store: store, schema: schemaName, now: time.Now}
}

func (r *Repository) tableName() string {
	if r.schema != "" {
		return r.schema + ".job_runs"
	}
	return "job_runs"
}

// CreateTable issues the ledger DDL, a no-op when the table already exists.
func (r *Repository) CreateTable() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.store.Exec(fmt.Sprintf(createTableDDL, r.tableName())); err != nil {
		return fmt.Errorf("failed to create the job_runs table: %w", err)
	}
	return nil
}

// CreateForJob inserts a fresh run in the new state and returns it with the
// assigned id.
func (r *Repository) CreateForJob(jobID, batch string) (*JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	run := &JobRun{JobID: jobID, Batch: batch, Status: StatusNew, CreatedAt: now, UpdatedAt: now}

	query := fmt.Sprintf("INSERT INTO %s (created_at, updated_at, job_id, batch, status) VALUES ($1, $2, $3, $4, $5) RETURNING id", r.tableName())
	err := r.store.QueryRow(query, run.CreatedAt, run.UpdatedAt, run.JobID, run.Batch, string(run.Status)).Scan(&run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create a run for job %q: %w", jobID, err)
	}
	return run, nil
}

// Queued marks the run as waiting on the queue.
func (r *Repository) Queued(run *JobRun) error {
	now := r.now().UTC()
	run.Status = StatusQueued
	run.QueuedAt = &now
	return r.save(run)
}

// Running marks the run as started.
func (r *Repository) Running(run *JobRun) error {
	now := r.now().UTC()
	run.Status = StatusRunning
	run.StartedAt = &now
	return r.save(run)
}

// Success records the terminal success outcome.
func (r *Repository) Success(run *JobRun, rowsProcessed int, message string) error {
	run.Status = StatusSuccess
	run.RowsProcessed = rowsProcessed
	run.Message = truncate(message)
	r.setEnded(run)
	return r.save(run)
}

// Exception records the terminal error outcome.
func (r *Repository) Exception(run *JobRun, runErr error) error {
	run.Status = StatusError
	run.Message = truncate(runErr.Error())
	r.setEnded(run)
	return r.save(run)
}

// setEnded stamps ended_at exactly once, retries that already ended keep
// their original timestamp.
func (r *Repository) setEnded(run *JobRun) {
	if run.EndedAt == nil {
		now := r.now().UTC()
		run.EndedAt = &now
	}
}

func (r *Repository) save(run *JobRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run.UpdatedAt = r.now().UTC()
	query := fmt.Sprintf("UPDATE %s SET updated_at = $1, status = $2, queued_at = $3, started_at = $4, ended_at = $5, rows_processed = $6, message = $7 WHERE id = $8", r.tableName())
	_, err := r.store.Exec(query,
		run.UpdatedAt, string(run.Status), run.QueuedAt, run.StartedAt, run.EndedAt, run.RowsProcessed, run.Message, run.ID)
	if err != nil {
		return fmt.Errorf("failed to save run %d: %w", run.ID, err)
	}
	return nil
}

// HasPending reports whether the job has a queued or running run for this
// exact batch. Other batches of the same job do not count, pending is about
// one unit of work, not the job as a whole.
func (r *Repository) HasPending(jobID, batch string) (bool, error) {
	var count int
	query := fmt.Sprintf("SELECT COUNT(1) FROM %s WHERE job_id = $1 AND batch = $2 AND status IN ($3, $4)", r.tableName())
	err := r.store.QueryRow(query, jobID, batch, string(StatusQueued), string(StatusRunning)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check pending runs for job %q: %w", jobID, err)
	}
	return count > 0, nil
}

// WasSuccessful reports whether the most recently ended run of this job and
// batch succeeded.
func (r *Repository) WasSuccessful(jobID, batch string) (bool, error) {
	var status string
	query := fmt.Sprintf("SELECT status FROM %s WHERE job_id = $1 AND batch = $2 AND ended_at IS NOT NULL ORDER BY ended_at DESC LIMIT 1", r.tableName())
	err := r.store.QueryRow(query, jobID, batch).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up the last ended run for job %q: %w", jobID, err)
	}
	return Status(status) == StatusSuccess, nil
}

// LastEnded returns the run of this job and batch that most recently reached
// a terminal state, nil when none ever has.
func (r *Repository) LastEnded(jobID, batch string) (*JobRun, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE job_id = $1 AND batch = $2 AND ended_at IS NOT NULL ORDER BY ended_at DESC LIMIT 1", runColumns, r.tableName())
	run, err := scanRun(r.store.QueryRow(query, jobID, batch))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find the last ended run for job %q: %w", jobID, err)
	}
	return run, nil
}

// Find returns a run by id, nil when it does not exist.
func (r *Repository) Find(id int64) (*JobRun, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", runColumns, r.tableName())
	run, err := scanRun(r.store.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find run %d: %w", id, err)
	}
	return run, nil
}

// FindByStatus returns every run in the given state that started after
// sinceTime, oldest first. The time bound keeps runs stranded in a stale
// state by an aborted worker from surfacing forever.
func (r *Repository) FindByStatus(status Status, sinceTime time.Time) ([]*JobRun, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE status = $1 AND started_at > $2 ORDER BY created_at", runColumns, r.tableName())
	rows, err := r.store.Query(query, string(status), sinceTime)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s runs: %w", status, err)
	}
	defer rows.Close()

	var runs []*JobRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan a %s run: %w", status, err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LatestQueued returns the newest queued run for a job and batch, so a
// retried execution can pick its existing run back up. Nil when none exists.
func (r *Repository) LatestQueued(jobID, batch string) (*JobRun, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE job_id = $1 AND batch = $2 AND status = $3 ORDER BY created_at DESC LIMIT 1", runColumns, r.tableName())
	run, err := scanRun(r.store.QueryRow(query, jobID, batch, string(StatusQueued)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find a queued run for job %q: %w", jobID, err)
	}
	return run, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*JobRun, error) {
	var run JobRun
	var status string
	var batch, message sql.NullString
	var queuedAt, startedAt, endedAt sql.NullTime
	var rowsProcessed sql.NullInt64

	err := row.Scan(&run.ID, &run.CreatedAt, &run.UpdatedAt, &run.JobID, &batch, &status,
		&queuedAt, &startedAt, &endedAt, &rowsProcessed, &message)
	if err != nil {
		return nil, err
	}

	run.Status = Status(status)
	run.Batch = batch.String
	run.Message = message.String
	run.RowsProcessed = int(rowsProcessed.Int64)
	if queuedAt.Valid {
		run.QueuedAt = &queuedAt.Time
	}
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		run.EndedAt = &endedAt.Time
	}
	return &run, nil
}

func truncate(message string) string {
	if len(message) > maxMessageLength {
		return message[:maxMessageLength]
	}
	return message
}
