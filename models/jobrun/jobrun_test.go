package jobrun

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bedrock-data/conveyor/lib/db"
)

var testNow = time.Date(2017, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	repo := NewRepository(db.FromDB(mockDB), "")
	repo.now = func() time.Time { return testNow }
	return repo, mock
}

func TestCreateForJob(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		"INSERT INTO job_runs (created_at, updated_at, job_id, batch, status) VALUES ($1, $2, $3, $4, $5) RETURNING id")).
		WithArgs(testNow, testNow, "daily_export", `{"day":"2017-06-01"}`, "new").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	run, err := repo.CreateForJob("daily_export", `{"day":"2017-06-01"}`)
	require.NoError(t, err)
	assert.Equal(t, int64(7), run.ID)
	assert.Equal(t, StatusNew, run.Status)
	assert.Equal(t, testNow, run.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLifecycle(t *testing.T) {
	repo, mock := newTestRepo(t)
	run := &JobRun{ID: 7, JobID: "daily_export", Status: StatusNew}

	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE job_runs SET updated_at = $1, status = $2, queued_at = $3, started_at = $4, ended_at = $5, rows_processed = $6, message = $7 WHERE id = $8")).
		WithArgs(testNow, "running", nil, testNow, nil, 0, "", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Running(run))
	assert.Equal(t, StatusRunning, run.Status)
	require.NotNil(t, run.StartedAt)

	mock.ExpectExec("UPDATE job_runs SET .+").
		WithArgs(testNow, "success", nil, testNow, testNow, 1234, "loaded", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Success(run, 1234, "loaded"))
	assert.Equal(t, StatusSuccess, run.Status)
	assert.True(t, run.Finished())
	assert.Equal(t, testNow, *run.EndedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExceptionKeepsFirstEndedAt(t *testing.T) {
	repo, mock := newTestRepo(t)

	earlier := testNow.Add(-time.Hour)
	run := &JobRun{ID: 7, JobID: "daily_export", Status: StatusRunning, EndedAt: &earlier}

	mock.ExpectExec("UPDATE job_runs SET .+").
		WithArgs(testNow, "error", nil, nil, earlier, 0, "connection reset by peer", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Exception(run, errors.New("connection reset by peer")))
	assert.Equal(t, earlier, *run.EndedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasPending(t *testing.T) {
	repo, mock := newTestRepo(t)

	// Pending is scoped to one batch: the batch is bound in the query and
	// only queued or running runs count.
	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT COUNT(1) FROM job_runs WHERE job_id = $1 AND batch = $2 AND status IN ($3, $4)")).
		WithArgs("daily_export", `{"day":"2017-06-01"}`, "queued", "running").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	pending, err := repo.HasPending("daily_export", `{"day":"2017-06-01"}`)
	require.NoError(t, err)
	assert.True(t, pending)

	mock.ExpectQuery("SELECT COUNT\\(1\\) FROM job_runs .+").
		WithArgs("daily_export", `{"day":"2017-06-02"}`, "queued", "running").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	// The same job stays free for its other batches.
	pending, err = repo.HasPending("daily_export", `{"day":"2017-06-02"}`)
	require.NoError(t, err)
	assert.False(t, pending)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWasSuccessful(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery("SELECT status FROM job_runs WHERE job_id = .+ AND batch = .+").
		WithArgs("daily_export", `{"day":"2017-06-01"}`).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("success"))
	ok, err := repo.WasSuccessful("daily_export", `{"day":"2017-06-01"}`)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectQuery("SELECT status FROM job_runs .+").
		WithArgs("daily_export", `{"day":"2017-06-01"}`).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("error"))
	ok, err = repo.WasSuccessful("daily_export", `{"day":"2017-06-01"}`)
	require.NoError(t, err)
	assert.False(t, ok)

	// A batch that never ran has no ended runs at all.
	mock.ExpectQuery("SELECT status FROM job_runs .+").
		WithArgs("daily_export", `{"day":"2017-06-02"}`).
		WillReturnRows(sqlmock.NewRows([]string{"status"}))
	ok, err = repo.WasSuccessful("daily_export", `{"day":"2017-06-02"}`)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLastEnded(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery("SELECT id, created_at, .+ AND ended_at IS NOT NULL ORDER BY ended_at DESC LIMIT 1").
		WithArgs("daily_export", `{"day":"2017-06-01"}`).
		WillReturnRows(runRows().
			AddRow(7, testNow, testNow, "daily_export", `{"day":"2017-06-01"}`, "success",
				nil, testNow.Add(-time.Minute), testNow, 1234, "loaded"))
	run, err := repo.LastEnded("daily_export", `{"day":"2017-06-01"}`)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, int64(7), run.ID)
	assert.Equal(t, StatusSuccess, run.Status)
	assert.Equal(t, testNow, *run.EndedAt)

	mock.ExpectQuery("SELECT id, created_at, .+ AND ended_at IS NOT NULL .+").
		WithArgs("daily_export", `{"day":"2017-06-02"}`).
		WillReturnRows(runRows())
	run, err = repo.LastEnded("daily_export", `{"day":"2017-06-02"}`)
	require.NoError(t, err)
	assert.Nil(t, run)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func runRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "created_at", "updated_at", "job_id", "batch", "status",
		"queued_at", "started_at", "ended_at", "rows_processed", "message",
	})
}

func TestFind(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery("SELECT id, created_at, .+ FROM job_runs WHERE id = .+").
		WithArgs(int64(7)).
		WillReturnRows(runRows().
			AddRow(7, testNow, testNow, "daily_export", `{"day":"2017-06-01"}`, "success",
				nil, testNow, testNow.Add(time.Minute), 1234, "loaded"))

	run, err := repo.Find(7)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "daily_export", run.JobID)
	assert.Equal(t, StatusSuccess, run.Status)
	assert.Equal(t, 1234, run.RowsProcessed)
	assert.Equal(t, time.Minute, run.Duration())
	assert.Nil(t, run.QueuedAt)

	mock.ExpectQuery("SELECT id, created_at, .+ FROM job_runs WHERE id = .+").
		WithArgs(int64(8)).
		WillReturnRows(runRows())
	missing, err := repo.Find(8)
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByStatus(t *testing.T) {
	repo, mock := newTestRepo(t)

	// Runs stranded in a stale state by a worker that died before the time
	// bound stay out of the result set.
	since := testNow.Add(-6 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT "+runColumns+" FROM job_runs WHERE status = $1 AND started_at > $2 ORDER BY created_at")).
		WithArgs("queued", since).
		WillReturnRows(runRows().
			AddRow(1, testNow, testNow, "daily_export", "{}", "queued", testNow, nil, nil, nil, nil).
			AddRow(2, testNow, testNow, "hourly_sync", "{}", "queued", testNow, nil, nil, nil, nil))

	runs, err := repo.FindByStatus(StatusQueued, since)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "daily_export", runs[0].JobID)
	assert.Equal(t, "hourly_sync", runs[1].JobID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestQueued(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery("SELECT id, created_at, .+ ORDER BY created_at DESC LIMIT 1").
		WithArgs("daily_export", "{}", "queued").
		WillReturnRows(runRows().
			AddRow(3, testNow, testNow, "daily_export", "{}", "queued", testNow, nil, nil, nil, nil))

	run, err := repo.LatestQueued("daily_export", "{}")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, int64(3), run.ID)

	mock.ExpectQuery("SELECT id, created_at, .+ ORDER BY created_at DESC LIMIT 1").
		WithArgs("daily_export", "{}", "queued").
		WillReturnRows(runRows())
	none, err := repo.LatestQueued("daily_export", "{}")
	require.NoError(t, err)
	assert.Nil(t, none)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTable_SchemaQualified(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	repo := NewRepository(db.FromDB(mockDB), "etl")
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS etl.job_runs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.CreateTable())
	assert.NoError(t, mock.ExpectationsWereMet())
}
