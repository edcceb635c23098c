package redshift

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bedrock-data/conveyor/lib/input"
	"github.com/bedrock-data/conveyor/lib/rows"
)

const copyFailed = `ERROR: Load into table 'orgs_staging_abcd1234' failed. Check 'stl_load_errors' system table for details.`

func gunzipLines(t *testing.T, contents []byte) []string {
	t.Helper()
	reader, err := gzip.NewReader(bytes.NewReader(contents))
	require.NoError(t, err)

	var lines []string
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func expectMergeAttemptFailingCopy(mock sqlmock.Sqlmock, lineNumber int, rawLine string) {
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMPORARY TABLE IF NOT EXISTS orgs_staging_abcd1234 .+").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("COPY orgs_staging_abcd1234 .+").
		WillReturnError(errors.New(copyFailed))
	mock.ExpectRollback()

	// stl_load_errors pads its char columns, the store has to trim.
	mock.ExpectQuery(regexp.QuoteMeta(stlLoadErrorsQuery)).
		WithArgs("%uploads/orgs_abcd1234%").
		WillReturnRows(sqlmock.NewRows([]string{"filename", "line_number", "colname", "err_reason", "raw_line"}).
			AddRow("s3://etl-staging/uploads/orgs_abcd1234/orgs_abcd1234_000.csv.gz   ", lineNumber,
				"id    ", "Invalid digit, Value 'b'   ", rawLine+"   "))
}

func TestUpsertRows_RecoversFromRejectedRow(t *testing.T) {
	store, mock, blob := newTestStore(t)

	expectMergeAttemptFailingCopy(mock, 3, "3|broken")

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMPORARY TABLE IF NOT EXISTS orgs_staging_abcd1234 .+").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("COPY orgs_staging_abcd1234 .+").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM orgs USING orgs_staging_abcd1234 .+").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO orgs .+").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	count, err := store.UpsertRows(orgsTable(), input.Array(
		rows.Row{"id": 1, "name": "value1"},
		rows.Row{"id": 2, "name": "value2"},
		rows.Row{"id": 3, "name": "broken"},
		rows.Row{"id": 4, "name": "value4"},
		rows.Row{"id": 5, "name": "value5"},
	), nil)

	// The surviving rows loaded, the rejected one surfaces as a validation
	// error pointing at the sidecar.
	assert.Equal(t, 4, count)
	var validationErr ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "orgs", validationErr.Table)
	assert.Equal(t, 1, validationErr.RejectedRows)
	assert.Equal(t, "s3://etl-staging/uploads/orgs_abcd1234/orgs_abcd1234.rejected.csv", validationErr.RemotePath)

	sidecarContents, readErr := os.ReadFile(validationErr.LocalPath)
	require.NoError(t, readErr)
	assert.Equal(t, "3|broken\n", string(sidecarContents))

	// First upload staged all five rows, the re-upload only four.
	require.Len(t, blob.uploads, 3)
	assert.Equal(t, []string{"1|value1", "2|value2", "3|broken", "4|value4", "5|value5"}, gunzipLines(t, blob.uploads[0].Contents))
	assert.Equal(t, blob.uploads[0].Key, blob.uploads[1].Key)
	assert.Equal(t, []string{"1|value1", "2|value2", "4|value4", "5|value5"}, gunzipLines(t, blob.uploads[1].Contents))
	assert.Equal(t, "uploads/orgs_abcd1234/orgs_abcd1234.rejected.csv", blob.uploads[2].Key)

	// Remote chunks are kept for inspection when rows were rejected.
	assert.Empty(t, blob.deletes)

	// The local working file is cleaned up either way.
	assert.NoFileExists(t, filepath.Join(store.tmpDir, "orgs_abcd1234_000.csv.gz"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRows_GivesUpAfterRetryCeiling(t *testing.T) {
	store, mock, blob := newTestStore(t)
	store.uploadRetries = 1

	// Every row is bad, so each attempt sheds the current first line until
	// the ceiling trips.
	expectMergeAttemptFailingCopy(mock, 1, "1|value1")
	expectMergeAttemptFailingCopy(mock, 1, "2|value2")

	_, err := store.UpsertRows(orgsTable(), input.Array(
		rows.Row{"id": 1, "name": "value1"},
		rows.Row{"id": 2, "name": "value2"},
	), nil)
	assert.ErrorContains(t, err, `gave up loading "orgs" after shedding 2 row(s)`)

	// The error names both copies of the shed rows so an operator can go
	// look at them.
	localSidecar := filepath.Join(store.tmpDir, "orgs_abcd1234.rejected.csv")
	remoteSidecar := "s3://etl-staging/uploads/orgs_abcd1234/orgs_abcd1234.rejected.csv"
	assert.ErrorContains(t, err, localSidecar)
	assert.ErrorContains(t, err, remoteSidecar)

	sidecarContents, readErr := os.ReadFile(localSidecar)
	require.NoError(t, readErr)
	assert.Equal(t, "1|value1\n2|value2\n", string(sidecarContents))

	// Initial chunk, two re-uploads after shedding, then the sidecar.
	require.Len(t, blob.uploads, 4)
	assert.Equal(t, "uploads/orgs_abcd1234/orgs_abcd1234.rejected.csv", blob.uploads[3].Key)
	assert.NoError(t, mock.ExpectationsWereMet())
}
