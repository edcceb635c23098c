package csvwriter

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func readGzipLines(t *testing.T, fp string) []string {
	t.Helper()
	file, err := os.Open(fp)
	assert.NoError(t, err)
	defer file.Close()

	gzipReader, err := gzip.NewReader(file)
	assert.NoError(t, err)
	defer gzipReader.Close()

	var lines []string
	scanner := bufio.NewScanner(gzipReader)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	assert.NoError(t, scanner.Err())
	return lines
}

func TestGzipWriter(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "test.csv.gz")
	writer, err := NewGzipWriter(filePath, '|')
	assert.NoError(t, err)

	rows := [][]string{
		{"column1", "column2"},
		{"value1", "value2"},
		{"", ""},                          // Test empty row
		{"hello|dusty", "newline\nvalue"}, // Test special characters
	}

	for _, row := range rows {
		assert.NoError(t, writer.Write(row))
	}

	assert.NoError(t, writer.Flush())
	assert.NoError(t, writer.Close())
	assert.ErrorContains(t, writer.Close(), "already closed")
	assert.Equal(t, "test.csv.gz", writer.FileName())

	// Verify the file contents
	file, err := os.Open(filePath)
	assert.NoError(t, err)
	defer file.Close()

	gzipReader, err := gzip.NewReader(file)
	assert.NoError(t, err)
	defer gzipReader.Close()

	csvReader := csv.NewReader(gzipReader)
	csvReader.Comma = '|'

	for _, expectedRow := range rows {
		row, err := csvReader.Read()
		assert.NoError(t, err)
		for j, expectedValue := range expectedRow {
			assert.Equal(t, expectedValue, row[j])
		}
	}
}

func TestGzipWriterLargeData(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "large_test.csv.gz")
	writer, err := NewGzipWriter(filePath, '|')
	assert.NoError(t, err)

	// Test with a large number of rows
	largeRows := make([][]string, 1_000)
	for i := range largeRows {
		largeRows[i] = []string{fmt.Sprintf("value%d", i), fmt.Sprintf("value%d", i)}
	}

	for _, row := range largeRows {
		assert.NoError(t, writer.Write(row))
	}

	assert.NoError(t, writer.Flush())
	assert.NoError(t, writer.Close())
	assert.Equal(t, "large_test.csv.gz", writer.FileName())

	assert.Len(t, readGzipLines(t, filePath), 1_000)
}

func TestRemoveLine(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "staged.csv.gz")
	writer, err := NewGzipWriter(filePath, '|')
	assert.NoError(t, err)
	for i := 1; i <= 5; i++ {
		assert.NoError(t, writer.Write([]string{fmt.Sprintf("%d", i), fmt.Sprintf("value%d", i)}))
	}
	assert.NoError(t, writer.Flush())
	assert.NoError(t, writer.Close())

	removed, err := RemoveLine(filePath, 3)
	assert.NoError(t, err)
	assert.Equal(t, "3|value3", removed)

	assert.Equal(t, []string{"1|value1", "2|value2", "4|value4", "5|value5"}, readGzipLines(t, filePath))

	// The file stays valid gzip after surgery, so it can be operated on again.
	removed, err = RemoveLine(filePath, 1)
	assert.NoError(t, err)
	assert.Equal(t, "1|value1", removed)
	assert.Equal(t, []string{"2|value2", "4|value4", "5|value5"}, readGzipLines(t, filePath))
}

func TestRemoveLine_OutOfRange(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "staged.csv.gz")
	writer, err := NewGzipWriter(filePath, '|')
	assert.NoError(t, err)
	assert.NoError(t, writer.Write([]string{"only"}))
	assert.NoError(t, writer.Flush())
	assert.NoError(t, writer.Close())

	_, err = RemoveLine(filePath, 0)
	assert.ErrorContains(t, err, "must be positive")

	_, err = RemoveLine(filePath, 9)
	assert.ErrorContains(t, err, "no line 9")
}

func TestAppendLine(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "rejected.csv")

	assert.NoError(t, AppendLine(filePath, "3|value3"))
	assert.NoError(t, AppendLine(filePath, "7|value7"))

	contents, err := os.ReadFile(filePath)
	assert.NoError(t, err)
	assert.Equal(t, "3|value3\n7|value7\n", string(contents))
}
