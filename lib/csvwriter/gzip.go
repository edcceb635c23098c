package csvwriter

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
)

type GzipWriter struct {
	file   *os.File
	gzip   *gzip.Writer
	writer *csv.Writer
}

func NewGzipWriter(fp string, delimiter rune) (*GzipWriter, error) {
	file, err := os.Create(fp)
	if err != nil {
		return nil, err
	}

	gzipWriter := gzip.NewWriter(file)
	csvWriter := csv.NewWriter(gzipWriter)
	csvWriter.Comma = delimiter
	return &GzipWriter{
		file:   file,
		gzip:   gzipWriter,
		writer: csvWriter,
	}, nil
}

func (g *GzipWriter) FileName() string {
	return filepath.Base(g.file.Name())
}

func (g *GzipWriter) Write(row []string) error {
	return g.writer.Write(row)
}

func (g *GzipWriter) Flush() error {
	g.writer.Flush()
	return g.writer.Error()
}

func (g *GzipWriter) Close() error {
	if err := g.writer.Error(); err != nil {
		// If the writer failed to close, let's try to close the gzip writer and file.
		_ = g.gzip.Close()
		_ = g.file.Close()
		return err
	}
	if err := g.gzip.Close(); err != nil {
		// If gzip fails, we should at least try to close the file
		_ = g.file.Close()
		return err
	}
	return g.file.Close()
}

// RemoveLine rewrites the gzip file at fp without its lineNumber-th line
// (1-based, matching stl_load_errors.line_number) and returns the raw line
// that was removed.
func RemoveLine(fp string, lineNumber int) (string, error) {
	if lineNumber < 1 {
		return "", fmt.Errorf("line number must be positive, got %d", lineNumber)
	}

	src, err := os.Open(fp)
	if err != nil {
		return "", err
	}
	defer src.Close()

	gzReader, err := gzip.NewReader(src)
	if err != nil {
		return "", err
	}
	defer gzReader.Close()

	tmp, err := os.CreateTemp(filepath.Dir(fp), filepath.Base(fp)+".*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	gzWriter := gzip.NewWriter(tmp)
	var removed string
	var found bool

	scanner := bufio.NewScanner(gzReader)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		if lineNo == lineNumber {
			removed = scanner.Text()
			found = true
			continue
		}
		if _, err = gzWriter.Write(append(scanner.Bytes(), '\n')); err != nil {
			_ = gzWriter.Close()
			_ = tmp.Close()
			return "", err
		}
	}
	if err = scanner.Err(); err != nil {
		_ = gzWriter.Close()
		_ = tmp.Close()
		return "", err
	}
	if !found {
		_ = gzWriter.Close()
		_ = tmp.Close()
		return "", fmt.Errorf("file %q has no line %d", fp, lineNumber)
	}

	if err = gzWriter.Close(); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err = tmp.Close(); err != nil {
		return "", err
	}
	return removed, os.Rename(tmp.Name(), fp)
}

// AppendLine appends one raw record to the plain-text file at fp, creating
// the file if it does not exist yet.
func AppendLine(fp string, line string) error {
	file, err := os.OpenFile(fp, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err = fmt.Fprintln(file, line); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
