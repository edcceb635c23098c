package redshift

import (
	"fmt"
	"strings"
)

// SchemaError means the destination table cannot support the requested
// operation, e.g. an upsert against a table with no primary key.
type SchemaError struct {
	Table  string
	Reason string
}

func (e SchemaError) Error() string {
	return fmt.Sprintf("table %q: %s", e.Table, e.Reason)
}

// STLLoadError is one rejected row surfaced from the stl_load_errors system
// table after a failed COPY.
type STLLoadError struct {
	Filename   string
	LineNumber int
	ColName    string
	Reason     string
	RawLine    string
}

func (e STLLoadError) Error() string {
	return fmt.Sprintf("load error in %s line %d, column %s: %s",
		e.Filename, e.LineNumber, e.ColName, e.Reason)
}

// ValidationError reports rows that were removed from a staged upload so the
// rest of the batch could load. The rejected rows live in the sidecar files.
type ValidationError struct {
	Table        string
	RejectedRows int
	LocalPath    string
	RemotePath   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%d row(s) rejected while loading %q, rejected rows kept at %s and %s",
		e.RejectedRows, e.Table, e.LocalPath, e.RemotePath)
}

// isLoadError reports whether a COPY failure points at stl_load_errors, which
// means the rejected row can be recovered and retried.
func isLoadError(err error) bool {
	if err == nil {
		return false
	}

	return strings.Contains(err.Error(), "stl_load_errors") ||
		strings.Contains(err.Error(), "Load into table")
}
