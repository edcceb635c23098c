package redshift

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bedrock-data/conveyor/lib/csvwriter"
	"github.com/bedrock-data/conveyor/lib/jitter"
	"github.com/bedrock-data/conveyor/lib/retry"
	"github.com/bedrock-data/conveyor/lib/rows"
	"github.com/bedrock-data/conveyor/lib/schema"
)

// uploadRetryCfg smooths over transient S3 failures while staging chunks.
var uploadRetryCfg = retry.NewRetryConfig(retry.NewRetryConfigArgs{
	JitterBaseMs: 500,
	JitterMaxMs:  jitter.DefaultMaxMs,
	MaxAttempts:  3,
})

// loadTable stages one table's rows to S3 and merges them in. A COPY failure
// caused by a bad row removes that row from the staged chunk, records it in a
// sidecar file, re-uploads and retries, up to uploadRetries rows per batch.
func (s *Store) loadTable(target *schema.Table, rs []rows.Row, upsert bool) (int, error) {
	if len(rs) == 0 {
		return 0, nil
	}

	ctx := context.Background()
	suffix := s.randomSuffix()
	prefix := fmt.Sprintf("%s_%s", target.Name, suffix)
	if s.cfg.S3Prefix != "" {
		prefix = s.cfg.S3Prefix + "/" + prefix
	}

	chunks, err := s.writeChunks(target, rs, suffix)
	defer func() {
		for _, chunk := range chunks {
			if removeErr := os.Remove(chunk); removeErr != nil && !os.IsNotExist(removeErr) {
				slog.Warn("Failed to delete a staged chunk", slog.Any("err", removeErr), slog.String("filePath", chunk))
			}
		}
	}()
	if err != nil {
		return 0, err
	}

	localByURI := make(map[string]string, len(chunks))
	for _, chunk := range chunks {
		uri, uploadErr := retry.WithRetries(uploadRetryCfg, func(_ int, _ error) (string, error) {
			return s.blob.UploadLocalFile(ctx, s.cfg.Bucket, prefix, chunk)
		})
		if uploadErr != nil {
			return 0, fmt.Errorf("failed to stage %q to s3: %w", chunk, uploadErr)
		}
		localByURI[uri] = chunk
	}

	staging := s.stagingTableFor(target)
	s3URI := fmt.Sprintf("s3://%s/%s/", s.cfg.Bucket, prefix)
	sidecar := filepath.Join(s.tmpDir, target.Name+"_"+suffix+rejectedFileSuffix)

	var count, rejected int
	for attempt := 0; attempt <= s.uploadRetries; attempt++ {
		count, err = s.mergeStaged(target, staging, s3URI, upsert)
		if err == nil {
			break
		}
		if !isLoadError(err) {
			return 0, err
		}

		loadErr, lookupErr := s.lookupLoadError(prefix)
		if lookupErr != nil {
			return 0, errors.Join(err, lookupErr)
		}

		local, ok := localByURI[loadErr.Filename]
		if !ok {
			return 0, fmt.Errorf("load error names an unknown staged file %q: %w", loadErr.Filename, err)
		}

		removed, removeErr := csvwriter.RemoveLine(local, loadErr.LineNumber)
		if removeErr != nil {
			return 0, errors.Join(err, removeErr)
		}
		if appendErr := csvwriter.AppendLine(sidecar, removed); appendErr != nil {
			return 0, errors.Join(err, appendErr)
		}
		rejected++

		slog.Warn("Removed a rejected row from a staged chunk",
			slog.String("table", target.Name),
			slog.String("column", loadErr.ColName),
			slog.String("reason", loadErr.Reason),
			slog.Int("lineNumber", loadErr.LineNumber),
		)

		if _, uploadErr := s.blob.UploadLocalFile(ctx, s.cfg.Bucket, prefix, local); uploadErr != nil {
			return 0, fmt.Errorf("failed to re-stage %q after removing a row: %w", local, uploadErr)
		}
	}
	if err != nil {
		remoteSidecar := s.uploadSidecar(ctx, prefix, sidecar)
		return 0, fmt.Errorf("gave up loading %q after shedding %d row(s), rejected rows kept at %s and %s: %w",
			target.Name, rejected, sidecar, remoteSidecar, err)
	}

	if rejected > 0 {
		// The staged chunks and the sidecar stay behind for inspection.
		remoteSidecar := s.uploadSidecar(ctx, prefix, sidecar)
		return count, ValidationError{
			Table:        target.Name,
			RejectedRows: rejected,
			LocalPath:    sidecar,
			RemotePath:   remoteSidecar,
		}
	}

	for uri := range localByURI {
		key := strings.TrimPrefix(uri, fmt.Sprintf("s3://%s/", s.cfg.Bucket))
		if deleteErr := s.blob.Delete(ctx, s.cfg.Bucket, key); deleteErr != nil {
			slog.Warn("Failed to delete a staged chunk from s3", slog.Any("err", deleteErr), slog.String("key", key))
		}
	}
	return count, nil
}

// uploadSidecar pushes the rejected-rows file to S3 so operators can inspect
// it without shell access to the worker. Best effort, a failed upload still
// leaves the local copy in place.
func (s *Store) uploadSidecar(ctx context.Context, prefix, sidecar string) string {
	remoteSidecar, uploadErr := s.blob.UploadLocalFile(ctx, s.cfg.Bucket, prefix, sidecar)
	if uploadErr != nil {
		slog.Warn("Failed to upload the rejected-rows sidecar", slog.Any("err", uploadErr), slog.String("filePath", sidecar))
	}
	return remoteSidecar
}

// mergeStaged runs one load attempt in a single transaction: create the
// session staging table, COPY the staged files into it, then swap the rows
// into the target. Rolls back as a unit so a failed COPY leaves nothing
// behind.
func (s *Store) mergeStaged(target, staging *schema.Table, s3URI string, upsert bool) (int, error) {
	tx, err := s.store.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to open a transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.Exec(staging.CreateTableSQL()); err != nil {
		return 0, fmt.Errorf("failed to create the staging table %q: %w", staging.Name, err)
	}

	if _, err = tx.Exec(copyQuery(staging, s3URI, s.cfg, s.delimiter)); err != nil {
		return 0, fmt.Errorf("failed to copy into %q: %w", staging.Name, err)
	}

	if upsert {
		if _, err = tx.Exec(deleteUsingQuery(target, staging)); err != nil {
			return 0, fmt.Errorf("failed to delete replaced rows from %q: %w", target.Name, err)
		}
	}

	result, err := tx.Exec(insertSelectQuery(target, staging))
	if err != nil {
		return 0, fmt.Errorf("failed to insert staged rows into %q: %w", target.Name, err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit the merge into %q: %w", target.Name, err)
	}
	return int(count), nil
}

func (s *Store) writeChunks(target *schema.Table, rs []rows.Row, suffix string) ([]string, error) {
	var paths []string
	for start := 0; start < len(rs); start += s.chunkRows {
		end := min(start+s.chunkRows, len(rs))

		fp := filepath.Join(s.tmpDir, fmt.Sprintf("%s_%s_%03d.csv.gz", target.Name, suffix, len(paths)))
		writer, err := csvwriter.NewGzipWriter(fp, s.delimiter)
		if err != nil {
			return paths, err
		}
		paths = append(paths, fp)

		for _, r := range rs[start:end] {
			record, castErr := castRow(target, r)
			if castErr != nil {
				_ = writer.Close()
				return paths, castErr
			}
			if err = writer.Write(record); err != nil {
				_ = writer.Close()
				return paths, err
			}
		}

		if err = writer.Flush(); err != nil {
			_ = writer.Close()
			return paths, err
		}
		if err = writer.Close(); err != nil {
			return paths, err
		}
	}
	return paths, nil
}

func (s *Store) lookupLoadError(prefix string) (STLLoadError, error) {
	var loadErr STLLoadError
	row := s.store.QueryRow(stlLoadErrorsQuery, "%"+prefix+"%")
	if err := row.Scan(&loadErr.Filename, &loadErr.LineNumber, &loadErr.ColName, &loadErr.Reason, &loadErr.RawLine); err != nil {
		return STLLoadError{}, fmt.Errorf("failed to look up stl_load_errors: %w", err)
	}

	// Redshift pads these as fixed-width char columns.
	loadErr.Filename = strings.TrimSpace(loadErr.Filename)
	loadErr.ColName = strings.TrimSpace(loadErr.ColName)
	loadErr.Reason = strings.TrimSpace(loadErr.Reason)
	loadErr.RawLine = strings.TrimSpace(loadErr.RawLine)
	return loadErr, nil
}
