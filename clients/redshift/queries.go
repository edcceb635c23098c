package redshift

import (
	"fmt"
	"strings"

	"github.com/bedrock-data/conveyor/lib/config"
	"github.com/bedrock-data/conveyor/lib/schema"
)

// loadColumns lists the columns a staged load carries, in ordinal order.
// Identity columns are excluded, COPY and INSERT must let Redshift assign
// them.
func loadColumns(t *schema.Table) []string {
	names := make([]string, 0, len(t.Columns()))
	for _, name := range t.ColumnNames() {
		if t.IsIdentity(name) {
			continue
		}
		names = append(names, name)
	}
	return names
}

func copyQuery(t *schema.Table, s3URI string, cfg config.Redshift, delimiter rune) string {
	var b strings.Builder
	fmt.Fprintf(&b, "COPY %s (%s) FROM '%s'", t.FullName(), strings.Join(loadColumns(t), ", "), s3URI)
	fmt.Fprintf(&b, " IAM_ROLE '%s'", cfg.IAMRole)
	if cfg.Region != "" {
		fmt.Fprintf(&b, " REGION '%s'", cfg.Region)
	}
	fmt.Fprintf(&b, " CSV DELIMITER '%c' NULL AS '%s' TIMEFORMAT 'auto' DATEFORMAT 'auto' GZIP", delimiter, nullPlaceholder)
	return b.String()
}

// deleteUsingQuery removes the target rows a staged batch is about to
// replace, matching on every primary key column.
func deleteUsingQuery(target, staging *schema.Table) string {
	var conds []string
	for _, pk := range target.PrimaryKey {
		conds = append(conds, fmt.Sprintf("%s.%s = %s.%s", target.FullName(), pk, staging.FullName(), pk))
	}

	return fmt.Sprintf("DELETE FROM %s USING %s WHERE %s",
		target.FullName(), staging.FullName(), strings.Join(conds, " AND "))
}

func insertSelectQuery(target, staging *schema.Table) string {
	cols := strings.Join(loadColumns(target), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		target.FullName(), cols, cols, staging.FullName())
}

func unloadQuery(query, s3URI string, cfg config.Redshift, delimiter rune) string {
	var b strings.Builder
	// UNLOAD takes the SELECT as a quoted literal, so embedded quotes double up.
	fmt.Fprintf(&b, "UNLOAD ('%s') TO '%s'", strings.ReplaceAll(query, "'", "''"), s3URI)
	fmt.Fprintf(&b, " IAM_ROLE '%s'", cfg.IAMRole)
	if cfg.Region != "" {
		fmt.Fprintf(&b, " REGION '%s'", cfg.Region)
	}
	fmt.Fprintf(&b, " DELIMITER '%c' GZIP ALLOWOVERWRITE", delimiter)
	return b.String()
}

func countRowsQuery(t *schema.Table) string {
	return fmt.Sprintf("SELECT COUNT(1) FROM %s", t.FullName())
}

// countRowsByS3Query totals the committed lines for every load out of a
// given S3 prefix.
const countRowsByS3Query = `SELECT COALESCE(SUM(lines_scanned), 0) FROM stl_load_commits WHERE filename LIKE $1`

// stlLoadErrorsQuery pulls the most recent rejected row for one of our
// staged files. Redshift pads the char columns, callers trim them.
const stlLoadErrorsQuery = `SELECT filename, line_number, colname, err_reason, raw_line FROM stl_load_errors WHERE filename LIKE $1 ORDER BY starttime DESC LIMIT 1`
