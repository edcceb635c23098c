package redshift

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bedrock-data/conveyor/lib/schema"
)

const tableColumnsQuery = `SELECT c.column_name, c.ordinal_position, c.is_nullable, c.data_type, c.udt_name, COALESCE(c.character_maximum_length, 0), COALESCE(c.numeric_precision, 0), COALESCE(c.numeric_scale, 0), COALESCE(d.distkey, false), COALESCE(d.sortkey, 0) FROM information_schema.columns c LEFT JOIN pg_table_def d ON d.tablename = c.table_name AND d."column" = c.column_name WHERE c.table_name = $1 ORDER BY c.ordinal_position`

const primaryKeyQuery = `SELECT con.conkey FROM pg_constraint con JOIN pg_class cl ON cl.oid = con.conrelid WHERE con.contype = 'p' AND cl.relname = $1`

const foreignKeysQuery = `SELECT att.attname, ref.relname, refatt.attname FROM pg_constraint con JOIN pg_class cl ON cl.oid = con.conrelid JOIN pg_class ref ON ref.oid = con.confrelid JOIN pg_attribute att ON att.attrelid = con.conrelid AND att.attnum = con.conkey[1] JOIN pg_attribute refatt ON refatt.attrelid = con.confrelid AND refatt.attnum = con.confkey[1] WHERE con.contype = 'f' AND cl.relname = $1`

// TableSchema reflects a destination table out of the warehouse catalog.
// Results are cached per table name for the lifetime of the store.
func (s *Store) TableSchema(name string) (*schema.Table, error) {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()

	if t, ok := s.schemaCache[name]; ok {
		return t, nil
	}

	cols, err := s.catalogColumns(name)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, SchemaError{Table: name, Reason: "not found in the warehouse catalog"}
	}

	pkOrdinals, err := s.primaryKeyOrdinals(name)
	if err != nil {
		return nil, err
	}

	fks, err := s.foreignKeys(name)
	if err != nil {
		return nil, err
	}

	t := schema.FromCatalog(name, cols, pkOrdinals, fks)
	s.schemaCache[name] = t
	return t, nil
}

// InvalidateSchema drops a cached reflection, e.g. after DDL.
func (s *Store) InvalidateSchema(name string) {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	delete(s.schemaCache, name)
}

func (s *Store) catalogColumns(name string) ([]schema.CatalogColumn, error) {
	rows, err := s.store.Query(tableColumnsQuery, name)
	if err != nil {
		return nil, fmt.Errorf("failed to reflect columns for %q: %w", name, err)
	}
	defer rows.Close()

	var cols []schema.CatalogColumn
	for rows.Next() {
		var col schema.CatalogColumn
		var nullable string
		if err = rows.Scan(&col.Name, &col.OrdinalPos, &nullable, &col.DataType, &col.UDTName,
			&col.CharMaxLength, &col.NumericPrecision, &col.NumericScale, &col.DistKey, &col.SortKey); err != nil {
			return nil, fmt.Errorf("failed to scan a catalog column for %q: %w", name, err)
		}

		col.Nullable = nullable == "YES"
		cols = append(cols, col)
	}

	return cols, rows.Err()
}

func (s *Store) primaryKeyOrdinals(name string) ([]int, error) {
	var conkey string
	err := s.store.QueryRow(primaryKeyQuery, name).Scan(&conkey)
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to reflect the primary key for %q: %w", name, err)
	}

	return parseIntVector(conkey)
}

func (s *Store) foreignKeys(name string) ([]schema.CatalogForeignKey, error) {
	rows, err := s.store.Query(foreignKeysQuery, name)
	if err != nil {
		return nil, fmt.Errorf("failed to reflect foreign keys for %q: %w", name, err)
	}
	defer rows.Close()

	var fks []schema.CatalogForeignKey
	for rows.Next() {
		var fk schema.CatalogForeignKey
		if err = rows.Scan(&fk.Column, &fk.RefTable, &fk.RefColumn); err != nil {
			return nil, fmt.Errorf("failed to scan a foreign key for %q: %w", name, err)
		}
		fks = append(fks, fk)
	}

	return fks, rows.Err()
}

// parseIntVector parses the textual form of pg_constraint.conkey, which comes
// back either as an array literal "{1,2}" or an int2vector "1 2".
func parseIntVector(value string) ([]int, error) {
	value = strings.Trim(strings.TrimSpace(value), "{}")
	if value == "" {
		return nil, nil
	}

	fields := strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' })
	ordinals := make([]int, len(fields))
	for i, field := range fields {
		ordinal, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("unexpected conkey element %q: %w", field, err)
		}
		ordinals[i] = ordinal
	}
	return ordinals, nil
}
