package schema

import "sort"

// CatalogColumn is one row of the warehouse catalog describing a column, as
// read from information_schema.columns joined against pg_table_def.
type CatalogColumn struct {
	Name             string
	OrdinalPos       int
	Nullable         bool
	DataType         string
	UDTName          string
	CharMaxLength    int
	NumericPrecision int
	NumericScale     int
	DistKey          bool
	SortKey          int
}

// CatalogForeignKey is one reflected foreign-key edge.
type CatalogForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

// FromCatalog builds a Table from reflected catalog rows. Columns are sorted
// into ordinal order before being stored; downstream CSV serialization
// depends on that order. pkOrdinals are the ordinal positions named by the
// table's primary-key constraint.
func FromCatalog(tableName string, cols []CatalogColumn, pkOrdinals []int, fks []CatalogForeignKey) *Table {
	t := NewTable(tableName)

	sorted := make([]CatalogColumn, len(cols))
	copy(sorted, cols)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OrdinalPos < sorted[j].OrdinalPos })

	pkSet := make(map[int]bool, len(pkOrdinals))
	for _, o := range pkOrdinals {
		pkSet[o] = true
	}

	var pks []string
	for _, col := range sorted {
		typ, width, precision := mapCatalogType(col)
		t.AddColumn(col.Name, typ)
		last := &t.columns[len(t.columns)-1]
		last.Width = width
		last.Precision = precision
		last.Nullable = col.Nullable
		last.OrdinalPos = col.OrdinalPos

		if col.DistKey {
			t.SetDistKey(col.Name)
		}
		if col.SortKey != 0 {
			t.AddSortKey(col.Name)
		}
		if pkSet[col.OrdinalPos] {
			pks = append(pks, col.Name)
		}
	}

	if len(pks) > 0 {
		t.AddPrimaryKey(pks...)
	}
	for _, fk := range fks {
		t.AddForeignKey(fk.Column, fk.RefTable, fk.RefColumn)
	}
	return t
}

func mapCatalogType(col CatalogColumn) (ColumnType, int, int) {
	dataType := col.DataType
	if col.UDTName == "varchar" {
		dataType = "character varying"
	}

	switch dataType {
	case "smallint":
		return SmallInt, 0, 0
	case "integer":
		return Int, 0, 0
	case "bigint":
		return BigInt, 0, 0
	case "double precision", "real", "float4", "float8":
		return Float, 0, 0
	case "boolean":
		return Boolean, 0, 0
	case "timestamp without time zone", "timestamp with time zone", "timestamp", "timestamptz":
		return Timestamp, 0, 0
	case "date":
		return Date, 0, 0
	case "text":
		return Text, 0, 0
	case "character varying":
		return Varchar, col.CharMaxLength, 0
	case "numeric":
		return Numeric, col.NumericPrecision, col.NumericScale
	case "":
		return String, 0, 0
	default:
		// Tolerate catalog drift: unknown types pass through as-is rather
		// than failing reflection.
		return ColumnType(dataType), 0, 0
	}
}
