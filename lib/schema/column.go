package schema

import "fmt"

// ColumnType is the internal type enum. Catalog types we do not recognize
// pass through as opaque ColumnType values so reflection tolerates drift.
type ColumnType string

const (
	String    ColumnType = "string"
	Int       ColumnType = "int"
	BigInt    ColumnType = "bigint"
	SmallInt  ColumnType = "smallint"
	Float     ColumnType = "float"
	Boolean   ColumnType = "boolean"
	Date      ColumnType = "date"
	Timestamp ColumnType = "timestamp"
	Numeric   ColumnType = "numeric"
	Text      ColumnType = "text"
	Varchar   ColumnType = "varchar"
)

type ForeignKey struct {
	Table  string
	Column string
}

// Column is a single table column. Immutable once the table schema has been
// resolved; OrdinalPos drives CSV serialization order.
type Column struct {
	Name       string
	Type       ColumnType
	Width      int // numeric precision, varchar length
	Precision  int // numeric scale
	Nullable   bool
	OrdinalPos int
	FK         *ForeignKey
}

// SQLType renders the column's warehouse type. Unrecognized types flow
// through verbatim, which keeps reflected columns usable even when we do not
// know what they are.
func (c Column) SQLType() string {
	switch c.Type {
	case String:
		return "varchar(255)"
	case Varchar:
		if c.Width > 0 {
			return fmt.Sprintf("varchar(%d)", c.Width)
		}
		return "varchar(255)"
	case Numeric:
		if c.Width > 0 || c.Precision > 0 {
			return fmt.Sprintf("numeric(%d, %d)", c.Width, c.Precision)
		}
		return "numeric"
	case Float:
		return "float8"
	default:
		return string(c.Type)
	}
}
