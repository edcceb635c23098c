package schema

import (
	"fmt"
	"strings"
)

type Identity struct {
	Column string
	Seed   int
	Step   int
}

// Table is the in-memory model of a destination table: ordered columns,
// primary key and the Redshift-specific layout knobs. Column order equals
// ordinal order and must be preserved, it is what staging CSVs serialize by.
type Table struct {
	Name       string
	Schema     string
	PrimaryKey []string
	DistKey    string
	SortKeys   []string
	DistStyle  string
	Like       string
	Temp       bool
	Backup     bool

	columns  []Column
	identity *Identity
}

func NewTable(name string) *Table {
	return &Table{Name: name, Backup: true}
}

func (t *Table) AddColumn(name string, typ ColumnType) *Table {
	if typ == "" {
		panic(fmt.Sprintf("invalid empty type for column %q", name))
	}
	t.columns = append(t.columns, Column{
		Name:       name,
		Type:       typ,
		Nullable:   true,
		OrdinalPos: len(t.columns) + 1,
	})
	return t
}

func (t *Table) Int(name string) *Table       { return t.AddColumn(name, Int) }
func (t *Table) BigInt(name string) *Table    { return t.AddColumn(name, BigInt) }
func (t *Table) SmallInt(name string) *Table  { return t.AddColumn(name, SmallInt) }
func (t *Table) Float(name string) *Table     { return t.AddColumn(name, Float) }
func (t *Table) Boolean(name string) *Table   { return t.AddColumn(name, Boolean) }
func (t *Table) Date(name string) *Table      { return t.AddColumn(name, Date) }
func (t *Table) Timestamp(name string) *Table { return t.AddColumn(name, Timestamp) }
func (t *Table) Text(name string) *Table      { return t.AddColumn(name, Text) }

func (t *Table) Varchar(name string, length int) *Table {
	t.AddColumn(name, Varchar)
	t.columns[len(t.columns)-1].Width = length
	return t
}

func (t *Table) Numeric(name string, width, precision int) *Table {
	t.AddColumn(name, Numeric)
	t.columns[len(t.columns)-1].Width = width
	t.columns[len(t.columns)-1].Precision = precision
	return t
}

// AddPrimaryKey declares the (single, possibly composite) primary key.
// Key columns become NOT NULL.
func (t *Table) AddPrimaryKey(cols ...string) *Table {
	t.PrimaryKey = append(t.PrimaryKey, cols...)
	for _, pk := range cols {
		if i := t.columnIndex(pk); i >= 0 {
			t.columns[i].Nullable = false
		}
	}
	return t
}

func (t *Table) AddForeignKey(col, refTable, refColumn string) *Table {
	if i := t.columnIndex(col); i >= 0 {
		t.columns[i].FK = &ForeignKey{Table: refTable, Column: refColumn}
	}
	return t
}

func (t *Table) SetDistKey(col string) *Table {
	t.DistKey = col
	return t
}

func (t *Table) AddSortKey(col string) *Table {
	t.SortKeys = append(t.SortKeys, col)
	return t
}

// SetIdentity marks a column as auto-generated. Identity columns are skipped
// during staging CSV serialization.
func (t *Table) SetIdentity(col string, seed, step int) *Table {
	t.identity = &Identity{Column: col, Seed: seed, Step: step}
	if i := t.columnIndex(col); i >= 0 {
		t.columns[i].Nullable = false
	}
	return t
}

func (t *Table) Identity() *Identity {
	return t.identity
}

func (t *Table) IsIdentity(col string) bool {
	return t.identity != nil && t.identity.Column == col
}

// Columns returns the columns in ordinal order.
func (t *Table) Columns() []Column {
	return t.columns
}

func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

func (t *Table) Column(name string) (Column, bool) {
	if i := t.columnIndex(name); i >= 0 {
		return t.columns[i], true
	}
	return Column{}, false
}

func (t *Table) columnIndex(name string) int {
	for i, c := range t.columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// FullName qualifies the table with its schema when one is set.
func (t *Table) FullName() string {
	if t.Schema != "" {
		return t.Schema + "." + t.Name
	}
	return t.Name
}

// ForeignKeys returns the names of columns that carry an FK reference.
func (t *Table) ForeignKeys() []string {
	var fks []string
	for _, c := range t.columns {
		if c.FK != nil {
			fks = append(fks, c.Name)
		}
	}
	return fks
}

// CreateTableSQL renders the CREATE TABLE statement. This is the only place
// a schema becomes DDL text.
func (t *Table) CreateTableSQL() string {
	var sb strings.Builder
	sb.WriteString("CREATE")
	if t.Temp {
		sb.WriteString(" TEMPORARY")
	}
	sb.WriteString(" TABLE IF NOT EXISTS ")
	sb.WriteString(t.FullName())

	if t.Like != "" {
		sb.WriteString(fmt.Sprintf(" ( LIKE %s )", t.Like))
	} else if len(t.columns) > 0 {
		var decls []string
		for _, c := range t.columns {
			decl := fmt.Sprintf("%q %s", c.Name, c.SQLType())
			if t.IsIdentity(c.Name) {
				decl += fmt.Sprintf(" IDENTITY(%d, %d)", t.identity.Seed, t.identity.Step)
			}
			if !c.Nullable {
				decl += " NOT NULL"
			}
			decls = append(decls, decl)
		}
		if len(t.PrimaryKey) > 0 {
			decls = append(decls, fmt.Sprintf("PRIMARY KEY(%s)", strings.Join(t.PrimaryKey, ",")))
		}
		for _, c := range t.columns {
			if c.FK != nil {
				decls = append(decls, fmt.Sprintf("FOREIGN KEY(%s) REFERENCES %s(%s)", c.Name, c.FK.Table, c.FK.Column))
			}
		}
		sb.WriteString(fmt.Sprintf("( %s )", strings.Join(decls, ", ")))
	}

	if !t.Backup {
		sb.WriteString(" BACKUP NO")
	}
	if t.DistKey != "" {
		sb.WriteString(fmt.Sprintf(" DISTKEY(%s)", t.DistKey))
	}
	if len(t.SortKeys) > 0 {
		sb.WriteString(fmt.Sprintf(" SORTKEY(%s)", strings.Join(t.SortKeys, ",")))
	}
	if t.DistStyle != "" {
		sb.WriteString(fmt.Sprintf(" DISTSTYLE %s", t.DistStyle))
	}
	return sb.String()
}

func (t *Table) DropTableSQL() string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", t.FullName())
}
