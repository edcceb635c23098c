package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTable_ColumnOrder(t *testing.T) {
	table := NewTable("orders").
		Int("id").
		Varchar("name", 20).
		Timestamp("created_at").
		AddPrimaryKey("id")

	assert.Equal(t, []string{"id", "name", "created_at"}, table.ColumnNames())
	assert.Equal(t, []string{"id"}, table.PrimaryKey)

	id, ok := table.Column("id")
	assert.True(t, ok)
	assert.False(t, id.Nullable)
	assert.Equal(t, 1, id.OrdinalPos)
}

func TestTable_CreateTableSQL(t *testing.T) {
	table := NewTable("orgs").
		Int("id").
		Varchar("name", 255).
		Numeric("balance", 5, 2).
		Int("fk_id").
		AddForeignKey("fk_id", "other_table", "id").
		AddPrimaryKey("id").
		SetDistKey("id").
		AddSortKey("name")
	table.Backup = false
	table.DistStyle = "All"

	sql := table.CreateTableSQL()
	assert.Equal(t, `CREATE TABLE IF NOT EXISTS orgs( "id" int NOT NULL, "name" varchar(255), "balance" numeric(5, 2), "fk_id" int, PRIMARY KEY(id), FOREIGN KEY(fk_id) REFERENCES other_table(id) ) BACKUP NO DISTKEY(id) SORTKEY(name) DISTSTYLE All`, sql)
}

func TestTable_CreateTableSQL_TempLike(t *testing.T) {
	table := NewTable("orders_stg_abc123")
	table.Temp = true
	table.Like = "orders"

	assert.Equal(t, "CREATE TEMPORARY TABLE IF NOT EXISTS orders_stg_abc123 ( LIKE orders )", table.CreateTableSQL())
}

func TestTable_CreateTableSQL_Identity(t *testing.T) {
	table := NewTable("job_runs").
		Int("id").
		Text("job_id").
		SetIdentity("id", 1, 1)

	assert.Contains(t, table.CreateTableSQL(), `"id" int IDENTITY(1, 1) NOT NULL`)
	assert.True(t, table.IsIdentity("id"))
	assert.False(t, table.IsIdentity("job_id"))
}

func TestFromCatalog(t *testing.T) {
	cols := []CatalogColumn{
		// Deliberately out of ordinal order; reflection must sort.
		{Name: "test", OrdinalPos: 4, Nullable: true, DataType: "character varying", CharMaxLength: 22},
		{Name: "day", OrdinalPos: 1, Nullable: true, DataType: "timestamp without time zone"},
		{Name: "id", OrdinalPos: 3, Nullable: false, DataType: "integer", DistKey: true, SortKey: 1},
		{Name: "day2", OrdinalPos: 2, Nullable: true, DataType: "timestamp with time zone"},
		{Name: "num", OrdinalPos: 5, Nullable: true, DataType: "numeric", NumericPrecision: 5, NumericScale: 2},
		{Name: "f1", OrdinalPos: 6, Nullable: true, DataType: "double precision"},
		{Name: "large_int", OrdinalPos: 7, Nullable: true, DataType: "bigint"},
		{Name: "small_int", OrdinalPos: 8, Nullable: true, DataType: "smallint"},
		{Name: "mystery", OrdinalPos: 9, Nullable: true, DataType: "super"},
	}
	fks := []CatalogForeignKey{{Column: "id", RefTable: "other_table", RefColumn: "id"}}

	table := FromCatalog("test_table_1", cols, []int{3}, fks)

	assert.Equal(t, []string{"day", "day2", "id", "test", "num", "f1", "large_int", "small_int", "mystery"}, table.ColumnNames())
	assert.Equal(t, []string{"id"}, table.PrimaryKey)
	assert.Equal(t, "id", table.DistKey)
	assert.Equal(t, []string{"id"}, table.SortKeys)
	assert.Equal(t, []string{"id"}, table.ForeignKeys())

	test, _ := table.Column("test")
	assert.Equal(t, Varchar, test.Type)
	assert.Equal(t, 22, test.Width)

	num, _ := table.Column("num")
	assert.Equal(t, Numeric, num.Type)
	assert.Equal(t, 5, num.Width)
	assert.Equal(t, 2, num.Precision)

	// Unknown catalog types pass through untouched.
	mystery, _ := table.Column("mystery")
	assert.Equal(t, ColumnType("super"), mystery.Type)
	assert.Equal(t, "super", mystery.SQLType())
}
