package redshift

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/bedrock-data/conveyor/lib/config"
	"github.com/bedrock-data/conveyor/lib/db"
	"github.com/bedrock-data/conveyor/lib/schema"
)

const (
	defaultDelimiter   = '|'
	defaultChunkRows   = 100_000
	stagingNameInfix   = "_staging_"
	rejectedFileSuffix = ".rejected.csv"
)

// BlobStore is the slice of object storage the warehouse loads from.
type BlobStore interface {
	UploadLocalFile(ctx context.Context, bucket, prefix, fp string) (string, error)
	Delete(ctx context.Context, bucket, key string) error
}

// RowCountPolicy folds per-table staged row counts into the figure reported
// for the whole batch.
type RowCountPolicy func(counts []int) int

// MaxRowCount reports the largest per-table count. With split rows every
// destination table sees the same source rows, so the max is the number of
// source rows that made it through.
func MaxRowCount(counts []int) int {
	var result int
	for _, count := range counts {
		if count > result {
			result = count
		}
	}
	return result
}

type Store struct {
	store db.Store
	cfg   config.Redshift
	blob  BlobStore

	schemaMu    sync.Mutex
	schemaCache map[string]*schema.Table

	rowCountPolicy RowCountPolicy
	uploadRetries  int
	chunkRows      int
	delimiter      rune
	tmpDir         string
	randomSuffix   func() string
}

// LoadStore connects to the warehouse over the Postgres wire protocol.
func LoadStore(cfg config.Redshift, blob BlobStore) (*Store, error) {
	store, err := db.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redshift: %w", err)
	}

	return NewStore(store, cfg, blob), nil
}

// NewStore wraps an existing connection, so tests can hand in sqlmock.
func NewStore(store db.Store, cfg config.Redshift, blob BlobStore) *Store {
	uploadRetries := cfg.UploadRetries
	if uploadRetries <= 0 {
		uploadRetries = 10
	}

	return &Store{
		store:          store,
		cfg:            cfg,
		blob:           blob,
		schemaCache:    make(map[string]*schema.Table),
		rowCountPolicy: MaxRowCount,
		uploadRetries:  uploadRetries,
		chunkRows:      defaultChunkRows,
		delimiter:      defaultDelimiter,
		tmpDir:         os.TempDir(),
		randomSuffix: func() string {
			return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
		},
	}
}

// SetRowCountPolicy replaces the default max-across-tables reporting.
func (s *Store) SetRowCountPolicy(policy RowCountPolicy) {
	s.rowCountPolicy = policy
}

func (s *Store) Execute(query string, args ...any) (sql.Result, error) {
	return s.store.Exec(query, args...)
}

func (s *Store) Query(query string, args ...any) (*sql.Rows, error) {
	return s.store.Query(query, args...)
}

func (s *Store) CreateTable(t *schema.Table) error {
	if _, err := s.store.Exec(t.CreateTableSQL()); err != nil {
		return fmt.Errorf("failed to create table %q: %w", t.Name, err)
	}
	return nil
}

func (s *Store) DropTable(t *schema.Table) error {
	if _, err := s.store.Exec(t.DropTableSQL()); err != nil {
		return fmt.Errorf("failed to drop table %q: %w", t.Name, err)
	}

	s.InvalidateSchema(t.Name)
	return nil
}

// stagingTableFor describes the session-scoped staging table a batch loads
// into before merging. The actual CREATE runs inside the merge transaction.
// The target's identity column is left out of the model, the staged CSV
// never carries a value for it.
func (s *Store) stagingTableFor(target *schema.Table) *schema.Table {
	staging := schema.NewTable(target.Name + stagingNameInfix + s.randomSuffix())
	staging.Temp = true
	staging.Like = target.FullName()

	for _, col := range target.Columns() {
		if target.IsIdentity(col.Name) {
			continue
		}
		staging.AddColumn(col.Name, col.Type)
	}
	return staging
}

// CountRows returns the number of rows currently in a destination table.
func (s *Store) CountRows(t *schema.Table) (int64, error) {
	var count int64
	if err := s.store.QueryRow(countRowsQuery(t)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows in %q: %w", t.Name, err)
	}
	return count, nil
}

// CountRowsByS3 reports how many lines the warehouse committed out of the
// files under an S3 prefix, per stl_load_commits.
func (s *Store) CountRowsByS3(s3URI string) (int64, error) {
	var count int64
	if err := s.store.QueryRow(countRowsByS3Query, s3URI+"%").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count committed rows under %s: %w", s3URI, err)
	}
	return count, nil
}

// UnloadToS3 exports the result of a query to gzipped delimited files under
// the prefix and returns the destination URI.
func (s *Store) UnloadToS3(query, prefix string) (string, error) {
	s3URI := fmt.Sprintf("s3://%s/%s/", s.cfg.Bucket, prefix)
	if _, err := s.store.Exec(unloadQuery(query, s3URI, s.cfg, s.delimiter)); err != nil {
		return "", fmt.Errorf("failed to unload to %s: %w", s3URI, err)
	}
	return s3URI, nil
}

// CopyFromS3 loads previously staged or unloaded files straight into a table,
// without the merge or recovery machinery.
func (s *Store) CopyFromS3(t *schema.Table, s3URI string) error {
	if _, err := s.store.Exec(copyQuery(t, s3URI, s.cfg, s.delimiter)); err != nil {
		return fmt.Errorf("failed to copy %s into %q: %w", s3URI, t.Name, err)
	}
	return nil
}
