package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/bedrock-data/conveyor/lib/jitter"
)

const (
	maxAttempts     = 3
	sleepIntervalMs = 500
)

type Store interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
	Begin() (*sql.Tx, error)
}

type storeWrapper struct {
	*sql.DB
}

func (s *storeWrapper) Exec(query string, args ...any) (sql.Result, error) {
	var result sql.Result
	var err error
	for attempts := 0; attempts < maxAttempts; attempts++ {
		result, err = s.DB.Exec(query, args...)
		if err == nil {
			break
		}

		if RetryableError(err) {
			sleepDuration := jitter.Jitter(sleepIntervalMs, jitter.DefaultMaxMs, attempts)
			slog.Warn("Failed to execute the query, retrying...",
				slog.Any("err", err),
				slog.Duration("sleep", sleepDuration),
				slog.Int("attempts", attempts),
			)

			time.Sleep(sleepDuration)
			continue
		}

		break
	}
	return result, err
}

func (s *storeWrapper) Query(query string, args ...any) (*sql.Rows, error) {
	return s.DB.Query(query, args...)
}

func (s *storeWrapper) QueryRow(query string, args ...any) *sql.Row {
	return s.DB.QueryRow(query, args...)
}

func (s *storeWrapper) Begin() (*sql.Tx, error) {
	return s.DB.Begin()
}

func Open(driverName, dsn string) (Store, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to start a SQL client for driver %q: %w", driverName, err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to validate the DB connection: %w", err)
	}

	return &storeWrapper{DB: db}, nil
}

// FromDB wraps an existing connection, mostly so tests can hand in sqlmock.
func FromDB(db *sql.DB) Store {
	return &storeWrapper{DB: db}
}
