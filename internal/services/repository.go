// Package services provides repository interfaces and SQLite implementations
// for data access. This layer bridges the raw SQLite store with the HTTP API
// and dashboard, providing a clean abstraction over persistence operations.
package services

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ListOptions controls pagination and sorting for list queries.
type ListOptions struct {
	Limit     int    // Max results per page (default 50, max 1000).
	Offset    int    // Number of results to skip.
	SortOrder string // "asc" or "desc" (default "desc").
}

// ListResult wraps a paginated result set with a total count.
type ListResult[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// TimeRange bounds a query on a timestamp column. Zero values are open ends.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Sentinel errors returned by repositories and the services built on them.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrValidation    = errors.New("validation failed")
	ErrStorage       = errors.New("storage error")
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so repositories can run
// inside a caller-owned transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Transactor runs fn inside a transaction that commits when fn returns nil.
// *store.SQLiteStore implements it.
type Transactor interface {
	Tx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// normalizeListOptions applies defaults and caps to list options.
func normalizeListOptions(opts ListOptions) ListOptions {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.SortOrder != "asc" {
		opts.SortOrder = "desc"
	}
	return opts
}

// orderDir converts normalized options to a SQL keyword.
func orderDir(opts ListOptions) string {
	if opts.SortOrder == "asc" {
		return "ASC"
	}
	return "DESC"
}

// appendTimeRange extends a WHERE clause with the bounds set in tr.
func appendTimeRange(where string, args []any, column string, tr TimeRange) (string, []any) {
	if !tr.Start.IsZero() {
		where += " AND " + column + " >= ?"
		args = append(args, tr.Start.UTC())
	}
	if !tr.End.IsZero() {
		where += " AND " + column + " <= ?"
		args = append(args, tr.End.UTC())
	}
	return where, args
}
