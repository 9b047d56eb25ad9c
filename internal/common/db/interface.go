package db

import "context"

// Database defines the operations the submission store needs from a SQL database.
// The engine only ever issues single-statement reads and conditional writes, so the
// surface is deliberately small: no transactions, no prepared statements.
type Database interface {
	Querier

	// Ping verifies the database connection is alive
	Ping(ctx context.Context) error

	// Close closes the database connection
	Close() error
}

// Querier abstracts statement execution.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
}

// Rows is a cursor over a multi-row result set.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Row is a single-row result.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result reports the outcome of a write statement.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}
