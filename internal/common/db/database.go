package db

import "context"

// Database is the narrow SQL surface used by repositories.
type Database interface {
	Querier

	// Ping verifies a connection to the database is still alive
	Ping(ctx context.Context) error

	// Close closes the database connection
	Close() error
}

// Querier abstracts statement execution.
type Querier interface {
	QueryRow(ctx context.Context, query string, args ...any) Row
	Exec(ctx context.Context, query string, args ...any) (Result, error)
}

// Row is a single-row query result.
type Row interface {
	Scan(dest ...any) error
}

// Result summarizes an executed statement.
type Result interface {
	RowsAffected() (int64, error)
}
