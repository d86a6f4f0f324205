// Package dbexec runs validated SQL against a SQLite file. Each call
// opens a fresh read-only connection and closes it before returning,
// so executions never pin a file handle between requests.
package dbexec

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

// Result is the full, materialized result set of one query. Types
// carries the driver-reported database type per column, which for
// SQLite is the declared column type when one exists.
type Result struct {
	Columns []string
	Types   []string
	Rows    [][]any
}

// Executor runs SQL that has already passed validation. Callers are
// responsible for validating first; Executor does not re-check.
type Executor struct{}

func New() *Executor {
	return &Executor{}
}

// Query executes sql against the database file at path on a
// short-lived read-only connection.
func (e *Executor) Query(ctx context.Context, path, sqlText string) (Result, error) {
	if _, err := os.Stat(path); err != nil {
		return Result{}, fmt.Errorf("database %s: %w", path, err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return Result{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer db.Close()

	return queryDB(ctx, db, sqlText)
}

func queryDB(ctx context.Context, db *sql.DB, sqlText string) (Result, error) {
	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, err
	}
	types := make([]string, len(columns))
	if columnTypes, err := rows.ColumnTypes(); err == nil {
		for i, ct := range columnTypes {
			types[i] = ct.DatabaseTypeName()
		}
	}

	result := Result{Columns: columns, Types: types, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return Result{}, err
		}
		for i, v := range values {
			// Drivers hand text columns back as []byte; keep the
			// wire format string-typed.
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	return result, rows.Err()
}
