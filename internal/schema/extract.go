package schema

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

// readOnlyDSN opens the file without taking a write lock and with a
// short busy timeout so a concurrent writer does not wedge extraction.
func readOnlyDSN(path string) string {
	return fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path)
}

// Extract reads the table layout of the SQLite database at path. The
// connection is opened for this call only and closed before
// returning. Internal sqlite_* bookkeeping tables are skipped; table
// and column order follow the schema's creation order.
func Extract(ctx context.Context, path string) (Descriptor, error) {
	if _, err := os.Stat(path); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrSchemaUnavailable, err)
	}

	fingerprint, err := Fingerprint(path)
	if err != nil {
		return Descriptor{}, err
	}

	db, err := sql.Open("sqlite", readOnlyDSN(path))
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: open %s: %v", ErrSchemaUnavailable, path, err)
	}
	defer db.Close()

	tables, err := listTables(ctx, db)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrSchemaUnavailable, err)
	}

	descriptor := Descriptor{Fingerprint: fingerprint}
	for _, name := range tables {
		columns, err := tableColumns(ctx, db, name)
		if err != nil {
			return Descriptor{}, fmt.Errorf("%w: describe %s: %v", ErrSchemaUnavailable, name, err)
		}
		descriptor.Tables = append(descriptor.Tables, Table{Name: name, Columns: columns})
	}
	return descriptor, nil
}

func listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func tableColumns(ctx context.Context, db *sql.DB, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var (
			cid          int
			name         string
			declaredType string
			notNull      int
			defaultValue sql.NullString
			pk           int
		)
		if err := rows.Scan(&cid, &name, &declaredType, &notNull, &defaultValue, &pk); err != nil {
			return nil, err
		}
		columns = append(columns, Column{
			Name:         name,
			DeclaredType: declaredType,
			NotNull:      notNull != 0,
			PrimaryKey:   pk != 0,
		})
	}
	return columns, rows.Err()
}
