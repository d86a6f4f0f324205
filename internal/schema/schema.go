// Package schema extracts and caches table descriptions from SQLite
// database files. The rendered form feeds the conversion prompt, and
// the fingerprint keeps the cache honest when the file changes on
// disk between requests.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrSchemaUnavailable covers a database file that is missing,
// unreadable, or not a SQLite database.
var ErrSchemaUnavailable = errors.New("schema unavailable")

type Column struct {
	Name         string `json:"name"`
	DeclaredType string `json:"declared_type"`
	NotNull      bool   `json:"not_null"`
	PrimaryKey   bool   `json:"primary_key"`
}

type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Descriptor is the schema of one database file at one point in
// time. Fingerprint is a content hash of the file, so two descriptors
// with the same fingerprint describe byte-identical databases.
type Descriptor struct {
	Tables      []Table `json:"tables"`
	Fingerprint string  `json:"fingerprint"`
}

// Render produces the canonical textual form embedded in prompts:
// one line per table, `name(col TYPE, col TYPE, ...)`, in the order
// the tables were created.
func (d Descriptor) Render() string {
	var b strings.Builder
	for i, table := range d.Tables {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(table.Name)
		b.WriteByte('(')
		for j, col := range table.Columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(col.Name)
			if col.DeclaredType != "" {
				b.WriteByte(' ')
				b.WriteString(col.DeclaredType)
			}
		}
		b.WriteByte(')')
	}
	return b.String()
}

// TableNames returns the table names in schema order.
func (d Descriptor) TableNames() []string {
	names := make([]string, len(d.Tables))
	for i, table := range d.Tables {
		names[i] = table.Name
	}
	return names
}

// Table looks up a table by name. The second return is false when the
// descriptor has no such table.
func (d Descriptor) Table(name string) (Table, bool) {
	for _, table := range d.Tables {
		if table.Name == name {
			return table, true
		}
	}
	return Table{}, false
}

// Fingerprint hashes the database file contents. Any byte-level
// change to the file, including rows added by another process,
// produces a different fingerprint.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSchemaUnavailable, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrSchemaUnavailable, path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
