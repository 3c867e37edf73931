package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotConnected is returned when a write is attempted while the
	// backing store is unreachable. Such writes are dropped, not queued.
	ErrNotConnected = errors.New("store not connected")
)

// ErrorKind classifies a persistence failure; each kind drives a
// distinct recovery action.
type ErrorKind string

const (
	// KindConnectivity: store unreachable or round-trip timed out.
	// Recovery: reconnect with backoff.
	KindConnectivity ErrorKind = "connectivity"
	// KindSchemaMismatch: missing table or column.
	// Recovery: degraded mode, revalidate, report fix SQL.
	KindSchemaMismatch ErrorKind = "schema_mismatch"
	// KindDataValidation: constraint violation.
	// Recovery: drop the write, log a warning.
	KindDataValidation ErrorKind = "data_validation"
	// KindUnknown: anything else. Recovery: log only.
	KindUnknown ErrorKind = "unknown"
)

// SchemaMismatchError reports the difference between the expected schema
// and what validation found in the live database.
type SchemaMismatchError struct {
	// MissingTables lists expected tables absent from the database.
	MissingTables []string
	// MissingColumns maps each existing table to its absent columns.
	MissingColumns map[string][]string
}

func (e *SchemaMismatchError) Error() string {
	var parts []string
	if len(e.MissingTables) > 0 {
		parts = append(parts, fmt.Sprintf("missing tables: %s", strings.Join(e.MissingTables, ", ")))
	}
	for _, table := range e.sortedIssueTables() {
		parts = append(parts, fmt.Sprintf("table %q missing columns: %s",
			table, strings.Join(e.MissingColumns[table], ", ")))
	}
	if len(parts) == 0 {
		return "schema mismatch"
	}
	return "schema mismatch: " + strings.Join(parts, "; ")
}

// FixSQL generates the corrective statements for the mismatch: CREATE
// TABLE for each missing table, ADD COLUMN for each missing column, and
// an add/backfill/constrain sequence for columns that must end up
// NOT NULL on a table with existing rows.
func (e *SchemaMismatchError) FixSQL() string {
	var stmts []string

	for _, name := range e.MissingTables {
		if t, ok := ExpectedTable(name); ok {
			stmts = append(stmts, t.CreateSQL)
		}
	}

	for _, table := range e.sortedIssueTables() {
		t, ok := ExpectedTable(table)
		if !ok {
			continue
		}
		for _, colName := range e.MissingColumns[table] {
			col, ok := t.Column(colName)
			if !ok {
				col = Column{Name: colName, Type: "VARCHAR(255)"}
			}
			stmts = append(stmts, fmt.Sprintf(
				"ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s;", table, col.Name, col.Type))
			if col.NotNull {
				if col.Backfill != "" {
					stmts = append(stmts, fmt.Sprintf(
						"UPDATE %s SET %s = %s WHERE %s IS NULL;", table, col.Name, col.Backfill, col.Name))
				}
				stmts = append(stmts, fmt.Sprintf(
					"ALTER TABLE %s ALTER COLUMN %s SET NOT NULL;", table, col.Name))
			}
		}
	}

	return strings.Join(stmts, "\n")
}

func (e *SchemaMismatchError) sortedIssueTables() []string {
	tables := make([]string, 0, len(e.MissingColumns))
	for t := range e.MissingColumns {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}
