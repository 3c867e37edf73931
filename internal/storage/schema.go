package storage

import (
	"fmt"
	"strings"
)

// Column describes one expected column of a persisted table.
type Column struct {
	Name string
	// Type is the DDL type used when generating corrective SQL.
	Type string
	// Optional columns may be omitted from writes when the live table
	// does not have them; required columns make a write impossible.
	Optional bool
	// NotNull columns are promoted with an add/backfill/constrain
	// sequence in corrective SQL, since a bare ADD COLUMN NOT NULL
	// fails on a table with existing rows.
	NotNull bool
	// Backfill is the expression used to populate a NotNull column on
	// existing rows before the constraint is applied.
	Backfill string
}

// Table is the schema descriptor for one persisted table: an ordered
// column list plus the canonical CREATE statement. Statements are built
// from these descriptors with positional parameters, never concatenated
// values.
type Table struct {
	Name      string
	Columns   []Column
	CreateSQL string
	IndexSQL  []string
}

// Column returns the descriptor for name, if present.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the ordered expected column names.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// TablePositions and TableSignals are the persisted table names.
const (
	TablePositions = "positions"
	TableSignals   = "signals"
)

// ExpectedSchema returns descriptors for every table the engine writes.
func ExpectedSchema() []Table {
	return []Table{
		{
			Name: TablePositions,
			Columns: []Column{
				{Name: "id", Type: "SERIAL"},
				{Name: "symbol", Type: "VARCHAR(20)"},
				{Name: "quantity", Type: "DECIMAL(18,8)"},
				{Name: "entry_price", Type: "DECIMAL(18,8)"},
				{Name: "current_price", Type: "DECIMAL(18,8)"},
				{Name: "unrealized_pl", Type: "DECIMAL(18,8)"},
				{Name: "realized_pl", Type: "DECIMAL(18,8)"},
				{Name: "strategy", Type: "VARCHAR(100)"},
				{Name: "status", Type: "VARCHAR(20)"},
				{Name: "order_id", Type: "VARCHAR(100)", Optional: true, NotNull: true,
					Backfill: "'LEGACY_' || id::text"},
				{Name: "closed_at", Type: "TIMESTAMP", Optional: true},
			},
			CreateSQL: `CREATE TABLE IF NOT EXISTS positions (
    id SERIAL PRIMARY KEY,
    symbol VARCHAR(20) NOT NULL,
    quantity DECIMAL(18,8) NOT NULL,
    entry_price DECIMAL(18,8) NOT NULL,
    current_price DECIMAL(18,8) NOT NULL,
    unrealized_pl DECIMAL(18,8) DEFAULT 0,
    realized_pl DECIMAL(18,8) DEFAULT 0,
    strategy VARCHAR(100) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'open',
    order_id VARCHAR(100) NOT NULL,
    closed_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`,
			IndexSQL: []string{
				"CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol);",
				"CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);",
				"CREATE INDEX IF NOT EXISTS idx_positions_strategy ON positions(strategy);",
			},
		},
		{
			Name: TableSignals,
			Columns: []Column{
				{Name: "id", Type: "SERIAL"},
				{Name: "strategy", Type: "VARCHAR(100)"},
				{Name: "symbol", Type: "VARCHAR(20)"},
				{Name: "action", Type: "VARCHAR(20)"},
				{Name: "confidence", Type: "DECIMAL(5,4)"},
				{Name: "expected_profit", Type: "DECIMAL(18,8)", Optional: true},
				{Name: "metadata", Type: "JSONB", Optional: true},
				{Name: "created_at", Type: "TIMESTAMP"},
			},
			CreateSQL: `CREATE TABLE IF NOT EXISTS signals (
    id SERIAL PRIMARY KEY,
    strategy VARCHAR(100) NOT NULL,
    symbol VARCHAR(20) NOT NULL,
    action VARCHAR(20) NOT NULL,
    confidence DECIMAL(5,4) NOT NULL,
    expected_profit DECIMAL(18,8),
    metadata JSONB,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`,
			IndexSQL: []string{
				"CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol);",
				"CREATE INDEX IF NOT EXISTS idx_signals_strategy ON signals(strategy);",
				"CREATE INDEX IF NOT EXISTS idx_signals_created_at ON signals(created_at);",
			},
		},
	}
}

// ExpectedTable returns the descriptor for name.
func ExpectedTable(name string) (Table, bool) {
	for _, t := range ExpectedSchema() {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// SchemaSQL returns the full DDL for the expected schema, tables and
// indexes, suitable for bootstrapping an empty database.
func SchemaSQL() string {
	var b strings.Builder
	b.WriteString("-- daytrade-core database schema\n")
	for _, t := range ExpectedSchema() {
		fmt.Fprintf(&b, "\n%s\n", t.CreateSQL)
		for _, idx := range t.IndexSQL {
			fmt.Fprintf(&b, "%s\n", idx)
		}
	}
	return b.String()
}
