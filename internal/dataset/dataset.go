package dataset

import (
	"fmt"
	"sort"
	"strings"
)

const (
	TypeBigInt    = "BIGINT"
	TypeDouble    = "DOUBLE"
	TypeVarchar   = "VARCHAR"
	TypeBoolean   = "BOOLEAN"
	TypeDate      = "DATE"
	TypeTimestamp = "TIMESTAMP"
)

const (
	TableClients   = "clients"
	TableInvoices  = "invoices"
	TableLineItems = "line_items"
)

// RequiredTables lists the tables every store must hold, in presentation
// order.
var RequiredTables = []string{TableClients, TableInvoices, TableLineItems}

type Column struct {
	Name string
	Type string
}

// Table is an immutable, fully materialized dataset. Cell values are one of
// int64, float64, string, bool, time.Time or nil.
type Table struct {
	Name    string
	Columns []Column
	Rows    [][]any
}

func (t Table) ColumnIndex(name string) int {
	for i, column := range t.Columns {
		if column.Name == name {
			return i
		}
	}
	return -1
}

func (t Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, column := range t.Columns {
		names = append(names, column.Name)
	}
	return names
}

// Store is the read-only set of canonical tables shared by every pipeline.
type Store struct {
	order  []string
	tables map[string]Table
}

func NewStore(tables []Table, required []string) (*Store, error) {
	if len(required) == 0 {
		required = RequiredTables
	}
	byName := make(map[string]Table, len(tables))
	for _, table := range tables {
		name := strings.TrimSpace(table.Name)
		if name == "" {
			return nil, fmt.Errorf("table name is required")
		}
		if _, exists := byName[name]; exists {
			return nil, fmt.Errorf("duplicate table %q", name)
		}
		if len(table.Columns) == 0 {
			return nil, fmt.Errorf("table %q has no columns", name)
		}
		for rowIndex, row := range table.Rows {
			if len(row) != len(table.Columns) {
				return nil, fmt.Errorf("table %q row %d has %d values, want %d", name, rowIndex, len(row), len(table.Columns))
			}
		}
		byName[name] = table
	}

	for _, name := range required {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("missing required table %q", name)
		}
	}
	if len(byName) != len(required) {
		extra := make([]string, 0)
		for name := range byName {
			if !contains(required, name) {
				extra = append(extra, name)
			}
		}
		sort.Strings(extra)
		return nil, fmt.Errorf("unexpected tables: %s", strings.Join(extra, ", "))
	}

	return &Store{order: append([]string(nil), required...), tables: byName}, nil
}

// Tables returns the tables in required order.
func (s *Store) Tables() []Table {
	out := make([]Table, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.tables[name])
	}
	return out
}

func (s *Store) Table(name string) (Table, bool) {
	table, ok := s.tables[name]
	return table, ok
}

func (s *Store) Names() []string {
	return append([]string(nil), s.order...)
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
