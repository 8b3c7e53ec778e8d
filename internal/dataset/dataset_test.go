package dataset

import (
	"strings"
	"testing"
)

func TestNewStoreRequiresExactTables(t *testing.T) {
	tables := testTables()
	store, err := NewStore(tables, nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	names := store.Names()
	if strings.Join(names, ",") != "clients,invoices,line_items" {
		t.Fatalf("Names() = %v", names)
	}
	if _, ok := store.Table(TableInvoices); !ok {
		t.Fatal("Table(invoices) missing")
	}

	if _, err := NewStore(tables[:2], nil); err == nil || !strings.Contains(err.Error(), "line_items") {
		t.Fatalf("NewStore() missing table error = %v", err)
	}

	extra := append(testTables(), Table{Name: "payments", Columns: []Column{{Name: "id", Type: TypeBigInt}}})
	if _, err := NewStore(extra, nil); err == nil || !strings.Contains(err.Error(), "payments") {
		t.Fatalf("NewStore() extra table error = %v", err)
	}
}

func TestNewStoreRejectsRaggedRows(t *testing.T) {
	tables := testTables()
	tables[0].Rows = append(tables[0].Rows, []any{int64(9)})
	if _, err := NewStore(tables, nil); err == nil {
		t.Fatal("NewStore() expected error for ragged row")
	}
}

func TestCanonicalType(t *testing.T) {
	cases := map[string]string{
		"INTEGER":                  TypeBigInt,
		"hugeint":                  TypeBigInt,
		"DECIMAL(18,3)":            TypeDouble,
		"FLOAT":                    TypeDouble,
		"DATE":                     TypeDate,
		"TIMESTAMP WITH TIME ZONE": TypeTimestamp,
		"TIMESTAMP_NS":             TypeTimestamp,
		"BOOLEAN":                  TypeBoolean,
		"VARCHAR":                  TypeVarchar,
		"STRUCT(a INTEGER)":        TypeVarchar,
	}
	for in, want := range cases {
		if got := CanonicalType(in); got != want {
			t.Fatalf("CanonicalType(%q) = %q, want %q", in, got, want)
		}
	}
}

func testTables() []Table {
	return []Table{
		{
			Name:    TableClients,
			Columns: []Column{{Name: "client_id", Type: TypeVarchar}, {Name: "name", Type: TypeVarchar}, {Name: "country", Type: TypeVarchar}},
			Rows: [][]any{
				{"C001", "Acme Corp", "UK"},
				{"C002", "Bright Legal", "Germany"},
				{"C003", "Cedar Partners", "UK"},
			},
		},
		{
			Name:    TableInvoices,
			Columns: []Column{{Name: "invoice_id", Type: TypeVarchar}, {Name: "client_id", Type: TypeVarchar}, {Name: "status", Type: TypeVarchar}},
			Rows:    [][]any{{"I1001", "C001", "Paid"}, {"I1002", "C002", "Overdue"}},
		},
		{
			Name:    TableLineItems,
			Columns: []Column{{Name: "line_id", Type: TypeVarchar}, {Name: "invoice_id", Type: TypeVarchar}, {Name: "service_name", Type: TypeVarchar}},
			Rows:    [][]any{{"L1", "I1001", "Contract Review"}},
		},
	}
}
