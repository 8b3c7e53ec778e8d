package dataset

import (
	"fmt"
	"strings"
)

// distinctColumns names, per table, the column whose distinct values are
// listed in the schema description.
var distinctColumns = map[string]struct {
	column string
	label  string
}{
	TableClients:   {column: "country", label: "Unique countries"},
	TableInvoices:  {column: "status", label: "Unique statuses"},
	TableLineItems: {column: "service_name", label: "Unique services"},
}

// DescribeSchema builds the text the code model sees: every table with its
// row count, typed columns and leading sample rows, then relationships,
// helper macros and computation rules. It is built once per process.
func DescribeSchema(store *Store, sampleRows int) string {
	if sampleRows <= 0 {
		sampleRows = 3
	}
	lines := []string{"=== DATABASE SCHEMA ===", ""}

	for _, table := range store.Tables() {
		lines = append(lines, fmt.Sprintf("Table: %s", table.Name))
		lines = append(lines, fmt.Sprintf("  Rows: %d", len(table.Rows)))
		lines = append(lines, "  Columns:")
		for _, column := range table.Columns {
			lines = append(lines, fmt.Sprintf("    - %s (%s)", column.Name, column.Type))
		}
		lines = append(lines, "  Sample rows:")
		sample := table.Rows
		if len(sample) > sampleRows {
			sample = sample[:sampleRows]
		}
		lines = append(lines, FormatTable(table.Columns, sample))
		if distinct, ok := distinctColumns[table.Name]; ok {
			if values := distinctValues(table, distinct.column); len(values) > 0 {
				lines = append(lines, fmt.Sprintf("  %s: %s", distinct.label, strings.Join(values, ", ")))
			}
		}
		lines = append(lines, "")
	}

	lines = append(lines,
		"=== RELATIONSHIPS ===",
		"- invoices.client_id -> clients.client_id",
		"- line_items.invoice_id -> invoices.invoice_id",
		"",
		"=== HELPER MACROS ===",
		"- line_total(quantity, unit_price, tax_rate) = quantity * unit_price * (1 + tax_rate)",
		"- to_usd(amount, fx_rate_to_usd) = amount * fx_rate_to_usd",
		"",
		"=== COMPUTATION NOTES ===",
		"- Line total (including tax) = quantity * unit_price * (1 + tax_rate)",
		"- To convert to USD: multiply local-currency amount by fx_rate_to_usd",
		"- 'Total billed amount' = sum of line totals across all invoices for a client.",
		"- Always include tax unless the question says otherwise.",
		"- Compare dates with DATE literals, e.g. invoice_date >= DATE '2024-03-01'.",
		"- For geographic/regional questions (e.g. 'European clients'), use your general knowledge to classify the countries listed above.",
	)
	return strings.Join(lines, "\n")
}

func distinctValues(table Table, column string) []string {
	index := table.ColumnIndex(column)
	if index < 0 {
		return nil
	}
	seen := map[string]struct{}{}
	values := make([]string, 0)
	for _, row := range table.Rows {
		if row[index] == nil {
			continue
		}
		value := FormatValue(row[index], table.Columns[index].Type)
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		values = append(values, value)
	}
	return values
}
