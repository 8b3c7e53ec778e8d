package sandbox

import (
	"github.com/tablechat/tablechat/internal/dataset"
)

type Kind int

const (
	KindScalar Kind = iota
	KindSeries
	KindTable
)

func (k Kind) String() string {
	switch k {
	case KindSeries:
		return "series"
	case KindTable:
		return "table"
	default:
		return "scalar"
	}
}

// PlaceholderText is returned as a scalar result when the script ran without
// defining `result`.
const PlaceholderText = "No `result` table or variable was set."

// Result is the value a script left in `result`. Table and series results
// carry Columns and Rows (a series has exactly one column); scalar results
// carry Value.
type Result struct {
	Kind    Kind
	Columns []dataset.Column
	Rows    [][]any
	Value   any
}

func TableResult(columns []dataset.Column, rows [][]any) Result {
	return Result{Kind: KindTable, Columns: columns, Rows: rows}
}

func SeriesResult(column dataset.Column, values []any) Result {
	rows := make([][]any, len(values))
	for i, value := range values {
		rows[i] = []any{value}
	}
	return Result{Kind: KindSeries, Columns: []dataset.Column{column}, Rows: rows}
}

func ScalarResult(value any) Result {
	return Result{Kind: KindScalar, Value: value}
}

// SeriesValues returns the single column of a series result.
func (r Result) SeriesValues() []any {
	values := make([]any, len(r.Rows))
	for i, row := range r.Rows {
		if len(row) > 0 {
			values[i] = row[0]
		}
	}
	return values
}

// ExecError reports a failure raised by the script itself. Trace is the
// engine's error text and is never empty.
type ExecError struct {
	Trace string
}

func (e *ExecError) Error() string {
	return e.Trace
}
