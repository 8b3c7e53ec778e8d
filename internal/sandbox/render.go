package sandbox

import (
	"strings"

	"github.com/tablechat/tablechat/internal/dataset"
)

// Render turns a result into the text shown to the answer model and kept in
// conversation history.
func Render(result Result) string {
	switch result.Kind {
	case KindTable:
		if len(result.Rows) == 0 {
			names := make([]string, 0, len(result.Columns))
			for _, column := range result.Columns {
				names = append(names, column.Name)
			}
			return "Empty table\nColumns: " + strings.Join(names, ", ")
		}
		return dataset.FormatTable(result.Columns, result.Rows)
	case KindSeries:
		column := dataset.Column{Name: "result"}
		if len(result.Columns) > 0 {
			column = result.Columns[0]
		}
		if len(result.Rows) == 0 {
			return "Empty series: " + column.Name
		}
		return dataset.FormatSeries(column, result.SeriesValues())
	default:
		if text, ok := result.Value.(string); ok {
			return text
		}
		return dataset.FormatValue(result.Value, "")
	}
}
