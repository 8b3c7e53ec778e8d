package dataset

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	maxFloatDecimals = 6
	nullText         = "NULL"
	seriesSeparator  = "    "
	columnSeparator  = "  "
)

// FormatTable renders rows as a fixed-width text table without a row index.
// Every column, header included, is right-justified to its widest cell.
func FormatTable(columns []Column, rows [][]any) string {
	cells := formatColumns(columns, rows)
	widths := make([]int, len(columns))
	for i, column := range columns {
		widths[i] = textWidth(column.Name)
		for _, value := range cells[i] {
			if w := textWidth(value); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	for i, column := range columns {
		if i > 0 {
			b.WriteString(columnSeparator)
		}
		b.WriteString(padLeft(column.Name, widths[i]))
	}
	for r := range rows {
		b.WriteByte('\n')
		for i := range columns {
			if i > 0 {
				b.WriteString(columnSeparator)
			}
			b.WriteString(padLeft(cells[i][r], widths[i]))
		}
	}
	return b.String()
}

// FormatSeries renders one column as index/value lines. The index is
// left-justified and the values right-justified.
func FormatSeries(column Column, values []any) string {
	rows := make([][]any, len(values))
	for i, value := range values {
		rows[i] = []any{value}
	}
	cells := formatColumns([]Column{column}, rows)[0]

	indexWidth := len(strconv.Itoa(max(len(values)-1, 0)))
	valueWidth := 0
	for _, cell := range cells {
		valueWidth = max(valueWidth, textWidth(cell))
	}

	lines := make([]string, 0, len(cells))
	for i, cell := range cells {
		index := strconv.Itoa(i)
		lines = append(lines, index+strings.Repeat(" ", indexWidth-len(index))+seriesSeparator+padLeft(cell, valueWidth))
	}
	return strings.Join(lines, "\n")
}

// FormatValue renders a single cell. Floats use the shortest exact form.
func FormatValue(value any, columnType string) string {
	switch typed := value.(type) {
	case float64:
		return formatFloat(typed, floatDecimals(typed))
	default:
		return formatCell(value, columnType, 0)
	}
}

func formatColumns(columns []Column, rows [][]any) [][]string {
	out := make([][]string, len(columns))
	for i, column := range columns {
		decimals := 1
		for _, row := range rows {
			if f, ok := row[i].(float64); ok {
				decimals = max(decimals, floatDecimals(f))
			}
		}
		cells := make([]string, len(rows))
		for r, row := range rows {
			cells[r] = formatCell(row[i], column.Type, decimals)
		}
		out[i] = cells
	}
	return out
}

func formatCell(value any, columnType string, decimals int) string {
	switch typed := value.(type) {
	case nil:
		return nullText
	case string:
		return typed
	case bool:
		if typed {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(typed, 10)
	case float64:
		return formatFloat(typed, max(decimals, 1))
	case time.Time:
		return formatTime(typed, columnType)
	default:
		return fmt.Sprint(typed)
	}
}

func formatFloat(value float64, decimals int) string {
	return strconv.FormatFloat(value, 'f', decimals, 64)
}

// floatDecimals returns the digits needed after the point, at least one and
// capped at maxFloatDecimals.
func floatDecimals(value float64) int {
	text := strconv.FormatFloat(value, 'f', -1, 64)
	dot := strings.IndexByte(text, '.')
	if dot < 0 {
		return 1
	}
	return min(max(len(text)-dot-1, 1), maxFloatDecimals)
}

func formatTime(value time.Time, columnType string) string {
	switch columnType {
	case TypeDate:
		return value.Format(time.DateOnly)
	case TypeTimestamp:
		return value.Format(time.DateTime)
	}
	if value.Hour() == 0 && value.Minute() == 0 && value.Second() == 0 && value.Nanosecond() == 0 {
		return value.Format(time.DateOnly)
	}
	return value.Format(time.DateTime)
}

func textWidth(value string) int {
	return len([]rune(value))
}

func padLeft(value string, width int) string {
	if pad := width - textWidth(value); pad > 0 {
		return strings.Repeat(" ", pad) + value
	}
	return value
}
