package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"
)

// maxCellWidth truncates long values in table output.
const maxCellWidth = 40

// record is one row of a master-data list. The console is schema-agnostic:
// whatever the backend returns is shown.
type record = map[string]any

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	if !cc.Flags.Quiet {
		fmt.Fprintf(cc.Err, format, args...)
	}
}

// formatTime returns a compact timestamp for display.
func formatTime(t time.Time) string {
	now := time.Now()

	// Same calendar year: show "Jan  2 15:04"
	if t.Year() == now.Year() {
		return t.Format("Jan _2 15:04")
	}

	// Different year: show "Jan  2  2006"
	return t.Format("Jan _2  2006")
}

// formatCell renders a decoded JSON value for a table cell.
func formatCell(v any) string {
	var s string

	switch val := v.(type) {
	case nil:
		return ""
	case string:
		s = val
	case bool:
		s = strconv.FormatBool(val)
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		s = val.String()
	default:
		data, err := json.Marshal(val)
		if err != nil {
			s = fmt.Sprint(val)
		} else {
			s = string(data)
		}
	}

	s = strings.ReplaceAll(s, "\n", " ")

	if r := []rune(s); len(r) > maxCellWidth {
		return string(r[:maxCellWidth-1]) + "…"
	}

	return s
}

// recordColumns returns the union of keys across rows: "id" first, then
// "code" and "name" when present, then the rest alphabetically.
func recordColumns(rows []record) []string {
	seen := make(map[string]bool)

	var rest []string

	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				rest = append(rest, k)
			}
		}
	}

	slices.Sort(rest)

	var cols []string

	for _, lead := range []string{"id", "code", "name"} {
		if seen[lead] {
			cols = append(cols, lead)
		}
	}

	for _, k := range rest {
		if !slices.Contains(cols, k) {
			cols = append(cols, k)
		}
	}

	return cols
}

// printRecords writes rows as an aligned table.
func printRecords(w io.Writer, rows []record) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No rows.")
		return
	}

	cols := recordColumns(rows)
	cells := make([][]string, 0, len(rows))

	for _, row := range rows {
		line := make([]string, len(cols))
		for i, c := range cols {
			line[i] = formatCell(row[c])
		}

		cells = append(cells, line)
	}

	headers := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = strings.ToUpper(c)
	}

	printTable(w, headers, cells)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len([]rune(h))
	}

	for _, row := range rows {
		for i, cell := range row {
			if n := len([]rune(cell)); n > widths[i] {
				widths[i] = n
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row. The last cell is not padded.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		if i == len(cells)-1 {
			parts[i] = cell
			continue
		}

		parts[i] = cell + strings.Repeat(" ", widths[i]-len([]rune(cell)))
	}

	fmt.Fprintln(w, strings.Join(parts, "  "))
}
