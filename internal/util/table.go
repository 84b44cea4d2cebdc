package util

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"
)

// TableColumn is one column of a rendered table. Key selects the row value.
type TableColumn struct {
	Header string
	Key    string
	Width  int
}

var ansiEscape = regexp.MustCompile("\x1b\\[[0-9;]*m")

// RenderTable writes rows as space-aligned columns under a dashed header.
// Colored values are measured without their escape codes.
func RenderTable(w io.Writer, columns []TableColumn, rows []map[string]interface{}) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No data to display")
		return
	}

	cells := make([][]string, len(rows))
	for r, row := range rows {
		cells[r] = make([]string, len(columns))
		for i, col := range columns {
			if v, ok := row[col.Key]; ok && v != nil {
				cells[r][i] = fmt.Sprint(v)
			}
		}
	}
	for i := range columns {
		width := max(columns[i].Width, displayWidth(columns[i].Header))
		for r := range cells {
			width = max(width, displayWidth(cells[r][i]))
		}
		columns[i].Width = width
	}

	line := func(values func(i int) string) {
		parts := make([]string, len(columns))
		for i, col := range columns {
			parts[i] = pad(values(i), col.Width)
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, " "), " "))
	}
	line(func(i int) string { return columns[i].Header })
	line(func(i int) string { return strings.Repeat("-", columns[i].Width) })
	for r := range cells {
		line(func(i int) string { return cells[r][i] })
	}
}

func displayWidth(s string) int {
	return utf8.RuneCountInString(ansiEscape.ReplaceAllString(s, ""))
}

func pad(s string, width int) string {
	if n := displayWidth(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}
