package cliclient

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7FB4FF"))
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// RenderTable column-aligns headers/rows and styles the header row, in the
// style `info`/`clients`/`list`/`failed` use for non-JSON output.
func RenderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	var b strings.Builder
	b.WriteString(renderRow(headers, widths, headerStyle))
	b.WriteString("\n")
	for _, row := range rows {
		b.WriteString(renderRow(row, widths, cellStyle))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderRow(cells []string, widths []int, style lipgloss.Style) string {
	parts := make([]string, len(widths))
	for i := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		parts[i] = style.Width(widths[i] + 2).Render(cell)
	}
	return strings.Join(parts, "")
}

// Stringify renders a value for a table cell, used on map[string]any rows
// returned from CliResult payloads.
func Stringify(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
