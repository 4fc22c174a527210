package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// statusf prints a progress message to stderr unless --quiet is set.
// Command results go to stdout so they stay pipeable.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

var sizeUnits = []string{"KB", "MB", "GB", "TB", "PB"}

// formatSize renders a byte count with binary units (e.g. "1.5 GB").
func formatSize(n int64) string {
	const unit = 1024

	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < len(sizeUnits)-1; m /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %s", float64(n)/float64(div), sizeUnits[exp])
}

// formatTime renders t in ls style: clock time within the current year,
// the year otherwise.
func formatTime(t, now time.Time) string {
	t = t.Local()

	if t.Year() == now.Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}

// printTable writes left-aligned columns separated by two spaces. Every row
// must have as many cells as headers.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	// Trailing padding on the last column is noise in pipes.
	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}
