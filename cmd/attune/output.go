package main

import (
	"fmt"
	"io"
	"os"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// statusOut receives everything that is not command output proper.
var statusOut io.Writer = os.Stderr

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

// printMarked writes one colored status line prefixed with mark.
func printMarked(color, mark, format string, args ...any) {
	fmt.Fprintln(statusOut, colorize(color, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { printMarked(colorGreen, "✓", format, args...) }
func printError(format string, args ...any)   { printMarked(colorRed, "✗", format, args...) }
func printWarning(format string, args ...any) { printMarked(colorYellow, "⚠", format, args...) }

// printStatus writes an indented "label: value" line.
func printStatus(label, format string, args ...any) {
	fmt.Fprintf(statusOut, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

// printScore shows a sub-score in green when it meets its threshold and in
// red when it misses.
func printScore(label string, score, threshold float64) {
	color, mark := colorGreen, "pass"
	if score < threshold {
		color, mark = colorRed, "miss"
	}
	printStatus(label, "%s", colorize(color, fmt.Sprintf("%.3f (%s, threshold %.2f)", score, mark, threshold)))
}
