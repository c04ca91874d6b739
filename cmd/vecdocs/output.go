package main

import (
	"encoding/json"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/kalambet/vecdocs/internal/importer"
	"github.com/kalambet/vecdocs/internal/ingest"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

// Status lines go to stderr so stdout stays clean for JSON and results.
func printMarked(color, mark, format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(color, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { printMarked(colorGreen, "✓", format, args...) }
func printError(format string, args ...any)   { printMarked(colorRed, "✗", format, args...) }
func printWarning(format string, args ...any) { printMarked(colorYellow, "⚠", format, args...) }
func printStep(format string, args ...any)    { printMarked(colorCyan, "→", format, args...) }

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

func printProgress(r importer.FileResult) {
	prefix := fmt.Sprintf("[%d/%d]", r.Index, r.Total)
	if r.Err != nil {
		printError("%s %s: %v", prefix, r.Path, r.Err)
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s %s %s (%d chunks)\n",
		colorize(colorCyan, prefix), r.Path, statusLabel(r.Status), r.DocumentID, r.Chunks)
}

func statusLabel(s ingest.Status) string {
	switch s {
	case ingest.Updated, ingest.Skipped:
		return colorize(colorYellow, string(s))
	default:
		return colorize(colorGreen, string(s))
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
