package main

import (
	"fmt"
	"io"
	"os"

	"github.com/propbot/propbot/internal/search"
	"github.com/propbot/propbot/internal/storage"
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

// Progress and diagnostics go to stderr; result data goes to stdout so it
// survives piping.

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// printRunSummary reports one ingest run's outcome with its counters.
func printRunSummary(run storage.IngestRun) {
	if run.Status == storage.RunStatusCompleted {
		printSuccess("%s: fetched %d, expired %d, inserted %d, updated %d",
			run.Source, run.RecordsFetched, run.RecordsFilteredExpired,
			run.RecordsInserted, run.RecordsUpdated)
		return
	}
	printError("%s: %s (fetched %d before failure)",
		run.Source, run.ErrorMessage, run.RecordsFetched)
}

// printBucket writes one search bucket with its hit count. Titles are capped
// so a single verbose record cannot drown the listing.
func printBucket(w io.Writer, label string, results []search.Result) {
	fmt.Fprintf(w, "\n%s (%d)\n", colorize(colorBold, label), len(results))
	for _, r := range results {
		line := r.Title
		if len(line) > 100 {
			line = line[:100] + "..."
		}
		if r.Score > 0 {
			fmt.Fprintf(w, "  %s [%.3f] %s\n", colorize(colorCyan, r.OpportunityID), r.Score, line)
		} else {
			fmt.Fprintf(w, "  %s %s\n", colorize(colorCyan, r.OpportunityID), line)
		}
		if r.Deadline != "" {
			fmt.Fprintf(w, "      deadline %s  agency %s\n", r.Deadline, r.Agency)
		}
	}
}

// printRunLine writes one ingest run as a single listing row, status colored
// by outcome, with the error message indented beneath failed runs.
func printRunLine(w io.Writer, run storage.IngestRun) {
	status := run.Status
	switch run.Status {
	case storage.RunStatusFailed:
		status = colorize(colorRed, status)
	case storage.RunStatusCompleted:
		status = colorize(colorGreen, status)
	}
	fmt.Fprintf(w, "%s  %s  %-10s  %s  fetched=%d inserted=%d updated=%d\n",
		colorize(colorCyan, run.ID[:8]),
		run.StartedAt.Format("2006-01-02 15:04:05"),
		run.Source,
		status,
		run.RecordsFetched, run.RecordsInserted, run.RecordsUpdated,
	)
	if run.ErrorMessage != "" {
		fmt.Fprintf(w, "          %s\n", run.ErrorMessage)
	}
}
