package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kalambet/seedbank/internal/generator"
	"github.com/kalambet/seedbank/internal/pipeline"
	"github.com/kalambet/seedbank/internal/storage"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// stderr is where status lines go. Tests swap it for a buffer.
var stderr io.Writer = os.Stderr

// line kinds, each a color and a leading mark.
var (
	okLine   = lineKind{colorGreen, "✓"}
	errLine  = lineKind{colorRed, "✗"}
	warnLine = lineKind{colorYellow, "⚠"}
	stepLine = lineKind{colorCyan, "→"}
)

type lineKind struct {
	color string
	mark  string
}

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func emit(w io.Writer, k lineKind, format string, args ...any) {
	fmt.Fprintln(w, colorize(k.color, k.mark+" "+fmt.Sprintf(format, args...)))
}

func field(w io.Writer, label, format string, args ...any) {
	fmt.Fprintf(w, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

func printSuccess(format string, args ...any) { emit(stderr, okLine, format, args...) }
func printError(format string, args ...any)   { emit(stderr, errLine, format, args...) }
func printWarning(format string, args ...any) { emit(stderr, warnLine, format, args...) }
func printStep(format string, args ...any)    { emit(stderr, stepLine, format, args...) }

func printStatus(label, format string, args ...any) { field(stderr, label, format, args...) }

// writeReport renders a seed run: counts first, then every dropped candidate
// and failed record, then one summary line. The summary is a warning when any
// validated record was not written.
func writeReport(w io.Writer, r pipeline.Report) {
	if r.Mode == pipeline.ModeReplace {
		field(w, "Deleted", "%d", r.Deleted)
	}
	field(w, "Candidates", "%d (requested %d)", r.Candidates, r.Requested)
	field(w, "Validated", "%d", r.Validated)
	for _, reason := range r.Rejected {
		emit(w, warnLine, "rejected: %s", reason)
	}
	failures := r.Failures()
	for _, o := range failures {
		emit(w, warnLine, "%s %s: %s", o.Status, o.RecordID, o.Reason)
	}
	if len(failures) > 0 {
		emit(w, warnLine, "Wrote %d of %d records to %s in %s", r.Written, r.Validated, r.Collection, r.Duration)
		return
	}
	emit(w, okLine, "Wrote %d records to %s in %s", r.Written, r.Collection, r.Duration)
}

// seedFailure explains the run-level errors a user can act on and passes
// err through for the exit status.
func seedFailure(w io.Writer, err error) error {
	var connErr *storage.ConnectionError
	var genErr *generator.GenerationError
	switch {
	case errors.As(err, &connErr):
		emit(w, errLine, "Could not reach the %s store", connErr.Backend)
	case errors.As(err, &genErr):
		emit(w, errLine, "Generation failed (%s)", genErr.Reason)
		for _, r := range genErr.Rejected {
			emit(w, warnLine, "rejected candidate %d: %s", r.Index, strings.Join(r.Problems, "; "))
		}
	}
	return err
}

func writeMatches(w io.Writer, matches []storage.Match) {
	for i, m := range matches {
		fmt.Fprintf(w, "%d. %s (%s)  score=%.4f\n", i+1,
			colorize(colorBold, m.SourceRecord.Name), m.SourceRecord.ID, m.Score)
		fmt.Fprintf(w, "   %s\n", m.Text)
	}
}
