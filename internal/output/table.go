package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// ANSI color codes for severity output (used when Colored=true).
const (
	ansiReset   = "\033[0m"
	ansiBoldRed = "\033[1;31m"
	ansiYellow  = "\033[0;33m"
	ansiBlue    = "\033[0;34m"
	ansiGreen   = "\033[0;32m"
)

// TableOptions controls how RenderTable lays out the report.
type TableOptions struct {
	// Colored wraps severity labels with ANSI codes. Default false (CI-safe).
	Colored bool

	// MinSeverity hides issues below this severity. Empty shows everything.
	// Counts in the summary line always cover the whole report.
	MinSeverity models.Severity

	// MessageWidth caps the MESSAGE column. Zero means no truncation.
	MessageWidth int
}

func severityCode(sev models.Severity) string {
	switch sev {
	case models.SeverityError:
		return ansiBoldRed
	case models.SeverityWarning:
		return ansiYellow
	case models.SeverityInfo:
		return ansiBlue
	}
	return ""
}

// ColorSeverity wraps a severity string with ANSI codes when colored is true.
// When colored is false the string is returned unchanged (CI-safe default).
func ColorSeverity(sev models.Severity, colored bool) string {
	s := string(sev)
	code := severityCode(sev)
	if !colored || code == "" {
		return s
	}
	return code + s + ansiReset
}

// ShortenMessage truncates msg to at most max runes, appending "..." when truncated.
// max is treated as at least 4 to guarantee space for the ellipsis.
func ShortenMessage(msg string, max int) string {
	if max < 4 {
		max = 4
	}
	runes := []rune(msg)
	if len(runes) <= max {
		return msg
	}
	return string(runes[:max-3]) + "..."
}

// severityCell returns the severity padded to width characters.
// When colored, ANSI codes wrap only the text; trailing padding spaces are plain
// so subsequent columns stay visually aligned regardless of terminal ANSI support.
func severityCell(sev models.Severity, width int, colored bool) string {
	text := string(sev)
	code := severityCode(sev)
	if !colored || code == "" {
		return fmt.Sprintf("%-*s", width, text)
	}
	spaces := width - len(text)
	if spaces < 0 {
		spaces = 0
	}
	return code + text + ansiReset + strings.Repeat(" ", spaces)
}

// severityRank orders severities for MinSeverity filtering; unknown is lowest.
func severityRank(sev models.Severity) int {
	switch sev {
	case models.SeverityError:
		return 3
	case models.SeverityWarning:
		return 2
	case models.SeverityInfo:
		return 1
	}
	return 0
}

// RenderTable writes the report as an issue table followed by a summary line.
// Issues keep report order so layer order is visible to the reader.
//
// Column order:
//
//	FILE  SEVERITY  MESSAGE
func RenderTable(w io.Writer, report *models.ValidationReport, opts TableOptions) {
	var shown []models.Issue
	for _, is := range report.Issues {
		if severityRank(is.Severity) >= severityRank(opts.MinSeverity) {
			shown = append(shown, is)
		}
	}

	if len(shown) == 0 {
		fmt.Fprintln(w, "No issues.")
	} else {
		const wSeverity = 8
		wFile := len("FILE")
		for _, is := range shown {
			if n := len(is.File); n > wFile {
				wFile = n
			}
		}

		header := fmt.Sprintf("%-*s  %-*s  %s", wFile, "FILE", wSeverity, "SEVERITY", "MESSAGE")
		fmt.Fprintln(w, header)
		fmt.Fprintln(w, strings.Repeat("-", len(header)))

		for _, is := range shown {
			msg := is.Message()
			if opts.MessageWidth > 0 {
				msg = ShortenMessage(msg, opts.MessageWidth)
			}
			fmt.Fprintf(w, "%-*s  %s  %s\n", wFile, is.File, severityCell(is.Severity, wSeverity, opts.Colored), msg)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, Summary(report, opts.Colored))
}

// Summary returns the one-line run summary:
//
//	OK: true  Files: 12  Errors: 0  Warnings: 3  Info: 1
func Summary(report *models.ValidationReport, colored bool) string {
	ok := fmt.Sprintf("%t", report.OK)
	if colored {
		if report.OK {
			ok = ansiGreen + ok + ansiReset
		} else {
			ok = ansiBoldRed + ok + ansiReset
		}
	}
	return fmt.Sprintf("OK: %s  Files: %d  Errors: %d  Warnings: %d  Info: %d",
		ok, report.FilesChecked, report.Errors, report.Warnings, report.Infos())
}
