package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// RenderJSON writes the report in its stable wire shape:
// {ok, filesChecked, issues: [{file, severity, message}], errors, warnings}.
func RenderJSON(w io.Writer, report *models.ValidationReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// Render dispatches on format ("table" or "json").
func Render(w io.Writer, report *models.ValidationReport, format string, opts TableOptions) error {
	switch format {
	case "", "table":
		RenderTable(w, report, opts)
		return nil
	case "json":
		return RenderJSON(w, report)
	}
	return fmt.Errorf("unknown output format %q (want table or json)", format)
}
