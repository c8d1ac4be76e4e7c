package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/vigilsec/vigil/internal/errors"
)

// Report formats.
const (
	FormatJSON  = "json"
	FormatTable = "table"
)

// Render projects findings into the requested format. It never mutates
// the findings; the same input always produces the same bytes.
func Render(f *Findings, format string) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return renderJSON(f)
	case FormatTable:
		return renderTable(f)
	default:
		return nil, errors.NewValidationError(
			fmt.Sprintf("format must be json or table (got %q)", format), "format")
	}
}

func renderJSON(f *Findings) ([]byte, error) {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to render findings: %w", err)
	}
	return data, nil
}

func renderTable(f *Findings) ([]byte, error) {
	var buf bytes.Buffer

	table := tablewriter.NewWriter(&buf)
	table.Header("Target", "Status", "Finding", "Detail")

	for i := range f.Targets {
		t := &f.Targets[i]
		rows := 0

		for _, port := range t.OpenPorts {
			detail := port.Service
			if port.Product != "" {
				detail += " (" + port.Product
				if port.Version != "" {
					detail += " " + port.Version
				}
				detail += ")"
			}
			if err := table.Append([]string{
				t.Target, t.Status,
				port.Protocol + "/" + strconv.Itoa(int(port.Port)),
				detail,
			}); err != nil {
				return nil, fmt.Errorf("failed to build table: %w", err)
			}
			rows++
		}

		if t.OS != nil {
			if err := table.Append([]string{
				t.Target, t.Status, "os",
				fmt.Sprintf("%s (%d%%)", t.OS.Name, t.OS.Accuracy),
			}); err != nil {
				return nil, fmt.Errorf("failed to build table: %w", err)
			}
			rows++
		}

		for _, vuln := range t.Vulnerabilities {
			detail := vuln.Severity
			if vuln.CVSS > 0 {
				detail += fmt.Sprintf(" (cvss %.1f)", vuln.CVSS)
			}
			if err := table.Append([]string{t.Target, t.Status, vuln.ID, detail}); err != nil {
				return nil, fmt.Errorf("failed to build table: %w", err)
			}
			rows++
		}

		// Targets with nothing to report still get a row so the table
		// covers every requested target.
		if rows == 0 {
			if err := table.Append([]string{t.Target, t.Status, "-", "-"}); err != nil {
				return nil, fmt.Errorf("failed to build table: %w", err)
			}
		}
	}

	if err := table.Render(); err != nil {
		return nil, fmt.Errorf("failed to render table: %w", err)
	}

	return buf.Bytes(), nil
}
