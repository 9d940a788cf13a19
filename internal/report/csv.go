package report

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"
)

// csvHeader is the fixed column order of CSV exports.
var csvHeader = []string{
	"Control ID", "Section", "Title", "Severity", "Weight",
	"Status", "Score", "Remediation", "Error", "CheckedAt",
}

// renderCSV writes one row per control under the fixed header.
func renderCSV(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, c := range doc.Controls {
		row := []string{
			c.ControlID,
			c.Section,
			c.Title,
			string(c.Severity),
			strconv.FormatFloat(c.Weight, 'f', -1, 64),
			string(c.Status),
			strconv.FormatFloat(c.Score, 'f', 2, 64),
			c.RemediationGuidance,
			c.ErrorMessage,
			c.CheckedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
