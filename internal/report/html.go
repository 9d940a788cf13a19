package report

import (
	"bytes"
	_ "embed"
	"html/template"
)

//go:embed template.html
var templateHTML string

var htmlTemplate = template.Must(template.New("report").Parse(templateHTML))

// criticalFindingsLimit caps the critical findings table.
const criticalFindingsLimit = 10

type htmlData struct {
	Doc      Document
	Critical []ControlEntry
	Note     string
}

// renderHTML produces the self-contained HTML document. note, when set, is
// shown as a banner (used by the PDF fallback path).
func renderHTML(doc Document, note string) ([]byte, error) {
	data := htmlData{
		Doc:      doc,
		Critical: CriticalFindings(doc, criticalFindingsLimit),
		Note:     note,
	}
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
