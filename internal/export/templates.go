package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate = template.Must(
	template.New("report.html").
		Funcs(template.FuncMap{
			"formatDate": func(t time.Time, layout string) string {
				return t.Format(layout)
			},
		}).
		ParseFS(templateFS, "templates/report.html"),
)

// ReportData holds data for report template rendering
type ReportData struct {
	Title       string
	Slug        string
	GeneratedAt time.Time
	Notes       int
	Comments    []ReportComment
}

// RenderReportHTML renders the comment report for a document.
func RenderReportHTML(data ReportData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
