// Package report turns the outcomes of a run into one composite document
// and compiles it to HTML and PDF artifacts.
package report

import (
	"bytes"
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/raysh454/perfsandbox/internal/tools"
)

//go:embed templates/report.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/report.html"))

// DefaultTitle heads every report.
const DefaultTitle = "Performance Tools Sandbox Report"

// Document is the composite report of one run.
type Document struct {
	Title       string
	Target      string
	GeneratedAt time.Time
	Sections    []Section
}

// Section is the part of the report contributed by one tool.
type Section struct {
	Code        string
	Name        string
	Description string
	ToolURL     string
	ResultsURL  string
	Summary     string
	// Screenshot is a data: URI, or empty when the tool produced none.
	Screenshot template.URL
}

// Aggregate builds the document from the succeeded outcomes, keeping their
// order. Failed outcomes contribute nothing. The result depends only on the
// arguments.
func Aggregate(catalog *tools.Catalog, target string, outcomes []tools.Outcome, generatedAt time.Time) (*Document, error) {
	if catalog == nil {
		return nil, errors.New("report: catalog is nil")
	}
	doc := &Document{
		Title:       DefaultTitle,
		Target:      target,
		GeneratedAt: generatedAt,
		Sections:    make([]Section, 0, len(outcomes)),
	}
	for _, o := range outcomes {
		if !o.Succeeded() {
			continue
		}
		sec := Section{
			Code:       o.ToolCode,
			Name:       catalog.Name(o.ToolCode),
			ResultsURL: o.ResultsURL,
			Summary:    o.Summary,
		}
		if info, ok := catalog.Get(o.ToolCode); ok {
			sec.Description = info.Description
			sec.ToolURL = info.URL
		}
		if len(o.Screenshot) > 0 {
			sec.Screenshot = template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(o.Screenshot))
		}
		doc.Sections = append(doc.Sections, sec)
	}
	return doc, nil
}

// Empty reports whether no tool contributed a section.
func (d *Document) Empty() bool {
	return len(d.Sections) == 0
}

// HTML renders the document as a standalone page.
func (d *Document) HTML() ([]byte, error) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, d); err != nil {
		return nil, fmt.Errorf("report: render html: %w", err)
	}
	return buf.Bytes(), nil
}
