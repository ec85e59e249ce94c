package report

import (
	"embed"
	"encoding/json"
	"html/template"
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed "templates"
var templateFS embed.FS

// Exporter writes the JSON and HTML renderings of a report.
type Exporter struct {
	OutputDir string
	// Title heads the HTML report.
	Title string
}

func NewExporter(outputDir string) *Exporter {
	return &Exporter{OutputDir: outputDir, Title: "team activity report"}
}

func (e *Exporter) ExportJSON(r *Report) (string, error) {
	data, err := json.MarshalIndent(r, "", "\t")
	if err != nil {
		return "", goerr.Wrap(err, "failed to encode report")
	}
	path := filepath.Join(e.OutputDir, FileName("activity_report", "json", r.Start, r.End))
	err = writeFileAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

type userSection struct {
	Summary    UserSummary
	Activities []ConsolidatedActivity
}

func (e *Exporter) ExportHTML(r *Report) (string, error) {
	funcMap := template.FuncMap{
		"title": cases.Title(language.English).String,
		"date":  formatDate,
	}
	tmpl, err := template.New("report.tmpl").Funcs(funcMap).ParseFS(templateFS, "templates/report.tmpl")
	if err != nil {
		return "", goerr.Wrap(err, "failed to parse HTML template")
	}

	byUser := make(map[string][]ConsolidatedActivity)
	for _, c := range r.Consolidated {
		byUser[c.User.ID] = append(byUser[c.User.ID], c)
	}
	sections := make([]userSection, 0, len(r.Summary.PerUser))
	for _, u := range r.Summary.PerUser {
		sections = append(sections, userSection{Summary: u, Activities: byUser[u.User.ID]})
	}
	sort.SliceStable(sections, func(i, j int) bool {
		return sections[i].Summary.Total > sections[j].Summary.Total
	})

	data := map[string]any{
		"Title":     e.Title,
		"Generated": time.Now().Format("2006-01-02 15:04:05"),
		"Start":     r.Start,
		"End":       r.End,
		"Summary":   r.Summary,
		"Sources":   Sources,
		"Kinds":     kindCounts(r.Consolidated),
		"Sections":  sections,
	}

	path := filepath.Join(e.OutputDir, FileName("activity_report", "html", r.Start, r.End))
	if err := writeFileAtomic(path, func(w io.Writer) error { return tmpl.Execute(w, data) }); err != nil {
		return "", err
	}
	return path, nil
}
