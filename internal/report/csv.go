package report

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

var DetailHeader = []string{
	"User Name",
	"Email",
	"Date",
	"Source",
	"Activity Type",
	"Description",
	"Details",
	"Timestamp",
}

// Table is a row-oriented rendering of report data.
type Table struct {
	Header []string
	Rows   [][]string
}

// ExportRows renders one row per consolidated activity. Timestamps are UTC.
func ExportRows(consolidated []ConsolidatedActivity) Table {
	t := Table{Header: DetailHeader, Rows: make([][]string, 0, len(consolidated))}
	for _, c := range consolidated {
		t.Rows = append(t.Rows, []string{
			c.User.Name,
			c.User.Email,
			c.Date,
			string(c.Source),
			c.ActivityType,
			c.Description,
			c.Details,
			c.Timestamp.UTC().Format(timestampLayout),
		})
	}
	return t
}

// SummaryHeader is User Name, Email, one count column per source, Total
// Activities and Date Range.
func SummaryHeader() []string {
	header := []string{"User Name", "Email"}
	for _, src := range Sources {
		header = append(header, string(src)+" Activities")
	}
	return append(header, "Total Activities", "Date Range")
}

// ExportSummary renders one row per user summary.
func ExportSummary(s Summary) Table {
	t := Table{Header: SummaryHeader(), Rows: make([][]string, 0, len(s.PerUser))}
	for _, u := range s.PerUser {
		row := []string{u.User.Name, u.User.Email}
		for _, src := range Sources {
			row = append(row, strconv.Itoa(u.Count(src)))
		}
		row = append(row, strconv.Itoa(u.Total), s.DateRange)
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Count returns the user's activity count for src.
func (u UserSummary) Count(src Source) int {
	switch src {
	case SourceTestRail:
		return u.TestRail
	case SourceJira:
		return u.Jira
	}
	return 0
}

func (t Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

// WriteCSVFile writes t to path atomically.
func WriteCSVFile(path string, t Table) error {
	return writeFileAtomic(path, t.WriteCSV)
}

type CSVExporter struct {
	OutputDir string
}

func NewCSVExporter(outputDir string) *CSVExporter {
	return &CSVExporter{OutputDir: outputDir}
}

// Export writes the detail and summary files of r and returns their paths.
// On failure neither file is left behind.
func (e *CSVExporter) Export(r *Report) ([]string, error) {
	details := filepath.Join(e.OutputDir, FileName("activity_details", "csv", r.Start, r.End))
	if err := WriteCSVFile(details, ExportRows(r.Consolidated)); err != nil {
		return nil, err
	}
	summary := filepath.Join(e.OutputDir, FileName("activity_summary", "csv", r.Start, r.End))
	if err := WriteCSVFile(summary, ExportSummary(r.Summary)); err != nil {
		_ = os.Remove(details)
		return nil, err
	}
	return []string{details, summary}, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}
