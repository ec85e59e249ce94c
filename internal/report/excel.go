package report

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/xuri/excelize/v2"
)

type ExcelExporter struct {
	OutputDir string
}

func NewExcelExporter(outputDir string) *ExcelExporter {
	return &ExcelExporter{OutputDir: outputDir}
}

// Export writes a workbook with a Dashboard sheet, an Activities sheet and
// one sheet per user with activity, and returns its path.
func (e *ExcelExporter) Export(r *Report) (string, error) {
	filename := filepath.Join(e.OutputDir, FileName("activity_report", "xlsx", r.Start, r.End))

	f := excelize.NewFile()
	defer f.Close()

	styles, err := newSheetStyles(f)
	if err != nil {
		return "", goerr.Wrap(err, "failed to create workbook styles")
	}

	if err := e.createDashboardSheet(f, "Dashboard", r, styles); err != nil {
		return "", goerr.Wrap(err, "failed to create dashboard")
	}
	if err := e.createActivitySheet(f, "Activities", r.Consolidated, styles); err != nil {
		return "", goerr.Wrap(err, "failed to create activities sheet")
	}

	byUser := make(map[string][]ConsolidatedActivity)
	for _, c := range r.Consolidated {
		byUser[c.User.ID] = append(byUser[c.User.ID], c)
	}
	used := map[string]bool{"dashboard": true, "activities": true}
	for _, u := range r.Summary.PerUser {
		activities := byUser[u.User.ID]
		if len(activities) == 0 {
			continue
		}
		name := uniqueSheetName(sanitizeSheetName(u.User.Name), used)
		if err := e.createActivitySheet(f, name, activities, styles); err != nil {
			return "", goerr.Wrap(err, "failed to create user sheet", goerr.V("user", u.User.ID))
		}
	}

	_ = f.DeleteSheet("Sheet1")
	if idx, err := f.GetSheetIndex("Dashboard"); err == nil {
		f.SetActiveSheet(idx)
	}

	if err := writeFileAtomic(filename, func(w io.Writer) error { return f.Write(w) }); err != nil {
		return "", err
	}
	return filename, nil
}

type sheetStyles struct {
	header  int
	section int
	total   int
}

func newSheetStyles(f *excelize.File) (sheetStyles, error) {
	border := []excelize.Border{
		{Type: "left", Color: "#000000", Style: 1},
		{Type: "right", Color: "#000000", Style: 1},
		{Type: "top", Color: "#000000", Style: 1},
		{Type: "bottom", Color: "#000000", Style: 1},
	}

	var s sheetStyles
	var err error
	s.header, err = f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    border,
	})
	if err != nil {
		return s, err
	}
	s.section, err = f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#B4C7E7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    border,
	})
	if err != nil {
		return s, err
	}
	s.total, err = f.NewStyle(&excelize.Style{
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"#B4C7E7"}, Pattern: 1},
		Font:   &excelize.Font{Bold: true},
		Border: border,
	})
	return s, err
}

func (e *ExcelExporter) createDashboardSheet(f *excelize.File, sheetName string, r *Report, styles sheetStyles) error {
	if _, err := f.NewSheet(sheetName); err != nil {
		return err
	}

	f.SetCellValue(sheetName, "A1", "Date From:")
	f.SetCellValue(sheetName, "B1", formatDate(r.Start))
	f.SetCellValue(sheetName, "A2", "Date to:")
	f.SetCellValue(sheetName, "B2", formatDate(r.End))

	row := 4
	header := []string{"User", "Email"}
	for _, src := range Sources {
		header = append(header, string(src))
	}
	header = append(header, "Total")
	for i, h := range header {
		cell := cellName(i+1, row)
		f.SetCellValue(sheetName, cell, h)
		f.SetCellStyle(sheetName, cell, cell, styles.header)
	}
	row++

	for _, u := range r.Summary.PerUser {
		col := 1
		f.SetCellValue(sheetName, cellName(col, row), u.User.Name)
		col++
		f.SetCellValue(sheetName, cellName(col, row), u.User.Email)
		col++
		for _, src := range Sources {
			f.SetCellValue(sheetName, cellName(col, row), u.Count(src))
			col++
		}
		f.SetCellValue(sheetName, cellName(col, row), u.Total)
		row++
	}

	col := 1
	f.SetCellValue(sheetName, cellName(col, row), "Total")
	col++
	f.SetCellValue(sheetName, cellName(col, row), "")
	col++
	for _, src := range Sources {
		f.SetCellValue(sheetName, cellName(col, row), r.Summary.PerSource[src])
		col++
	}
	f.SetCellValue(sheetName, cellName(col, row), r.Summary.TotalActivities)
	f.SetCellStyle(sheetName, cellName(1, row), cellName(col, row), styles.total)
	row += 2

	f.SetCellValue(sheetName, cellName(1, row), "Mean per user")
	f.SetCellValue(sheetName, cellName(2, row), r.Summary.MeanPerUser)
	row++
	f.SetCellValue(sheetName, cellName(1, row), "Median per user")
	f.SetCellValue(sheetName, cellName(2, row), r.Summary.MedianPerUser)
	row += 2

	// activity type breakdown
	kinds := kindCounts(r.Consolidated)
	f.SetCellValue(sheetName, cellName(1, row), "Activity Type")
	f.SetCellValue(sheetName, cellName(2, row), "Count")
	f.SetCellStyle(sheetName, cellName(1, row), cellName(2, row), styles.section)
	row++
	for _, k := range kinds {
		f.SetCellValue(sheetName, cellName(1, row), k.Label)
		f.SetCellValue(sheetName, cellName(2, row), k.Count)
		row++
	}

	f.SetColWidth(sheetName, "A", "A", 24)
	f.SetColWidth(sheetName, "B", "B", 28)
	f.SetColWidth(sheetName, "C", columnLetter(len(header)), 15)
	return nil
}

type kindCount struct {
	Label string
	Count int
}

func kindCounts(consolidated []ConsolidatedActivity) []kindCount {
	order := []Kind{KindExecution, KindCaseUpdate, KindRunCreation, KindIssueCreated, KindCommentAdded}
	counts := make(map[Kind]int)
	for _, c := range consolidated {
		counts[c.Kind]++
	}
	var out []kindCount
	for _, k := range order {
		if counts[k] > 0 {
			out = append(out, kindCount{Label: k.Label(), Count: counts[k]})
		}
	}
	return out
}

func (e *ExcelExporter) createActivitySheet(f *excelize.File, sheetName string, activities []ConsolidatedActivity, styles sheetStyles) error {
	if _, err := f.NewSheet(sheetName); err != nil {
		return err
	}

	table := ExportRows(activities)
	for col, header := range table.Header {
		cell := cellName(col+1, 1)
		f.SetCellValue(sheetName, cell, header)
		f.SetCellStyle(sheetName, cell, cell, styles.header)
	}
	for i, row := range table.Rows {
		for col, value := range row {
			f.SetCellValue(sheetName, cellName(col+1, i+2), value)
		}
	}

	f.SetColWidth(sheetName, "A", "B", 22)
	f.SetColWidth(sheetName, "C", "E", 15)
	f.SetColWidth(sheetName, "F", "F", 40)
	f.SetColWidth(sheetName, "G", "G", 50)
	f.SetColWidth(sheetName, "H", "H", 26)

	f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
	return nil
}

func cellName(col, row int) string {
	return fmt.Sprintf("%s%d", columnLetter(col), row)
}

func columnLetter(col int) string {
	result := ""
	for col > 0 {
		col--
		result = string(rune('A'+col%26)) + result
		col /= 26
	}
	return result
}

func sanitizeSheetName(name string) string {
	name = strings.NewReplacer("/", "-", "\\", "-", "?", "", "*", "", ":", "", "[", "(", "]", ")").Replace(name)
	name = strings.TrimSpace(name)
	if name == "" {
		name = "User"
	}
	if r := []rune(name); len(r) > 31 {
		name = string(r[:31])
	}
	return name
}

func uniqueSheetName(name string, used map[string]bool) string {
	candidate := name
	for i := 2; used[strings.ToLower(candidate)]; i++ {
		suffix := fmt.Sprintf(" (%d)", i)
		r := []rune(name)
		if len(r)+len(suffix) > 31 {
			r = r[:31-len(suffix)]
		}
		candidate = string(r) + suffix
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}
