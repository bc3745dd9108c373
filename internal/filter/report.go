package filter

import "strings"

// XeroReportCell is one cell of a Xero report row.
type XeroReportCell struct {
	Value      string `json:"Value"`
	Attributes []struct {
		ID    string `json:"Id"`
		Value string `json:"Value"`
	} `json:"Attributes,omitempty"`
}

// XeroReportRow is a node of the Xero report row tree.
type XeroReportRow struct {
	RowType string           `json:"RowType"`
	Title   string           `json:"Title,omitempty"`
	Cells   []XeroReportCell `json:"Cells,omitempty"`
	Rows    []XeroReportRow  `json:"Rows,omitempty"`
}

// XeroReport mirrors a Xero report such as ProfitAndLoss or BalanceSheet.
type XeroReport struct {
	ReportID       string          `json:"ReportID,omitempty"`
	ReportName     string          `json:"ReportName"`
	ReportType     string          `json:"ReportType,omitempty"`
	ReportTitles   []string        `json:"ReportTitles,omitempty"`
	ReportDate     string          `json:"ReportDate,omitempty"`
	UpdatedDateUTC string          `json:"UpdatedDateUTC,omitempty"`
	Rows           []XeroReportRow `json:"Rows"`
}

const (
	rowHeader  = "Header"
	rowSection = "Section"
	rowRow     = "Row"
	rowSummary = "SummaryRow"
)

// ReportTotal is a labelled summary line.
type ReportTotal struct {
	Label  string   `json:"label"`
	Values []string `json:"values"`
}

// ReportSection is a section title with its summary lines.
type ReportSection struct {
	Title  string        `json:"title,omitempty"`
	Totals []ReportTotal `json:"totals,omitempty"`
}

// ReportSummary keeps the report identity, its columns and every summary
// line. Detail rows are omitted.
type ReportSummary struct {
	Name     string          `json:"name"`
	Titles   []string        `json:"titles,omitempty"`
	Date     string          `json:"date,omitempty"`
	Columns  []string        `json:"columns"`
	Sections []ReportSection `json:"sections"`
}

// ReportRow is one flattened detail or summary row.
type ReportRow struct {
	Section string   `json:"section,omitempty"`
	Label   string   `json:"label"`
	Values  []string `json:"values"`
	Summary bool     `json:"summary,omitempty"`
}

// ReportColumns returns the header labels of report. An empty first header
// is named "Account".
func ReportColumns(report XeroReport) []string {
	for _, row := range report.Rows {
		if row.RowType != rowHeader {
			continue
		}
		cols := make([]string, 0, len(row.Cells))
		for i, cell := range row.Cells {
			label := strings.TrimSpace(cell.Value)
			if i == 0 && label == "" {
				label = "Account"
			}
			cols = append(cols, label)
		}
		return cols
	}
	return []string{}
}

// SummarizeReport reduces report to its summary view.
func SummarizeReport(report XeroReport) ReportSummary {
	out := ReportSummary{
		Name:     report.ReportName,
		Titles:   report.ReportTitles,
		Date:     report.ReportDate,
		Columns:  ReportColumns(report),
		Sections: []ReportSection{},
	}
	for _, row := range report.Rows {
		if row.RowType != rowSection {
			continue
		}
		section := ReportSection{Title: row.Title}
		collectTotals(row.Rows, &section)
		if section.Title == "" && len(section.Totals) == 0 {
			continue
		}
		out.Sections = append(out.Sections, section)
	}
	return out
}

func collectTotals(rows []XeroReportRow, section *ReportSection) {
	for _, row := range rows {
		switch row.RowType {
		case rowSummary:
			label, values := splitCells(row.Cells)
			section.Totals = append(section.Totals, ReportTotal{Label: label, Values: values})
		case rowSection:
			collectTotals(row.Rows, section)
		}
	}
}

// FlattenReport returns every detail and summary row in report order.
func FlattenReport(report XeroReport) []ReportRow {
	var out []ReportRow
	var walk func(rows []XeroReportRow, section string)
	walk = func(rows []XeroReportRow, section string) {
		for _, row := range rows {
			switch row.RowType {
			case rowSection:
				title := section
				if row.Title != "" {
					title = row.Title
				}
				walk(row.Rows, title)
			case rowRow, rowSummary:
				label, values := splitCells(row.Cells)
				out = append(out, ReportRow{
					Section: section,
					Label:   label,
					Values:  values,
					Summary: row.RowType == rowSummary,
				})
			}
		}
	}
	walk(report.Rows, "")
	if out == nil {
		out = []ReportRow{}
	}
	return out
}

func splitCells(cells []XeroReportCell) (string, []string) {
	if len(cells) == 0 {
		return "", []string{}
	}
	values := make([]string, 0, len(cells)-1)
	for _, cell := range cells[1:] {
		values = append(values, cell.Value)
	}
	return cells[0].Value, values
}
