// Package report renders the recall queue and Barrett's report as CSV or
// XLSX for export.
package report

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/tealeg/xlsx"

	"github.com/gerd-center-server/internal/domain"
)

var recallHeader = []string{
	"Name", "MRN", "Recall Date", "Reason", "Status", "Notes", "Last Pathology",
}

var barrettsHeader = []string{
	"Name", "MRN", "DOB", "Next EGD Due", "Status", "Pathology Date", "Dysplasia Grade",
}

func recallValues(row *domain.RecallRow) []string {
	return []string{
		row.PatientName,
		row.MRN,
		domain.FormatDate(row.RecallDate),
		row.Reason.String(),
		row.Status.String(),
		row.Notes,
		row.PathologySummary,
	}
}

func barrettsValues(row *domain.BarrettsRow) []string {
	due := "Undecided"
	if row.NextEGDDue != nil {
		due = domain.FormatDate(*row.NextEGDDue)
	}
	// Pathology date shows as Unknown when the display record is not
	// Barrett's-positive; the date would otherwise overstate certainty.
	pathDate := "Unknown"
	if row.Barretts {
		pathDate = domain.FormatDate(row.PathDate)
	}
	return []string{
		row.PatientName,
		row.MRN,
		domain.FormatDate(row.DOB),
		due,
		row.Status.String(),
		pathDate,
		row.DysplasiaGrade.String(),
	}
}

// WriteRecallCSV writes the recall queue as CSV.
func WriteRecallCSV(w io.Writer, rows []*domain.RecallRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(recallHeader); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(recallValues(row)); err != nil {
			return fmt.Errorf("writing CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteBarrettsCSV writes the Barrett's report as CSV.
func WriteBarrettsCSV(w io.Writer, rows []*domain.BarrettsRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(barrettsHeader); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(barrettsValues(row)); err != nil {
			return fmt.Errorf("writing CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteRecallXLSX writes the recall queue as an XLSX workbook.
func WriteRecallXLSX(w io.Writer, rows []*domain.RecallRow) error {
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, recallValues(row))
	}
	return writeSheet(w, "Recall Queue", recallHeader, records)
}

// WriteBarrettsXLSX writes the Barrett's report as an XLSX workbook.
func WriteBarrettsXLSX(w io.Writer, rows []*domain.BarrettsRow) error {
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, barrettsValues(row))
	}
	return writeSheet(w, "Barretts Report", barrettsHeader, records)
}

func writeSheet(w io.Writer, name string, header []string, records [][]string) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet(name)
	if err != nil {
		return fmt.Errorf("adding sheet: %w", err)
	}

	hr := sheet.AddRow()
	for _, col := range header {
		hr.AddCell().SetString(col)
	}
	for _, record := range records {
		row := sheet.AddRow()
		for _, value := range record {
			// SetString keeps numeric-looking MRNs as text.
			row.AddCell().SetString(value)
		}
	}

	if err := file.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}
