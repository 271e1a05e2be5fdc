package report

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx"

	"github.com/gerd-center-server/internal/domain"
)

func date(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := domain.ParseDate(s)
	require.NoError(t, err)
	return parsed
}

func sampleRecallRows(t *testing.T) []*domain.RecallRow {
	return []*domain.RecallRow{
		{
			RecallID:         1,
			PatientID:        10,
			PatientName:      "Ward, Ann",
			MRN:              "MRN-100",
			RecallDate:       date(t, "2025-07-20"),
			Reason:           domain.ReasonEndoscopy,
			Notes:            "auto",
			Status:           domain.RecallOverdue,
			PathologySummary: "2025-03-05: Biopsy, Barrett's",
		},
		{
			RecallID:    2,
			PatientID:   11,
			PatientName: "Hale, Bob",
			MRN:         "MRN-200",
			RecallDate:  date(t, "2025-08-15"),
			Reason:      domain.ReasonOfficeVisit,
			Status:      domain.RecallDueSoon,
		},
	}
}

func TestWriteRecallCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRecallCSV(&buf, sampleRecallRows(t)))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, recallHeader, records[0])
	assert.Equal(t, []string{
		"Ward, Ann", "MRN-100", "2025-07-20", "Endoscopy", "Overdue", "auto",
		"2025-03-05: Biopsy, Barrett's",
	}, records[1])
	assert.Equal(t, "Hale, Bob", records[2][0])
}

func TestWriteBarrettsCSV(t *testing.T) {
	due := date(t, "2025-09-01")
	rows := []*domain.BarrettsRow{
		{
			PatientName:    "Ward, Ann",
			MRN:            "MRN-100",
			DOB:            date(t, "1960-04-12"),
			NextEGDDue:     &due,
			Status:         domain.SurveillanceDueSoon,
			PathDate:       date(t, "2023-01-01"),
			Barretts:       true,
			DysplasiaGrade: domain.GradeNGIM,
		},
		{
			PatientName: "Hale, Bob",
			MRN:         "MRN-200",
			Undecided:   true,
			Status:      domain.SurveillanceUndecided,
			PathDate:    date(t, "2024-06-01"),
			Barretts:    false,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteBarrettsCSV(&buf, rows))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, barrettsHeader, records[0])
	assert.Equal(t, []string{
		"Ward, Ann", "MRN-100", "1960-04-12", "2025-09-01", "Due soon", "2023-01-01", "NGIM",
	}, records[1])
	// No due date renders as Undecided; a non-Barrett's display record
	// renders its date as Unknown.
	assert.Equal(t, "Undecided", records[2][3])
	assert.Equal(t, "Unknown", records[2][5])
}

func TestWriteRecallXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRecallXLSX(&buf, sampleRecallRows(t)))

	file, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, file.Sheets, 1)
	sheet := file.Sheets[0]
	assert.Equal(t, "Recall Queue", sheet.Name)
	require.Len(t, sheet.Rows, 3)
	assert.Equal(t, "Name", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, "Ward, Ann", sheet.Rows[1].Cells[0].String())
	assert.Equal(t, "MRN-200", sheet.Rows[2].Cells[1].String())
}

func TestWriteEmptyReports(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRecallCSV(&buf, nil))
	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 1)

	buf.Reset()
	require.NoError(t, WriteBarrettsXLSX(&buf, nil))
	file, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, file.Sheets, 1)
	assert.Len(t, file.Sheets[0].Rows, 1)
}
