package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gerd-center-server/internal/domain"
)

func newTestProjector(store domain.ClinicalEventStore) *RecallQueueProjector {
	p := NewRecallQueueProjector(store, testLogger())
	p.Now = fixedNow("2025-08-01")
	return p
}

func TestProjectRecallsStatusClassification(t *testing.T) {
	store := newFakeStore()
	pid := store.addPatient(domain.Patient{FirstName: "Ann", LastName: "Ward", MRN: "100"})

	overdue := store.addRecall(domain.Recall{PatientID: pid, RecallDate: testDate("2025-07-20"), Reason: domain.ReasonOfficeVisit})
	today := store.addRecall(domain.Recall{PatientID: pid, RecallDate: testDate("2025-08-01"), Reason: domain.ReasonEndoscopy})
	soon := store.addRecall(domain.Recall{PatientID: pid, RecallDate: testDate("2025-08-15"), Reason: domain.ReasonLabReview})
	done := store.addRecall(domain.Recall{PatientID: pid, RecallDate: testDate("2025-08-10"), Reason: domain.ReasonOther, Completed: true})

	p := newTestProjector(store)
	rows, err := p.ProjectRecalls(context.Background(), domain.RecallFilters{
		DueWithinDays:    30,
		IncludeCompleted: true,
		IncludePastDue:   true,
	})
	require.NoError(t, err)
	require.Len(t, rows, 4)

	byID := map[int64]domain.RecallStatus{}
	for _, row := range rows {
		byID[row.RecallID] = row.Status
	}
	assert.Equal(t, domain.RecallOverdue, byID[overdue])
	assert.Equal(t, domain.RecallDueToday, byID[today])
	assert.Equal(t, domain.RecallDueSoon, byID[soon])
	assert.Equal(t, domain.RecallCompleted, byID[done])

	// Ascending by date puts the overdue row first.
	assert.Equal(t, overdue, rows[0].RecallID)
}

func TestProjectRecallsWindowAndPastDueFilters(t *testing.T) {
	store := newFakeStore()
	pid := store.addPatient(domain.Patient{FirstName: "Ann", LastName: "Ward", MRN: "100"})
	store.addRecall(domain.Recall{PatientID: pid, RecallDate: testDate("2025-07-01"), Reason: domain.ReasonOther})
	inWindow := store.addRecall(domain.Recall{PatientID: pid, RecallDate: testDate("2025-08-20"), Reason: domain.ReasonOther})
	store.addRecall(domain.Recall{PatientID: pid, RecallDate: testDate("2025-12-01"), Reason: domain.ReasonOther})

	p := newTestProjector(store)
	rows, err := p.ProjectRecalls(context.Background(), domain.RecallFilters{
		DueWithinDays:  30,
		IncludePastDue: false,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, inWindow, rows[0].RecallID)
}

func TestProjectRecallsCompletedExcludedByDefault(t *testing.T) {
	store := newFakeStore()
	pid := store.addPatient(domain.Patient{FirstName: "Ann", LastName: "Ward", MRN: "100"})
	store.addRecall(domain.Recall{PatientID: pid, RecallDate: testDate("2025-08-10"), Reason: domain.ReasonOther, Completed: true})

	p := newTestProjector(store)
	rows, err := p.ProjectRecalls(context.Background(), domain.RecallFilters{DueWithinDays: 30, IncludePastDue: true})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestProjectRecallsReasonFilter(t *testing.T) {
	store := newFakeStore()
	pid := store.addPatient(domain.Patient{FirstName: "Ann", LastName: "Ward", MRN: "100"})
	store.addRecall(domain.Recall{PatientID: pid, RecallDate: testDate("2025-08-10"), Reason: domain.ReasonOfficeVisit})
	endo := store.addRecall(domain.Recall{PatientID: pid, RecallDate: testDate("2025-08-12"), Reason: domain.ReasonEndoscopy})

	p := newTestProjector(store)
	rows, err := p.ProjectRecalls(context.Background(), domain.RecallFilters{
		Reason:         domain.ReasonEndoscopy,
		DueWithinDays:  30,
		IncludePastDue: true,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, endo, rows[0].RecallID)
}

func TestProjectRecallsBarrettsOnlySemiJoin(t *testing.T) {
	store := newFakeStore()
	barrettsPID := store.addPatient(domain.Patient{FirstName: "Ann", LastName: "Ward", MRN: "100"})
	otherPID := store.addPatient(domain.Patient{FirstName: "Bob", LastName: "Hale", MRN: "200"})

	// Barrett's history from an old record; a later negative one does not
	// remove the patient from the Barrett's-only view.
	store.addPathology(domain.PathologyRecord{PatientID: barrettsPID, PathologyDate: testDate("2020-01-01"), Barretts: true})
	store.addPathology(domain.PathologyRecord{PatientID: barrettsPID, PathologyDate: testDate("2024-01-01"), Biopsy: true})
	store.addPathology(domain.PathologyRecord{PatientID: otherPID, PathologyDate: testDate("2024-01-01"), Biopsy: true})

	keep := store.addRecall(domain.Recall{PatientID: barrettsPID, RecallDate: testDate("2025-08-10"), Reason: domain.ReasonOfficeVisit})
	store.addRecall(domain.Recall{PatientID: otherPID, RecallDate: testDate("2025-08-11"), Reason: domain.ReasonOfficeVisit})

	p := newTestProjector(store)
	rows, err := p.ProjectRecalls(context.Background(), domain.RecallFilters{
		DueWithinDays:  30,
		IncludePastDue: true,
		BarrettsOnly:   true,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, keep, rows[0].RecallID)
}

func TestProjectRecallsPathologySummary(t *testing.T) {
	store := newFakeStore()
	pid := store.addPatient(domain.Patient{FirstName: "Ann", LastName: "Ward", MRN: "100"})
	count := 42.0
	store.addPathology(domain.PathologyRecord{
		PatientID:       pid,
		PathologyDate:   testDate("2025-03-05"),
		Biopsy:          true,
		EsoPredict:      true,
		EsoPredictRisk:  "Low",
		Barretts:        true,
		DysplasiaGrade:  domain.GradeLowGrade,
		Hpylori:         true,
		EoE:             true,
		EosinophilCount: &count,
	})
	store.addRecall(domain.Recall{PatientID: pid, RecallDate: testDate("2025-08-10"), Reason: domain.ReasonOther})

	p := newTestProjector(store)
	rows, err := p.ProjectRecalls(context.Background(), domain.RecallFilters{DueWithinDays: 30, IncludePastDue: true})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t,
		"2025-03-05: Biopsy, EsoPredict (Low), Barrett's, Low Grade, H. pylori, EoE (42 eos)",
		rows[0].PathologySummary)
}

func TestProjectRecallsSummaryNoneWithoutPathology(t *testing.T) {
	store := newFakeStore()
	pid := store.addPatient(domain.Patient{FirstName: "Ann", LastName: "Ward", MRN: "100"})
	store.addRecall(domain.Recall{PatientID: pid, RecallDate: testDate("2025-08-10"), Reason: domain.ReasonOther})

	p := newTestProjector(store)
	rows, err := p.ProjectRecalls(context.Background(), domain.RecallFilters{DueWithinDays: 30, IncludePastDue: true})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "None", rows[0].PathologySummary)
}

func TestProjectBarrettsClassificationAndSort(t *testing.T) {
	store := newFakeStore()

	pastDuePID := store.addPatient(domain.Patient{FirstName: "Ann", LastName: "Ward", MRN: "100"})
	dueSoonPID := store.addPatient(domain.Patient{FirstName: "Bob", LastName: "Hale", MRN: "200"})
	undecidedPID := store.addPatient(domain.Patient{FirstName: "Cam", LastName: "Diaz", MRN: "300"})
	futurePID := store.addPatient(domain.Patient{FirstName: "Dee", LastName: "Kohl", MRN: "400"})

	for _, pid := range []int64{pastDuePID, dueSoonPID, undecidedPID, futurePID} {
		store.addPathology(domain.PathologyRecord{PatientID: pid, PathologyDate: testDate("2024-01-01"), Barretts: true})
	}

	store.addPlan(domain.SurveillancePlan{PatientID: pastDuePID, NextEGDDue: datePtr("2025-06-01"), LastModified: testDate("2025-01-01")})
	store.addPlan(domain.SurveillancePlan{PatientID: dueSoonPID, NextEGDDue: datePtr("2025-09-01"), LastModified: testDate("2025-01-01")})
	store.addPlan(domain.SurveillancePlan{PatientID: undecidedPID, Undecided: true, LastModified: testDate("2025-01-01")})
	store.addPlan(domain.SurveillancePlan{PatientID: futurePID, NextEGDDue: datePtr("2026-08-01"), LastModified: testDate("2025-01-01")})

	p := newTestProjector(store)
	rows, err := p.ProjectBarretts(context.Background(), domain.BarrettsFilters{
		DueWithinDays:    90,
		IncludePastDue:   true,
		IncludeUndecided: true,
	})
	require.NoError(t, err)

	// The beyond-window plan is excluded; undecided sorts first, then by
	// ascending due date.
	require.Len(t, rows, 3)
	assert.Equal(t, undecidedPID, rows[0].PatientID)
	assert.Equal(t, domain.SurveillanceUndecided, rows[0].Status)
	assert.Equal(t, pastDuePID, rows[1].PatientID)
	assert.Equal(t, domain.SurveillancePastDue, rows[1].Status)
	assert.Equal(t, dueSoonPID, rows[2].PatientID)
	assert.Equal(t, domain.SurveillanceDueSoon, rows[2].Status)
}

func TestProjectBarrettsFilterToggles(t *testing.T) {
	store := newFakeStore()
	pastDuePID := store.addPatient(domain.Patient{FirstName: "Ann", LastName: "Ward", MRN: "100"})
	undecidedPID := store.addPatient(domain.Patient{FirstName: "Cam", LastName: "Diaz", MRN: "300"})
	store.addPathology(domain.PathologyRecord{PatientID: pastDuePID, PathologyDate: testDate("2024-01-01"), Barretts: true})
	store.addPathology(domain.PathologyRecord{PatientID: undecidedPID, PathologyDate: testDate("2024-01-01"), Barretts: true})
	store.addPlan(domain.SurveillancePlan{PatientID: pastDuePID, NextEGDDue: datePtr("2025-06-01"), LastModified: testDate("2025-01-01")})
	store.addPlan(domain.SurveillancePlan{PatientID: undecidedPID, Undecided: true, LastModified: testDate("2025-01-01")})

	p := newTestProjector(store)
	rows, err := p.ProjectBarretts(context.Background(), domain.BarrettsFilters{
		DueWithinDays:    90,
		IncludePastDue:   false,
		IncludeUndecided: false,
	})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestProjectBarrettsDisplayRecordPrefersBarrettsPositive(t *testing.T) {
	store := newFakeStore()
	pid := store.addPatient(domain.Patient{FirstName: "Ann", LastName: "Ward", MRN: "100"})
	store.addPathology(domain.PathologyRecord{
		PatientID:      pid,
		PathologyDate:  testDate("2023-01-01"),
		Barretts:       true,
		DysplasiaGrade: domain.GradeNGIM,
	})
	// The newer negative record is the latest overall but must not replace
	// the Barrett's-positive record in the report row.
	store.addPathology(domain.PathologyRecord{PatientID: pid, PathologyDate: testDate("2025-01-01"), Biopsy: true})
	store.addPlan(domain.SurveillancePlan{PatientID: pid, NextEGDDue: datePtr("2025-09-01"), LastModified: testDate("2025-01-01")})

	p := newTestProjector(store)
	rows, err := p.ProjectBarretts(context.Background(), domain.BarrettsFilters{DueWithinDays: 90})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Barretts)
	assert.Equal(t, testDate("2023-01-01"), rows[0].PathDate)
	assert.Equal(t, domain.GradeNGIM, rows[0].DysplasiaGrade)
}

func TestProjectRecallsTodayInNonUTCZone(t *testing.T) {
	store := newFakeStore()
	pid := store.addPatient(domain.Patient{FirstName: "Ann", LastName: "Ward", MRN: "100"})
	id := store.addRecall(domain.Recall{PatientID: pid, RecallDate: testDate("2025-08-01"), Reason: domain.ReasonOther})

	// Stored dates parse as UTC midnight; a clock west of UTC on the same
	// calendar day must still classify the recall as due today, not overdue.
	p := NewRecallQueueProjector(store, testLogger())
	p.Now = func() time.Time {
		return time.Date(2025, 8, 1, 10, 0, 0, 0, time.FixedZone("EST", -5*3600))
	}

	rows, err := p.ProjectRecalls(context.Background(), domain.RecallFilters{DueWithinDays: 30})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0].RecallID)
	assert.Equal(t, domain.RecallDueToday, rows[0].Status)
}

func TestProjectBarrettsTodayInNonUTCZone(t *testing.T) {
	store := newFakeStore()
	pid := store.addPatient(domain.Patient{FirstName: "Ann", LastName: "Ward", MRN: "100"})
	store.addPlan(domain.SurveillancePlan{PatientID: pid, NextEGDDue: datePtr("2025-08-01"), LastModified: testDate("2025-01-01")})

	p := NewRecallQueueProjector(store, testLogger())
	p.Now = func() time.Time {
		return time.Date(2025, 8, 1, 10, 0, 0, 0, time.FixedZone("EST", -5*3600))
	}

	// A plan due today is in the window even when past-due rows are excluded.
	rows, err := p.ProjectBarretts(context.Background(), domain.BarrettsFilters{DueWithinDays: 90})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.SurveillanceDueSoon, rows[0].Status)
}

func TestProjectBarrettsDeterministicOrder(t *testing.T) {
	store := newFakeStore()
	due := datePtr("2025-09-01")
	for _, name := range []struct{ first, last, mrn string }{
		{"Bob", "Hale", "200"},
		{"Ann", "Ward", "100"},
		{"Cam", "Hale", "300"},
	} {
		pid := store.addPatient(domain.Patient{FirstName: name.first, LastName: name.last, MRN: name.mrn})
		store.addPlan(domain.SurveillancePlan{PatientID: pid, NextEGDDue: due, LastModified: testDate("2025-01-01")})
	}

	p := newTestProjector(store)
	for i := 0; i < 3; i++ {
		rows, err := p.ProjectBarretts(context.Background(), domain.BarrettsFilters{DueWithinDays: 90})
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "Hale, Bob", rows[0].PatientName)
		assert.Equal(t, "Hale, Cam", rows[1].PatientName)
		assert.Equal(t, "Ward, Ann", rows[2].PatientName)
	}
}
