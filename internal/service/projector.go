package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gerd-center-server/internal/domain"
)

// RecallQueueProjector produces the recall queue and Barrett's report
// views: filtered, status-annotated, deterministically sorted.
type RecallQueueProjector struct {
	store domain.ClinicalEventStore
	log   *logrus.Logger

	// Now is injectable for deterministic tests.
	Now func() time.Time
}

// NewRecallQueueProjector creates a projector.
func NewRecallQueueProjector(store domain.ClinicalEventStore, logger *logrus.Logger) *RecallQueueProjector {
	return &RecallQueueProjector{
		store: store,
		log:   logger,
		Now:   time.Now,
	}
}

// ProjectRecalls returns the recall queue within the filter window,
// annotated with urgency status and a last-pathology summary per patient.
// Rows sort ascending by recall date, then patient name; overdue rows
// therefore surface first.
func (p *RecallQueueProjector) ProjectRecalls(ctx context.Context, filters domain.RecallFilters) ([]*domain.RecallRow, error) {
	today := dateOnly(p.Now())
	deadline := today.AddDate(0, 0, filters.DueWithinDays)

	joined, err := p.store.ListRecalls(ctx, domain.RecallListCriteria{
		Reason:           filters.Reason,
		IncludeCompleted: filters.IncludeCompleted,
		Deadline:         deadline,
	})
	if err != nil {
		return nil, fmt.Errorf("projecting recalls: %w", err)
	}

	// Per-patient lookups are memoized; the same patient often has
	// several recalls in one report.
	summaries := map[int64]string{}
	barretts := map[int64]bool{}

	var rows []*domain.RecallRow
	for _, j := range joined {
		date := dateOnly(j.Recall.RecallDate)
		if !filters.IncludePastDue && date.Before(today) {
			continue
		}

		if filters.BarrettsOnly {
			has, ok := barretts[j.Patient.ID]
			if !ok {
				has, err = p.store.HasBarrettsHistory(ctx, j.Patient.ID)
				if err != nil {
					return nil, fmt.Errorf("checking Barrett's history: %w", err)
				}
				barretts[j.Patient.ID] = has
			}
			if !has {
				continue
			}
		}

		summary, ok := summaries[j.Patient.ID]
		if !ok {
			summary, err = p.pathologySummary(ctx, j.Patient.ID)
			if err != nil {
				return nil, err
			}
			summaries[j.Patient.ID] = summary
		}

		rows = append(rows, &domain.RecallRow{
			RecallID:         j.Recall.ID,
			PatientID:        j.Patient.ID,
			PatientName:      j.Patient.DisplayName(),
			MRN:              j.Patient.MRN,
			RecallDate:       j.Recall.RecallDate,
			Reason:           j.Recall.Reason,
			Notes:            j.Recall.Notes,
			Completed:        j.Recall.Completed,
			Status:           recallStatus(date, today, deadline, j.Recall.Completed),
			PathologySummary: summary,
		})
	}

	sort.SliceStable(rows, func(i, k int) bool {
		if !rows[i].RecallDate.Equal(rows[k].RecallDate) {
			return rows[i].RecallDate.Before(rows[k].RecallDate)
		}
		return rows[i].PatientName < rows[k].PatientName
	})

	return rows, nil
}

// ProjectBarretts returns the Barrett's surveillance report: one row per
// patient with the authoritative plan, classified against today and the
// filter window. Undecided plans sort first, then ascending due date,
// then patient name.
func (p *RecallQueueProjector) ProjectBarretts(ctx context.Context, filters domain.BarrettsFilters) ([]*domain.BarrettsRow, error) {
	patients, err := p.store.ListBarrettsPatients(ctx)
	if err != nil {
		return nil, fmt.Errorf("projecting Barrett's report: %w", err)
	}

	today := dateOnly(p.Now())
	deadline := today.AddDate(0, 0, filters.DueWithinDays)

	var rows []*domain.BarrettsRow
	for _, pr := range patients {
		status, include := surveillanceStatus(pr.Plan, today, deadline, filters)
		if !include {
			continue
		}

		row := &domain.BarrettsRow{
			PatientID:   pr.Patient.ID,
			PatientName: pr.Patient.DisplayName(),
			MRN:         pr.Patient.MRN,
			DOB:         pr.Patient.DOB,
			Status:      status,
		}
		if pr.Plan != nil {
			row.NextEGDDue = pr.Plan.NextEGDDue
			row.Undecided = pr.Plan.Undecided
		}
		if pr.Pathology != nil {
			row.PathDate = pr.Pathology.PathologyDate
			row.Barretts = pr.Pathology.Barretts
			row.DysplasiaGrade = pr.Pathology.DysplasiaGrade
			row.Notes = pr.Pathology.Notes
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, k int) bool {
		iUndecided := rows[i].Status == domain.SurveillanceUndecided
		kUndecided := rows[k].Status == domain.SurveillanceUndecided
		if iUndecided != kUndecided {
			return iUndecided
		}
		iDue, kDue := rows[i].NextEGDDue, rows[k].NextEGDDue
		switch {
		case iDue != nil && kDue != nil && !iDue.Equal(*kDue):
			return iDue.Before(*kDue)
		case iDue == nil && kDue != nil:
			return false
		case iDue != nil && kDue == nil:
			return true
		}
		return rows[i].PatientName < rows[k].PatientName
	})

	return rows, nil
}

// pathologySummary renders the patient's most recent pathology record as a
// one-line report annotation, or "None" when the patient has no pathology.
// This is the display-only lookup: latest record overall, Barrett's or not.
func (p *RecallQueueProjector) pathologySummary(ctx context.Context, patientID int64) (string, error) {
	rec, err := p.store.LatestPathology(ctx, patientID)
	if errors.Is(err, domain.ErrNotFound) {
		return "None", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading pathology summary: %w", err)
	}

	var parts []string
	if rec.Biopsy {
		parts = append(parts, "Biopsy")
	}
	if rec.EsoPredict {
		parts = append(parts, fmt.Sprintf("EsoPredict (%s)", rec.EsoPredictRisk))
	}
	if rec.TissueCypher {
		parts = append(parts, fmt.Sprintf("TissueCypher (%s)", rec.TissueCypherRisk))
	}
	if rec.Barretts {
		parts = append(parts, "Barrett's")
	}
	if rec.DysplasiaGrade != domain.GradeUnspecified {
		parts = append(parts, rec.DysplasiaGrade.String())
	}
	if rec.Hpylori {
		parts = append(parts, "H. pylori")
	}
	if rec.AtrophicGastritis {
		parts = append(parts, "Atrophic Gastritis")
	}
	if rec.EoE {
		count := "?"
		if rec.EosinophilCount != nil {
			count = fmt.Sprintf("%g", *rec.EosinophilCount)
		}
		parts = append(parts, fmt.Sprintf("EoE (%s eos)", count))
	}

	return domain.FormatDate(rec.PathologyDate) + ": " + strings.Join(parts, ", "), nil
}

// recallStatus classifies a recall against today and the window deadline.
func recallStatus(date, today, deadline time.Time, completed bool) domain.RecallStatus {
	switch {
	case completed:
		return domain.RecallCompleted
	case date.Before(today):
		return domain.RecallOverdue
	case date.Equal(today):
		return domain.RecallDueToday
	case !date.After(deadline):
		return domain.RecallDueSoon
	default:
		return domain.RecallFuture
	}
}

// surveillanceStatus classifies a plan for the Barrett's report and
// reports whether the row is included under the filters. Plans due beyond
// the window are always excluded, matching the report's framing as a
// "what needs attention" view.
func surveillanceStatus(plan *domain.SurveillancePlan, today, deadline time.Time, filters domain.BarrettsFilters) (domain.SurveillanceStatus, bool) {
	if plan == nil {
		return domain.SurveillanceNoPlan, false
	}
	if plan.NextEGDDue != nil {
		due := dateOnly(*plan.NextEGDDue)
		switch {
		case due.Before(today):
			return domain.SurveillancePastDue, filters.IncludePastDue
		case !due.After(deadline):
			return domain.SurveillanceDueSoon, true
		default:
			return domain.SurveillanceFuture, false
		}
	}
	if plan.Undecided {
		return domain.SurveillanceUndecided, filters.IncludeUndecided
	}
	return domain.SurveillanceNoPlan, false
}

// dateOnly maps a time to UTC midnight of its calendar day. Stored dates
// parse as UTC midnight, so classifying against a local-zone "today" would
// shift same-day items across the boundary; all comparisons happen in the
// UTC frame instead.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
