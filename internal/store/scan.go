// Package store provides the persistence implementations backing the
// clinical event store: a file-backed SQLite store (the deployment
// default) and a PostgreSQL store for shared deployments.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/gerd-center-server/internal/domain"
)

// scanner is an interface for sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// parseStoredDate converts a stored TEXT date into a time.Time. The empty
// string maps to the zero time; legacy rows may carry blanks.
func parseStoredDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := domain.ParseDate(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed stored date %q: %w", s, err)
	}
	return t, nil
}

// scanPatient scans a patient row in column order.
func scanPatient(s scanner) (*domain.Patient, error) {
	p := &domain.Patient{}
	var dob, consult, source string

	err := s.Scan(
		&p.ID, &p.FirstName, &p.LastName, &p.MRN, &p.Gender,
		&dob, &p.ZipCode, &p.BMI, &source, &p.ReferralDetails, &consult,
	)
	if err != nil {
		return nil, err
	}

	p.ReferralSource = domain.ReferralSource(source)
	if p.DOB, err = parseStoredDate(dob); err != nil {
		return nil, err
	}
	if p.InitialConsultDate, err = parseStoredDate(consult); err != nil {
		return nil, err
	}
	return p, nil
}

// scanPathology scans a pathology row in column order.
func scanPathology(s scanner) (*domain.PathologyRecord, error) {
	rec := &domain.PathologyRecord{}
	var date, grade string
	var count sql.NullFloat64

	err := s.Scan(
		&rec.ID, &rec.PatientID, &date,
		&rec.Biopsy, &rec.WATS3D, &rec.EsoPredict, &rec.TissueCypher,
		&rec.Barretts, &grade, &rec.EoE, &count,
		&rec.Hpylori, &rec.AtrophicGastritis,
		&rec.OtherFinding, &rec.EsoPredictRisk, &rec.TissueCypherRisk, &rec.Notes,
	)
	if err != nil {
		return nil, err
	}

	rec.DysplasiaGrade = domain.DysplasiaGrade(grade)
	if count.Valid {
		rec.EosinophilCount = &count.Float64
	}
	if rec.PathologyDate, err = parseStoredDate(date); err != nil {
		return nil, err
	}
	return rec, nil
}

// scanDiagnostic scans a diagnostics row in column order.
func scanDiagnostic(s scanner) (*domain.DiagnosticRecord, error) {
	rec := &domain.DiagnosticRecord{}
	var date string

	if err := s.Scan(&rec.ID, &rec.PatientID, &date, &rec.Endoscopy, &rec.Findings); err != nil {
		return nil, err
	}

	var err error
	if rec.TestDate, err = parseStoredDate(date); err != nil {
		return nil, err
	}
	return rec, nil
}

// scanSurgical scans a surgical-history row in column order.
func scanSurgical(s scanner) (*domain.SurgicalRecord, error) {
	rec := &domain.SurgicalRecord{}
	var date string

	if err := s.Scan(&rec.ID, &rec.PatientID, &date, &rec.Surgeon, &rec.Procedures, &rec.Notes); err != nil {
		return nil, err
	}

	var err error
	if rec.SurgeryDate, err = parseStoredDate(date); err != nil {
		return nil, err
	}
	return rec, nil
}

// scanPlan scans a surveillance-plan row in column order.
func scanPlan(s scanner) (*domain.SurveillancePlan, error) {
	plan := &domain.SurveillancePlan{}
	var due, modified string

	if err := s.Scan(&plan.ID, &plan.PatientID, &due, &plan.Undecided, &modified); err != nil {
		return nil, err
	}

	if due != "" {
		t, err := parseStoredDate(due)
		if err != nil {
			return nil, err
		}
		plan.NextEGDDue = &t
	}
	var err error
	if plan.LastModified, err = parseStoredDate(modified); err != nil {
		return nil, err
	}
	return plan, nil
}

// scanRecall scans a recall row in column order.
func scanRecall(s scanner) (*domain.Recall, error) {
	rec := &domain.Recall{}
	var date, reason string
	var origin sql.NullInt64

	err := s.Scan(&rec.ID, &rec.PatientID, &date, &reason, &rec.Notes, &rec.Completed, &origin)
	if err != nil {
		return nil, err
	}

	rec.Reason = domain.RecallReason(reason)
	if origin.Valid {
		rec.OriginPlanID = &origin.Int64
	}
	if rec.RecallDate, err = parseStoredDate(date); err != nil {
		return nil, err
	}
	return rec, nil
}

// scanRecallJoin scans a recall row followed by its patient row.
func scanRecallJoin(s scanner) (*domain.RecallJoinRow, error) {
	row := &domain.RecallJoinRow{}
	var recallDate, reason, dob, consult, source string
	var origin sql.NullInt64

	err := s.Scan(
		&row.Recall.ID, &row.Recall.PatientID, &recallDate, &reason,
		&row.Recall.Notes, &row.Recall.Completed, &origin,
		&row.Patient.ID, &row.Patient.FirstName, &row.Patient.LastName,
		&row.Patient.MRN, &row.Patient.Gender, &dob,
		&row.Patient.ZipCode, &row.Patient.BMI, &source,
		&row.Patient.ReferralDetails, &consult,
	)
	if err != nil {
		return nil, err
	}

	row.Recall.Reason = domain.RecallReason(reason)
	if origin.Valid {
		row.Recall.OriginPlanID = &origin.Int64
	}
	row.Patient.ReferralSource = domain.ReferralSource(source)
	if row.Recall.RecallDate, err = parseStoredDate(recallDate); err != nil {
		return nil, err
	}
	if row.Patient.DOB, err = parseStoredDate(dob); err != nil {
		return nil, err
	}
	if row.Patient.InitialConsultDate, err = parseStoredDate(consult); err != nil {
		return nil, err
	}
	return row, nil
}

// scanBarrettsPatient scans a patient row with its (possibly absent)
// authoritative plan and display pathology columns.
func scanBarrettsPatient(s scanner) (*domain.BarrettsPatientRow, error) {
	row := &domain.BarrettsPatientRow{}
	var dob, consult, source string
	var planID sql.NullInt64
	var planDue, planModified sql.NullString
	var planUndecided sql.NullBool
	var pathID sql.NullInt64
	var pathDate, pathGrade, pathNotes sql.NullString
	var pathBarretts sql.NullBool

	err := s.Scan(
		&row.Patient.ID, &row.Patient.FirstName, &row.Patient.LastName,
		&row.Patient.MRN, &row.Patient.Gender, &dob,
		&row.Patient.ZipCode, &row.Patient.BMI, &source,
		&row.Patient.ReferralDetails, &consult,
		&planID, &planDue, &planUndecided, &planModified,
		&pathID, &pathDate, &pathBarretts, &pathGrade, &pathNotes,
	)
	if err != nil {
		return nil, err
	}

	row.Patient.ReferralSource = domain.ReferralSource(source)
	if row.Patient.DOB, err = parseStoredDate(dob); err != nil {
		return nil, err
	}
	if row.Patient.InitialConsultDate, err = parseStoredDate(consult); err != nil {
		return nil, err
	}

	if planID.Valid {
		plan := &domain.SurveillancePlan{
			ID:        planID.Int64,
			PatientID: row.Patient.ID,
			Undecided: planUndecided.Bool,
		}
		if planDue.String != "" {
			t, err := parseStoredDate(planDue.String)
			if err != nil {
				return nil, err
			}
			plan.NextEGDDue = &t
		}
		if plan.LastModified, err = parseStoredDate(planModified.String); err != nil {
			return nil, err
		}
		row.Plan = plan
	}

	if pathID.Valid {
		path := &domain.PathologyRecord{
			ID:             pathID.Int64,
			PatientID:      row.Patient.ID,
			Barretts:       pathBarretts.Bool,
			DysplasiaGrade: domain.DysplasiaGrade(pathGrade.String),
			Notes:          pathNotes.String,
		}
		if path.PathologyDate, err = parseStoredDate(pathDate.String); err != nil {
			return nil, err
		}
		row.Pathology = path
	}

	return row, nil
}

// nextEGDDueText renders a plan's due date for storage; undecided plans and
// plans without a date store the empty string.
func nextEGDDueText(plan *domain.SurveillancePlan) string {
	if plan.NextEGDDue == nil {
		return ""
	}
	return domain.FormatDate(*plan.NextEGDDue)
}

// originPlanValue renders a recall's origin plan id as a nullable column.
func originPlanValue(rec *domain.Recall) interface{} {
	if rec.OriginPlanID == nil {
		return nil
	}
	return *rec.OriginPlanID
}
