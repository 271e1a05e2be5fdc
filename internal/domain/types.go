// Package domain contains the core entities and types for the GERD center
// patient-records engine: pathology findings, Barrett's surveillance plans,
// and recall reminders.
package domain

import "time"

// DateLayout is the day-precision layout used for all clinical dates.
const DateLayout = "2006-01-02"

// DysplasiaGrade represents the dysplasia grade recorded on a Barrett's
// pathology result. Grades are stored as text in the backing store, so an
// unrecognized value is possible and must not crash interval derivation.
type DysplasiaGrade string

const (
	GradeUnspecified   DysplasiaGrade = ""
	GradeNGIM          DysplasiaGrade = "NGIM"
	GradeNoDysplasia   DysplasiaGrade = "No Dysplasia"
	GradeIndeterminate DysplasiaGrade = "Indeterminate"
	GradeLowGrade      DysplasiaGrade = "Low Grade"
	GradeHighGrade     DysplasiaGrade = "High Grade"
)

// IsValid reports whether the grade is one of the recognized values.
// The empty grade is valid: Barrett's without a recorded grade is common.
func (g DysplasiaGrade) IsValid() bool {
	switch g {
	case GradeUnspecified, GradeNGIM, GradeNoDysplasia, GradeIndeterminate, GradeLowGrade, GradeHighGrade:
		return true
	default:
		return false
	}
}

// String returns the string representation of the grade.
func (g DysplasiaGrade) String() string {
	return string(g)
}

// RecallReason represents why a patient is being recalled.
type RecallReason string

const (
	ReasonOfficeVisit          RecallReason = "Office Visit"
	ReasonEndoscopy            RecallReason = "Endoscopy"
	ReasonBarrettsSurveillance RecallReason = "Barrett's Surveillance"
	ReasonSurveillanceForm     RecallReason = "Surveillance Form"
	ReasonPostOpFollowUp       RecallReason = "Post-Op Follow-Up"
	ReasonLabReview            RecallReason = "Lab Review"
	ReasonOther                RecallReason = "Other"
)

// IsValid reports whether the reason is one of the recognized values.
func (r RecallReason) IsValid() bool {
	switch r {
	case ReasonOfficeVisit, ReasonEndoscopy, ReasonBarrettsSurveillance,
		ReasonSurveillanceForm, ReasonPostOpFollowUp, ReasonLabReview, ReasonOther:
		return true
	default:
		return false
	}
}

// String returns the string representation of the reason.
func (r RecallReason) String() string {
	return string(r)
}

// RecallStatus is the derived urgency of a recall relative to "today" and
// the report window. It is computed on demand and never persisted.
type RecallStatus string

const (
	RecallOverdue   RecallStatus = "Overdue"
	RecallDueToday  RecallStatus = "Due Today"
	RecallDueSoon   RecallStatus = "Due Soon"
	RecallFuture    RecallStatus = "Future"
	RecallCompleted RecallStatus = "Completed"
)

// String returns the string representation of the status.
func (s RecallStatus) String() string {
	return string(s)
}

// SortRank returns the sort priority of the status, lowest first.
// Overdue items always surface at the top of active views.
func (s RecallStatus) SortRank() int {
	switch s {
	case RecallOverdue:
		return 0
	case RecallDueToday:
		return 1
	case RecallDueSoon:
		return 2
	case RecallFuture:
		return 3
	default:
		return 4
	}
}

// SurveillanceStatus is the derived state of a patient's surveillance plan
// relative to "today". Computed on demand, never persisted.
type SurveillanceStatus string

const (
	SurveillancePastDue   SurveillanceStatus = "Past due"
	SurveillanceDueSoon   SurveillanceStatus = "Due soon"
	SurveillanceFuture    SurveillanceStatus = "Future"
	SurveillanceUndecided SurveillanceStatus = "Undecided"
	SurveillanceNoPlan    SurveillanceStatus = "No plan"
)

// String returns the string representation of the status.
func (s SurveillanceStatus) String() string {
	return string(s)
}

// ReferralSource represents how a patient was referred to the center.
type ReferralSource string

const (
	ReferralSelf      ReferralSource = "Self"
	ReferralPhysician ReferralSource = "Physician"
	ReferralPatient   ReferralSource = "Patient"
	ReferralOther     ReferralSource = "Other"
)

// FormatDate renders a clinical date, or the empty string for the zero time.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

// ParseDate parses a clinical date in the canonical layout.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}
