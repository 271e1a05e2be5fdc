package domain

import (
	"time"
)

// Core Data Models

// Patient identifies a clinic patient. The engine only reads the reference;
// patient lifecycle is owned by the records UI.
type Patient struct {
	ID                 int64          `json:"id"`
	FirstName          string         `json:"first_name"`
	LastName           string         `json:"last_name"`
	MRN                string         `json:"mrn"`
	Gender             string         `json:"gender,omitempty"`
	DOB                time.Time      `json:"dob,omitempty"`
	ZipCode            string         `json:"zip_code,omitempty"`
	BMI                string         `json:"bmi,omitempty"`
	ReferralSource     ReferralSource `json:"referral_source,omitempty"`
	ReferralDetails    string         `json:"referral_details,omitempty"`
	InitialConsultDate time.Time      `json:"initial_consult_date,omitempty"`
}

// DisplayName returns the "Last, First" form used in lists and reports.
func (p *Patient) DisplayName() string {
	return p.LastName + ", " + p.FirstName
}

// PathologyRecord is one pathology result for a patient. Boolean flags
// mirror the checkbox columns of the original records store; the dysplasia
// grade is meaningful only when the Barrett's flag is set.
type PathologyRecord struct {
	ID                int64          `json:"id"`
	PatientID         int64          `json:"patient_id"`
	PathologyDate     time.Time      `json:"pathology_date"`
	Biopsy            bool           `json:"biopsy"`
	WATS3D            bool           `json:"wats3d"`
	EsoPredict        bool           `json:"esopredict"`
	TissueCypher      bool           `json:"tissuecypher"`
	Barretts          bool           `json:"barretts"`
	DysplasiaGrade    DysplasiaGrade `json:"dysplasia_grade,omitempty"`
	EoE               bool           `json:"eoe"`
	EosinophilCount   *float64       `json:"eosinophil_count,omitempty"`
	Hpylori           bool           `json:"hpylori"`
	AtrophicGastritis bool           `json:"atrophic_gastritis"`
	OtherFinding      string         `json:"other_finding,omitempty"`
	EsoPredictRisk    string         `json:"esopredict_risk,omitempty"`
	TissueCypherRisk  string         `json:"tissuecypher_risk,omitempty"`
	Notes             string         `json:"notes,omitempty"`
}

// DiagnosticRecord is one diagnostic workup entry. The engine only consumes
// the endoscopy flag and date (for the "last EGD" surveillance context).
type DiagnosticRecord struct {
	ID        int64     `json:"id"`
	PatientID int64     `json:"patient_id"`
	TestDate  time.Time `json:"test_date"`
	Endoscopy bool      `json:"endoscopy"`
	Findings  string    `json:"findings,omitempty"`
}

// SurgicalRecord is one surgical-history entry.
type SurgicalRecord struct {
	ID          int64     `json:"id"`
	PatientID   int64     `json:"patient_id"`
	SurgeryDate time.Time `json:"surgery_date"`
	Surgeon     string    `json:"surgeon,omitempty"`
	Procedures  string    `json:"procedures,omitempty"`
	Notes       string    `json:"notes,omitempty"`
}

// SurveillancePlan is one surveillance decision for a patient. Plans are
// append-only: saving always inserts a new row and the most recently
// modified row is authoritative for status display.
type SurveillancePlan struct {
	ID           int64      `json:"id"`
	PatientID    int64      `json:"patient_id"`
	NextEGDDue   *time.Time `json:"next_egd_due,omitempty"`
	Undecided    bool       `json:"undecided"`
	LastModified time.Time  `json:"last_modified"`
}

// Recall is a reminder to bring a patient back. OriginPlanID is set on
// recalls auto-created from a surveillance plan so the linkage survives
// date edits; legacy rows are matched by (patient, date, Endoscopy).
type Recall struct {
	ID           int64        `json:"id"`
	PatientID    int64        `json:"patient_id"`
	RecallDate   time.Time    `json:"recall_date"`
	Reason       RecallReason `json:"reason"`
	Notes        string       `json:"notes,omitempty"`
	Completed    bool         `json:"completed"`
	OriginPlanID *int64       `json:"origin_plan_id,omitempty"`
}

// Derived Models (never persisted)

// BarrettStatus is a patient's current Barrett's state, derived from the
// most recent Barrett's-positive pathology record. A later negative record
// does not clear the status: Barrett's does not resolve.
type BarrettStatus struct {
	PatientID           int64          `json:"patient_id"`
	HasBarretts         bool           `json:"has_barretts"`
	PathologyID         int64          `json:"pathology_id,omitempty"`
	LatestPathologyDate time.Time      `json:"latest_pathology_date,omitempty"`
	DysplasiaGrade      DysplasiaGrade `json:"dysplasia_grade,omitempty"`
}

// IntervalAdvice is a recommended next-surveillance interval. The advice
// pre-fills a date picker; it is never silently enforced.
type IntervalAdvice struct {
	Months int    `json:"months"`
	Label  string `json:"label"`
}

// Request/Result Models

// PlanSaveInput carries a surveillance-plan save request. CreateRecall is
// the caller's answer to the "also create a recall?" prompt; the engine
// never prompts.
type PlanSaveInput struct {
	PatientID    int64      `json:"patient_id"`
	NextEGDDue   *time.Time `json:"next_egd_due,omitempty"`
	Undecided    bool       `json:"undecided"`
	CreateRecall bool       `json:"create_recall"`
}

// PlanSaveResult reports what a plan save wrote.
type PlanSaveResult struct {
	PlanID        int64 `json:"plan_id"`
	RecallCreated bool  `json:"recall_created"`
	RecallID      int64 `json:"recall_id,omitempty"`
}

// PlanDeleteResult reports what a plan delete did. LinkedRecall is the
// recall found to be associated with the deleted plan, whether or not it
// was deleted; callers use it to drive the optional-delete prompt.
type PlanDeleteResult struct {
	PlanDeleted   bool    `json:"plan_deleted"`
	LinkedRecall  *Recall `json:"linked_recall,omitempty"`
	RecallDeleted bool    `json:"recall_deleted"`
}

// RecallFilters selects and windows recalls for the recall queue report.
// An empty Reason means all reasons.
type RecallFilters struct {
	Reason           RecallReason `json:"reason,omitempty"`
	DueWithinDays    int          `json:"due_within_days"`
	IncludeCompleted bool         `json:"include_completed"`
	IncludePastDue   bool         `json:"include_past_due"`
	BarrettsOnly     bool         `json:"barretts_only"`
}

// RecallRow is one projected row of the recall queue report.
type RecallRow struct {
	RecallID         int64        `json:"recall_id"`
	PatientID        int64        `json:"patient_id"`
	PatientName      string       `json:"patient_name"`
	MRN              string       `json:"mrn"`
	RecallDate       time.Time    `json:"recall_date"`
	Reason           RecallReason `json:"reason"`
	Notes            string       `json:"notes,omitempty"`
	Completed        bool         `json:"completed"`
	Status           RecallStatus `json:"status"`
	PathologySummary string       `json:"pathology_summary"`
}

// BarrettsFilters selects rows for the Barrett's surveillance report.
type BarrettsFilters struct {
	DueWithinDays    int  `json:"due_within_days"`
	IncludePastDue   bool `json:"include_past_due"`
	IncludeUndecided bool `json:"include_undecided"`
}

// BarrettsRow is one projected row of the Barrett's report. PathDate is
// the latest Barrett's-positive pathology date when one exists; otherwise
// the latest pathology overall is shown for context and Barretts is false.
type BarrettsRow struct {
	PatientID      int64              `json:"patient_id"`
	PatientName    string             `json:"patient_name"`
	MRN            string             `json:"mrn"`
	DOB            time.Time          `json:"dob,omitempty"`
	NextEGDDue     *time.Time         `json:"next_egd_due,omitempty"`
	Undecided      bool               `json:"undecided"`
	Status         SurveillanceStatus `json:"status"`
	PathDate       time.Time          `json:"path_date,omitempty"`
	Barretts       bool               `json:"barretts"`
	DysplasiaGrade DysplasiaGrade     `json:"dysplasia_grade,omitempty"`
	Notes          string             `json:"notes,omitempty"`
}

// SurveillanceContext is the advisory header for the surveillance screen:
// the patient's Barrett's status, last EGD, and the derived recommendation.
type SurveillanceContext struct {
	Status        BarrettStatus       `json:"status"`
	LastEndoscopy *DiagnosticRecord   `json:"last_endoscopy,omitempty"`
	Advice        *IntervalAdvice     `json:"advice,omitempty"`
	Plans         []*SurveillancePlan `json:"plans"`
}

// RecallListCriteria narrows the store-level recall join. Zero values mean
// no constraint; Deadline is inclusive.
type RecallListCriteria struct {
	Reason           RecallReason
	IncludeCompleted bool
	Deadline         time.Time
}

// BarrettsPatientRow is the raw store join feeding the Barrett's report:
// one row per patient with the authoritative (most recently modified)
// surveillance plan and the pathology record chosen for display.
type BarrettsPatientRow struct {
	Patient   Patient
	Plan      *SurveillancePlan
	Pathology *PathologyRecord
}
