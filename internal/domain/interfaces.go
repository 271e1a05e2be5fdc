package domain

import (
	"context"
	"time"
)

// ClinicalEventStore is the narrow persistence interface the engine reads
// and writes through. Implementations live in internal/store.
type ClinicalEventStore interface {
	// Patients
	SearchPatients(ctx context.Context, term string) ([]*Patient, error)
	GetPatient(ctx context.Context, id int64) (*Patient, error)
	InsertPatient(ctx context.Context, p *Patient) (int64, error)
	DeletePatient(ctx context.Context, id int64) error

	// Pathology, ordered by date descending.
	ListPathology(ctx context.Context, patientID int64) ([]*PathologyRecord, error)
	// LatestPathology returns the most recent record of any kind. It exists
	// for display summaries only; Barrett's status derivation must use
	// LatestBarrettsPathology.
	LatestPathology(ctx context.Context, patientID int64) (*PathologyRecord, error)
	// LatestBarrettsPathology returns the most recent Barrett's-positive
	// record, or ErrNotFound when the patient has none.
	LatestBarrettsPathology(ctx context.Context, patientID int64) (*PathologyRecord, error)
	// HasBarrettsHistory reports whether any Barrett's-positive record
	// exists for the patient, regardless of later negative results.
	HasBarrettsHistory(ctx context.Context, patientID int64) (bool, error)
	InsertPathology(ctx context.Context, rec *PathologyRecord) (int64, error)
	UpdatePathology(ctx context.Context, rec *PathologyRecord) error
	DeletePathology(ctx context.Context, id int64) error

	// Diagnostics
	InsertDiagnostic(ctx context.Context, rec *DiagnosticRecord) (int64, error)
	LatestEndoscopy(ctx context.Context, patientID int64) (*DiagnosticRecord, error)

	// Surgical history
	InsertSurgical(ctx context.Context, rec *SurgicalRecord) (int64, error)
	ListSurgical(ctx context.Context, patientID int64) ([]*SurgicalRecord, error)

	// Surveillance plans. InsertSurveillancePlan writes the plan and, when
	// recall is non-nil, the linked recall in the same transaction.
	InsertSurveillancePlan(ctx context.Context, plan *SurveillancePlan, recall *Recall) (planID, recallID int64, err error)
	GetSurveillancePlan(ctx context.Context, id int64) (*SurveillancePlan, error)
	ListSurveillancePlans(ctx context.Context, patientID int64) ([]*SurveillancePlan, error)
	DeleteSurveillancePlan(ctx context.Context, id int64) error

	// Recalls
	InsertRecall(ctx context.Context, rec *Recall) (int64, error)
	FindRecallByOrigin(ctx context.Context, planID int64) (*Recall, error)
	FindRecall(ctx context.Context, patientID int64, date time.Time, reason RecallReason) (*Recall, error)
	ListRecallsForPatient(ctx context.Context, patientID int64) ([]*Recall, error)
	SetRecallCompleted(ctx context.Context, id int64, completed bool) error
	DeleteRecall(ctx context.Context, id int64) error
	// ListRecalls returns recalls joined with their patient, narrowed by the
	// criteria, ordered by recall date ascending then id ascending.
	ListRecalls(ctx context.Context, criteria RecallListCriteria) ([]*RecallJoinRow, error)

	// ListBarrettsPatients returns one row per patient with the most
	// recently modified surveillance plan and the pathology record chosen
	// for display (latest Barrett's-positive, else latest overall).
	ListBarrettsPatients(ctx context.Context) ([]*BarrettsPatientRow, error)

	Close() error
}

// RecallJoinRow is a recall joined with its patient.
type RecallJoinRow struct {
	Recall  Recall
	Patient Patient
}

// StatusResolver derives a patient's current Barrett's state.
type StatusResolver interface {
	ResolveStatus(ctx context.Context, patientID int64) (*BarrettStatus, error)
	Invalidate(patientID int64)
}

// IntervalAdvisor maps a Barrett's state to a recommended next-EGD interval.
type IntervalAdvisor interface {
	Recommend(status *BarrettStatus) IntervalAdvice
}

// PlanReconciler saves and deletes surveillance plans, keeping linked
// recalls in sync. Prompt decisions arrive as booleans from the caller.
type PlanReconciler interface {
	SavePlan(ctx context.Context, input PlanSaveInput) (*PlanSaveResult, error)
	DeletePlan(ctx context.Context, planID int64, deleteLinkedRecall bool) (*PlanDeleteResult, error)
}

// QueueProjector produces the recall queue and Barrett's report views.
type QueueProjector interface {
	ProjectRecalls(ctx context.Context, filters RecallFilters) ([]*RecallRow, error)
	ProjectBarretts(ctx context.Context, filters BarrettsFilters) ([]*BarrettsRow, error)
}

// EntityType names the record kinds the engine emits change events for.
type EntityType string

const (
	EntityPatient      EntityType = "patient"
	EntityPathology    EntityType = "pathology"
	EntityDiagnostic   EntityType = "diagnostic"
	EntitySurgical     EntityType = "surgical"
	EntitySurveillance EntityType = "surveillance"
	EntityRecall       EntityType = "recall"
)

// Change is an entity-changed notification. The engine publishes these and
// the presentation layer subscribes; the engine never touches UI state.
type Change struct {
	PatientID int64      `json:"patient_id"`
	Entity    EntityType `json:"entity"`
}

// ChangePublisher is the engine-facing side of the change bus.
type ChangePublisher interface {
	Publish(change Change)
}
