package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/gerd-center-server/internal/domain"
)

// RecordService covers the plain record-keeping operations: patients,
// diagnostics, surgical history, and direct recall management. Writes
// publish change notifications so open views refresh.
type RecordService struct {
	store    domain.ClinicalEventStore
	resolver domain.StatusResolver
	bus      domain.ChangePublisher
	log      *logrus.Logger
}

// NewRecordService creates a record service.
func NewRecordService(store domain.ClinicalEventStore, resolver domain.StatusResolver, bus domain.ChangePublisher, logger *logrus.Logger) *RecordService {
	return &RecordService{
		store:    store,
		resolver: resolver,
		bus:      bus,
		log:      logger,
	}
}

// Patients

func (s *RecordService) SearchPatients(ctx context.Context, term string) ([]*domain.Patient, error) {
	return s.store.SearchPatients(ctx, strings.TrimSpace(term))
}

func (s *RecordService) GetPatient(ctx context.Context, id int64) (*domain.Patient, error) {
	return s.store.GetPatient(ctx, id)
}

// AddPatient validates and inserts a new patient.
func (s *RecordService) AddPatient(ctx context.Context, p *domain.Patient) (int64, error) {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.MRN = strings.TrimSpace(p.MRN)

	if p.FirstName == "" || p.LastName == "" {
		return 0, domain.NewValidationError("name", "first and last name are required", nil)
	}
	if p.MRN == "" {
		return 0, domain.NewValidationError("mrn", "MRN is required", nil)
	}

	id, err := s.store.InsertPatient(ctx, p)
	if err != nil {
		return 0, fmt.Errorf("adding patient: %w", err)
	}

	s.bus.Publish(domain.Change{PatientID: id, Entity: domain.EntityPatient})
	s.log.WithFields(logrus.Fields{"patient_id": id, "mrn": p.MRN}).Info("Patient added")
	return id, nil
}

// DeletePatient removes a patient; dependent records cascade in the store.
func (s *RecordService) DeletePatient(ctx context.Context, id int64) error {
	if err := s.store.DeletePatient(ctx, id); err != nil {
		return fmt.Errorf("deleting patient: %w", err)
	}
	s.resolver.Invalidate(id)
	s.bus.Publish(domain.Change{PatientID: id, Entity: domain.EntityPatient})
	s.log.WithField("patient_id", id).Info("Patient deleted")
	return nil
}

// Diagnostics

// AddDiagnostic inserts a diagnostic workup entry.
func (s *RecordService) AddDiagnostic(ctx context.Context, rec *domain.DiagnosticRecord) (int64, error) {
	if rec.PatientID <= 0 {
		return 0, domain.NewValidationError("patient_id", "patient is required", rec.PatientID)
	}
	if rec.TestDate.IsZero() {
		return 0, domain.NewValidationError("test_date", "test date is required", nil)
	}

	id, err := s.store.InsertDiagnostic(ctx, rec)
	if err != nil {
		return 0, fmt.Errorf("adding diagnostic: %w", err)
	}
	s.bus.Publish(domain.Change{PatientID: rec.PatientID, Entity: domain.EntityDiagnostic})
	return id, nil
}

// Surgical history

// AddSurgical inserts a surgical-history entry.
func (s *RecordService) AddSurgical(ctx context.Context, rec *domain.SurgicalRecord) (int64, error) {
	if rec.PatientID <= 0 {
		return 0, domain.NewValidationError("patient_id", "patient is required", rec.PatientID)
	}
	if rec.SurgeryDate.IsZero() {
		return 0, domain.NewValidationError("surgery_date", "surgery date is required", nil)
	}

	id, err := s.store.InsertSurgical(ctx, rec)
	if err != nil {
		return 0, fmt.Errorf("adding surgical record: %w", err)
	}
	s.bus.Publish(domain.Change{PatientID: rec.PatientID, Entity: domain.EntitySurgical})
	return id, nil
}

func (s *RecordService) ListSurgical(ctx context.Context, patientID int64) ([]*domain.SurgicalRecord, error) {
	return s.store.ListSurgical(ctx, patientID)
}

// Recalls

// AddRecall inserts a user-created recall.
func (s *RecordService) AddRecall(ctx context.Context, rec *domain.Recall) (int64, error) {
	if rec.PatientID <= 0 {
		return 0, domain.NewValidationError("patient_id", "patient is required", rec.PatientID)
	}
	if rec.RecallDate.IsZero() {
		return 0, domain.NewValidationError("recall_date", "recall date is required", nil)
	}
	if !rec.Reason.IsValid() {
		return 0, domain.NewValidationError("reason", "unrecognized recall reason", rec.Reason.String())
	}

	id, err := s.store.InsertRecall(ctx, rec)
	if err != nil {
		return 0, fmt.Errorf("adding recall: %w", err)
	}
	s.bus.Publish(domain.Change{PatientID: rec.PatientID, Entity: domain.EntityRecall})
	return id, nil
}

func (s *RecordService) ListRecalls(ctx context.Context, patientID int64) ([]*domain.Recall, error) {
	return s.store.ListRecallsForPatient(ctx, patientID)
}

// SetRecallCompleted toggles a recall's completed flag.
func (s *RecordService) SetRecallCompleted(ctx context.Context, patientID, recallID int64, completed bool) error {
	if err := s.store.SetRecallCompleted(ctx, recallID, completed); err != nil {
		return fmt.Errorf("toggling recall: %w", err)
	}
	s.bus.Publish(domain.Change{PatientID: patientID, Entity: domain.EntityRecall})
	return nil
}

// DeleteRecall removes a recall.
func (s *RecordService) DeleteRecall(ctx context.Context, patientID, recallID int64) error {
	if err := s.store.DeleteRecall(ctx, recallID); err != nil {
		return fmt.Errorf("deleting recall: %w", err)
	}
	s.bus.Publish(domain.Change{PatientID: patientID, Entity: domain.EntityRecall})
	return nil
}
