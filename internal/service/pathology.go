package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gerd-center-server/internal/domain"
)

// PathologyService validates and persists pathology records, invalidating
// derived Barrett's state on every write. Adding a Barrett's-positive
// record returns the interval advice so the caller can surface a
// surveillance reminder immediately.
type PathologyService struct {
	store    domain.ClinicalEventStore
	resolver domain.StatusResolver
	advisor  domain.IntervalAdvisor
	bus      domain.ChangePublisher
	log      *logrus.Logger
}

// NewPathologyService creates a pathology service.
func NewPathologyService(store domain.ClinicalEventStore, resolver domain.StatusResolver, advisor domain.IntervalAdvisor, bus domain.ChangePublisher, logger *logrus.Logger) *PathologyService {
	return &PathologyService{
		store:    store,
		resolver: resolver,
		advisor:  advisor,
		bus:      bus,
		log:      logger,
	}
}

// Add validates and inserts a pathology record. When the record is
// Barrett's-positive, the returned advice carries the grade-driven
// surveillance reminder.
func (s *PathologyService) Add(ctx context.Context, rec *domain.PathologyRecord) (int64, *domain.IntervalAdvice, error) {
	if err := validatePathology(rec); err != nil {
		return 0, nil, err
	}
	if _, err := s.store.GetPatient(ctx, rec.PatientID); err != nil {
		return 0, nil, fmt.Errorf("loading patient %d: %w", rec.PatientID, err)
	}

	id, err := s.store.InsertPathology(ctx, rec)
	if err != nil {
		return 0, nil, fmt.Errorf("adding pathology: %w", err)
	}
	s.afterWrite(rec.PatientID)

	s.log.WithFields(logrus.Fields{
		"patient_id":   rec.PatientID,
		"pathology_id": id,
		"barretts":     rec.Barretts,
	}).Info("Pathology record added")

	return id, s.reminder(rec), nil
}

// Update validates and rewrites an existing pathology record.
func (s *PathologyService) Update(ctx context.Context, rec *domain.PathologyRecord) (*domain.IntervalAdvice, error) {
	if err := validatePathology(rec); err != nil {
		return nil, err
	}
	if err := s.store.UpdatePathology(ctx, rec); err != nil {
		return nil, fmt.Errorf("updating pathology: %w", err)
	}
	s.afterWrite(rec.PatientID)
	return s.reminder(rec), nil
}

// Delete removes a pathology record belonging to the patient.
func (s *PathologyService) Delete(ctx context.Context, patientID, pathologyID int64) error {
	if err := s.store.DeletePathology(ctx, pathologyID); err != nil {
		return fmt.Errorf("deleting pathology: %w", err)
	}
	s.afterWrite(patientID)
	return nil
}

// List returns the patient's pathology history, newest first.
func (s *PathologyService) List(ctx context.Context, patientID int64) ([]*domain.PathologyRecord, error) {
	return s.store.ListPathology(ctx, patientID)
}

func (s *PathologyService) afterWrite(patientID int64) {
	s.resolver.Invalidate(patientID)
	s.bus.Publish(domain.Change{PatientID: patientID, Entity: domain.EntityPathology})
}

// reminder derives the surveillance reminder shown after a write. Only
// Barrett's-positive records produce one.
func (s *PathologyService) reminder(rec *domain.PathologyRecord) *domain.IntervalAdvice {
	if !rec.Barretts {
		return nil
	}
	advice := s.advisor.Recommend(&domain.BarrettStatus{
		PatientID:      rec.PatientID,
		HasBarretts:    true,
		DysplasiaGrade: rec.DysplasiaGrade,
	})
	return &advice
}

// validatePathology enforces the record's internal consistency. A
// dysplasia grade requires the Barrett's flag on every path, and an
// eosinophil count without the EoE flag is dropped rather than stored.
func validatePathology(rec *domain.PathologyRecord) error {
	if rec.PatientID <= 0 {
		return domain.NewValidationError("patient_id", "patient is required", rec.PatientID)
	}
	if rec.PathologyDate.IsZero() {
		return domain.NewValidationError("pathology_date", "pathology date is required", nil)
	}
	if !rec.DysplasiaGrade.IsValid() {
		return domain.NewValidationError("dysplasia_grade", "unrecognized dysplasia grade", rec.DysplasiaGrade.String())
	}
	if rec.DysplasiaGrade != domain.GradeUnspecified && !rec.Barretts {
		return domain.NewValidationError("dysplasia_grade", "a dysplasia grade requires the Barrett's flag", rec.DysplasiaGrade.String())
	}
	if rec.EosinophilCount != nil {
		if !rec.EoE {
			rec.EosinophilCount = nil
		} else if *rec.EosinophilCount < 0 {
			return domain.NewValidationError("eosinophil_count", "eosinophil count cannot be negative", *rec.EosinophilCount)
		}
	}
	return nil
}
