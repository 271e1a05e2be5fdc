// Package service implements the surveillance rules engine: Barrett's
// status resolution, interval advice, plan/recall reconciliation, and the
// report projections.
package service

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/gerd-center-server/internal/domain"
)

// statusCacheSize bounds the resolver cache; a clinic's active panel fits
// comfortably below this.
const statusCacheSize = 2048

// BarrettStatusResolver derives a patient's Barrett's state from pathology
// history. Results are cached until a pathology write invalidates them.
type BarrettStatusResolver struct {
	store domain.ClinicalEventStore
	cache *lru.Cache[int64, *domain.BarrettStatus]
	log   *logrus.Logger
}

// NewBarrettStatusResolver creates a resolver over the given store.
func NewBarrettStatusResolver(store domain.ClinicalEventStore, logger *logrus.Logger) (*BarrettStatusResolver, error) {
	cache, err := lru.New[int64, *domain.BarrettStatus](statusCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating status cache: %w", err)
	}
	return &BarrettStatusResolver{
		store: store,
		cache: cache,
		log:   logger,
	}, nil
}

// ResolveStatus returns the patient's current Barrett's state: the most
// recent Barrett's-positive pathology record wins, and a later negative
// record never clears the status. Patients with no Barrett's-positive
// record at all resolve to hasBarretts=false; the resolver never falls
// back to the latest record overall.
func (r *BarrettStatusResolver) ResolveStatus(ctx context.Context, patientID int64) (*domain.BarrettStatus, error) {
	if status, ok := r.cache.Get(patientID); ok {
		return status, nil
	}

	rec, err := r.store.LatestBarrettsPathology(ctx, patientID)
	if errors.Is(err, domain.ErrNotFound) {
		status := &domain.BarrettStatus{PatientID: patientID, HasBarretts: false}
		r.cache.Add(patientID, status)
		return status, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving Barrett's status for patient %d: %w", patientID, err)
	}

	status := &domain.BarrettStatus{
		PatientID:           patientID,
		HasBarretts:         true,
		PathologyID:         rec.ID,
		LatestPathologyDate: rec.PathologyDate,
		DysplasiaGrade:      rec.DysplasiaGrade,
	}
	r.cache.Add(patientID, status)

	r.log.WithFields(logrus.Fields{
		"patient_id": patientID,
		"grade":      status.DysplasiaGrade,
	}).Debug("Resolved Barrett's status")

	return status, nil
}

// Invalidate drops the cached status for a patient. Callers invoke this
// after any pathology write for the patient.
func (r *BarrettStatusResolver) Invalidate(patientID int64) {
	r.cache.Remove(patientID)
}
