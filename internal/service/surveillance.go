package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gerd-center-server/internal/domain"
)

// SurveillanceService assembles the advisory header for the surveillance
// screen: Barrett's status, last endoscopy, the derived interval advice,
// and the plan history.
type SurveillanceService struct {
	store    domain.ClinicalEventStore
	resolver domain.StatusResolver
	advisor  domain.IntervalAdvisor
	log      *logrus.Logger
}

// NewSurveillanceService creates a surveillance service.
func NewSurveillanceService(store domain.ClinicalEventStore, resolver domain.StatusResolver, advisor domain.IntervalAdvisor, logger *logrus.Logger) *SurveillanceService {
	return &SurveillanceService{
		store:    store,
		resolver: resolver,
		advisor:  advisor,
		log:      logger,
	}
}

// Context returns the patient's surveillance context. Advice is present
// only for Barrett's patients; the advice is advisory and pre-fills the
// plan form, it is never enforced.
func (s *SurveillanceService) Context(ctx context.Context, patientID int64) (*domain.SurveillanceContext, error) {
	status, err := s.resolver.ResolveStatus(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("building surveillance context: %w", err)
	}

	out := &domain.SurveillanceContext{Status: *status}

	last, err := s.store.LatestEndoscopy(ctx, patientID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("loading last endoscopy: %w", err)
	}
	out.LastEndoscopy = last

	if status.HasBarretts {
		advice := s.advisor.Recommend(status)
		out.Advice = &advice
	}

	plans, err := s.store.ListSurveillancePlans(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("listing plans: %w", err)
	}
	if plans == nil {
		plans = []*domain.SurveillancePlan{}
	}
	out.Plans = plans

	return out, nil
}
