package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gerd-center-server/internal/domain"
)

// autoRecallNotes marks recalls the reconciler created alongside a plan.
const autoRecallNotes = "Auto-created from surveillance plan"

// SurveillancePlanReconciler saves and deletes surveillance plans while
// keeping their linked recalls consistent. Saves are append-only: a new
// plan row is always inserted and the most recently modified row is
// authoritative.
type SurveillancePlanReconciler struct {
	store domain.ClinicalEventStore
	bus   domain.ChangePublisher
	log   *logrus.Logger

	// Now is injectable for deterministic tests.
	Now func() time.Time
}

// NewSurveillancePlanReconciler creates a reconciler.
func NewSurveillancePlanReconciler(store domain.ClinicalEventStore, bus domain.ChangePublisher, logger *logrus.Logger) *SurveillancePlanReconciler {
	return &SurveillancePlanReconciler{
		store: store,
		bus:   bus,
		log:   logger,
		Now:   time.Now,
	}
}

// SavePlan inserts a new surveillance plan and, when the caller opted in,
// a linked Endoscopy recall on the due date. The plan and recall are
// written in one transaction so a crash cannot orphan the plan.
func (r *SurveillancePlanReconciler) SavePlan(ctx context.Context, input domain.PlanSaveInput) (*domain.PlanSaveResult, error) {
	if input.PatientID <= 0 {
		return nil, domain.NewValidationError("patient_id", "patient is required", input.PatientID)
	}
	if input.Undecided && input.NextEGDDue != nil {
		return nil, domain.NewValidationError("next_egd_due", "an undecided plan cannot carry a due date", domain.FormatDate(*input.NextEGDDue))
	}
	if !input.Undecided && input.NextEGDDue == nil {
		return nil, domain.NewValidationError("next_egd_due", "a due date is required unless the plan is undecided", nil)
	}
	if input.CreateRecall && input.NextEGDDue == nil {
		return nil, domain.NewValidationError("create_recall", "a recall requires a concrete due date", nil)
	}

	if _, err := r.store.GetPatient(ctx, input.PatientID); err != nil {
		return nil, fmt.Errorf("loading patient %d: %w", input.PatientID, err)
	}

	plan := &domain.SurveillancePlan{
		PatientID:    input.PatientID,
		NextEGDDue:   input.NextEGDDue,
		Undecided:    input.Undecided,
		LastModified: r.Now(),
	}

	var recall *domain.Recall
	if input.CreateRecall {
		recall = &domain.Recall{
			PatientID:  input.PatientID,
			RecallDate: *input.NextEGDDue,
			Reason:     domain.ReasonEndoscopy,
			Notes:      autoRecallNotes,
		}
	}

	planID, recallID, err := r.store.InsertSurveillancePlan(ctx, plan, recall)
	if err != nil {
		return nil, fmt.Errorf("saving surveillance plan: %w", err)
	}

	r.bus.Publish(domain.Change{PatientID: input.PatientID, Entity: domain.EntitySurveillance})
	if recall != nil {
		r.bus.Publish(domain.Change{PatientID: input.PatientID, Entity: domain.EntityRecall})
	}

	r.log.WithFields(logrus.Fields{
		"patient_id":     input.PatientID,
		"plan_id":        planID,
		"recall_created": recall != nil,
	}).Info("Surveillance plan saved")

	return &domain.PlanSaveResult{
		PlanID:        planID,
		RecallCreated: recall != nil,
		RecallID:      recallID,
	}, nil
}

// DeletePlan removes a plan and reports the linked recall, deleting it
// only when the caller asked to. Linkage is by origin plan id; recalls
// that predate the linkage column are matched by patient, date, and the
// Endoscopy reason.
func (r *SurveillancePlanReconciler) DeletePlan(ctx context.Context, planID int64, deleteLinkedRecall bool) (*domain.PlanDeleteResult, error) {
	plan, err := r.store.GetSurveillancePlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("loading plan %d: %w", planID, err)
	}

	linked, err := r.findLinkedRecall(ctx, plan)
	if err != nil {
		return nil, err
	}

	if err := r.store.DeleteSurveillancePlan(ctx, planID); err != nil {
		return nil, fmt.Errorf("deleting plan %d: %w", planID, err)
	}

	result := &domain.PlanDeleteResult{
		PlanDeleted:  true,
		LinkedRecall: linked,
	}

	if linked != nil && deleteLinkedRecall {
		if err := r.store.DeleteRecall(ctx, linked.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("deleting linked recall %d: %w", linked.ID, err)
		}
		result.RecallDeleted = true
		r.bus.Publish(domain.Change{PatientID: plan.PatientID, Entity: domain.EntityRecall})
	}

	r.bus.Publish(domain.Change{PatientID: plan.PatientID, Entity: domain.EntitySurveillance})

	r.log.WithFields(logrus.Fields{
		"patient_id":     plan.PatientID,
		"plan_id":        planID,
		"recall_deleted": result.RecallDeleted,
	}).Info("Surveillance plan deleted")

	return result, nil
}

func (r *SurveillancePlanReconciler) findLinkedRecall(ctx context.Context, plan *domain.SurveillancePlan) (*domain.Recall, error) {
	linked, err := r.store.FindRecallByOrigin(ctx, plan.ID)
	if err == nil {
		return linked, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("finding linked recall: %w", err)
	}

	if plan.NextEGDDue == nil {
		return nil, nil
	}
	linked, err = r.store.FindRecall(ctx, plan.PatientID, *plan.NextEGDDue, domain.ReasonEndoscopy)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding legacy linked recall: %w", err)
	}
	return linked, nil
}
