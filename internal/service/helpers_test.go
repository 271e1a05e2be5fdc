package service

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gerd-center-server/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testDate(s string) time.Time {
	t, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func datePtr(s string) *time.Time {
	t := testDate(s)
	return &t
}

// fixedNow pins a service clock for deterministic status classification.
func fixedNow(s string) func() time.Time {
	t := testDate(s)
	return func() time.Time { return t }
}

// fakeBus records published changes.
type fakeBus struct {
	mu      sync.Mutex
	changes []domain.Change
}

func (b *fakeBus) Publish(change domain.Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.changes = append(b.changes, change)
}

func (b *fakeBus) entities() []domain.EntityType {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.EntityType
	for _, c := range b.changes {
		out = append(out, c.Entity)
	}
	return out
}

// fakeStore is an in-memory ClinicalEventStore for service tests. Query
// ordering matches the real stores: date descending with id as tie-break
// for "latest" lookups, insertion order elsewhere.
type fakeStore struct {
	mu          sync.Mutex
	nextID      int64
	patients    map[int64]*domain.Patient
	pathology   map[int64]*domain.PathologyRecord
	diagnostics map[int64]*domain.DiagnosticRecord
	surgical    map[int64]*domain.SurgicalRecord
	plans       map[int64]*domain.SurveillancePlan
	recalls     map[int64]*domain.Recall

	// failWith, when set, makes every store call fail.
	failWith error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		patients:    map[int64]*domain.Patient{},
		pathology:   map[int64]*domain.PathologyRecord{},
		diagnostics: map[int64]*domain.DiagnosticRecord{},
		surgical:    map[int64]*domain.SurgicalRecord{},
		plans:       map[int64]*domain.SurveillancePlan{},
		recalls:     map[int64]*domain.Recall{},
	}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) addPatient(p domain.Patient) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.ID = f.id()
	f.patients[p.ID] = &p
	return p.ID
}

func (f *fakeStore) addPathology(rec domain.PathologyRecord) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec.ID = f.id()
	f.pathology[rec.ID] = &rec
	return rec.ID
}

func (f *fakeStore) addPlan(plan domain.SurveillancePlan) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	plan.ID = f.id()
	f.plans[plan.ID] = &plan
	return plan.ID
}

func (f *fakeStore) addRecall(rec domain.Recall) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec.ID = f.id()
	f.recalls[rec.ID] = &rec
	return rec.ID
}

func (f *fakeStore) SearchPatients(ctx context.Context, term string) ([]*domain.Patient, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Patient
	for _, p := range f.patients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (f *fakeStore) GetPatient(ctx context.Context, id int64) (*domain.Patient, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.patients[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) InsertPatient(ctx context.Context, p *domain.Patient) (int64, error) {
	if f.failWith != nil {
		return 0, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.patients {
		if existing.MRN == p.MRN {
			return 0, domain.ErrDuplicateMRN
		}
	}
	clone := *p
	clone.ID = f.id()
	f.patients[clone.ID] = &clone
	return clone.ID, nil
}

func (f *fakeStore) DeletePatient(ctx context.Context, id int64) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.patients[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.patients, id)
	return nil
}

func (f *fakeStore) ListPathology(ctx context.Context, patientID int64) ([]*domain.PathologyRecord, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.PathologyRecord
	for _, rec := range f.pathology {
		if rec.PatientID == patientID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].PathologyDate.Equal(out[k].PathologyDate) {
			return out[i].PathologyDate.After(out[k].PathologyDate)
		}
		return out[i].ID > out[k].ID
	})
	return out, nil
}

func (f *fakeStore) LatestPathology(ctx context.Context, patientID int64) (*domain.PathologyRecord, error) {
	records, err := f.ListPathology(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domain.ErrNotFound
	}
	return records[0], nil
}

func (f *fakeStore) LatestBarrettsPathology(ctx context.Context, patientID int64) (*domain.PathologyRecord, error) {
	records, err := f.ListPathology(ctx, patientID)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.Barretts {
			return rec, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) HasBarrettsHistory(ctx context.Context, patientID int64) (bool, error) {
	_, err := f.LatestBarrettsPathology(ctx, patientID)
	if err == domain.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (f *fakeStore) InsertPathology(ctx context.Context, rec *domain.PathologyRecord) (int64, error) {
	if f.failWith != nil {
		return 0, f.failWith
	}
	return f.addPathology(*rec), nil
}

func (f *fakeStore) UpdatePathology(ctx context.Context, rec *domain.PathologyRecord) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pathology[rec.ID]; !ok {
		return domain.ErrNotFound
	}
	clone := *rec
	f.pathology[rec.ID] = &clone
	return nil
}

func (f *fakeStore) DeletePathology(ctx context.Context, id int64) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pathology[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.pathology, id)
	return nil
}

func (f *fakeStore) InsertDiagnostic(ctx context.Context, rec *domain.DiagnosticRecord) (int64, error) {
	if f.failWith != nil {
		return 0, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *rec
	clone.ID = f.id()
	f.diagnostics[clone.ID] = &clone
	return clone.ID, nil
}

func (f *fakeStore) LatestEndoscopy(ctx context.Context, patientID int64) (*domain.DiagnosticRecord, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *domain.DiagnosticRecord
	for _, rec := range f.diagnostics {
		if rec.PatientID != patientID || !rec.Endoscopy {
			continue
		}
		if latest == nil || rec.TestDate.After(latest.TestDate) ||
			(rec.TestDate.Equal(latest.TestDate) && rec.ID > latest.ID) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return latest, nil
}

func (f *fakeStore) InsertSurgical(ctx context.Context, rec *domain.SurgicalRecord) (int64, error) {
	if f.failWith != nil {
		return 0, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *rec
	clone.ID = f.id()
	f.surgical[clone.ID] = &clone
	return clone.ID, nil
}

func (f *fakeStore) ListSurgical(ctx context.Context, patientID int64) ([]*domain.SurgicalRecord, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.SurgicalRecord
	for _, rec := range f.surgical {
		if rec.PatientID == patientID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (f *fakeStore) InsertSurveillancePlan(ctx context.Context, plan *domain.SurveillancePlan, recall *domain.Recall) (int64, int64, error) {
	if f.failWith != nil {
		return 0, 0, f.failWith
	}
	planID := f.addPlan(*plan)
	var recallID int64
	if recall != nil {
		recall.OriginPlanID = &planID
		recallID = f.addRecall(*recall)
	}
	return planID, recallID, nil
}

func (f *fakeStore) GetSurveillancePlan(ctx context.Context, id int64) (*domain.SurveillancePlan, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	plan, ok := f.plans[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return plan, nil
}

func (f *fakeStore) ListSurveillancePlans(ctx context.Context, patientID int64) ([]*domain.SurveillancePlan, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.SurveillancePlan
	for _, plan := range f.plans {
		if plan.PatientID == patientID {
			out = append(out, plan)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].LastModified.Equal(out[k].LastModified) {
			return out[i].LastModified.After(out[k].LastModified)
		}
		return out[i].ID > out[k].ID
	})
	return out, nil
}

func (f *fakeStore) DeleteSurveillancePlan(ctx context.Context, id int64) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.plans[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.plans, id)
	return nil
}

func (f *fakeStore) InsertRecall(ctx context.Context, rec *domain.Recall) (int64, error) {
	if f.failWith != nil {
		return 0, f.failWith
	}
	return f.addRecall(*rec), nil
}

func (f *fakeStore) FindRecallByOrigin(ctx context.Context, planID int64) (*domain.Recall, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var found *domain.Recall
	for _, rec := range f.recalls {
		if rec.OriginPlanID != nil && *rec.OriginPlanID == planID {
			if found == nil || rec.ID > found.ID {
				found = rec
			}
		}
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	return found, nil
}

func (f *fakeStore) FindRecall(ctx context.Context, patientID int64, date time.Time, reason domain.RecallReason) (*domain.Recall, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var found *domain.Recall
	for _, rec := range f.recalls {
		if rec.PatientID == patientID && rec.RecallDate.Equal(date) && rec.Reason == reason {
			if found == nil || rec.ID > found.ID {
				found = rec
			}
		}
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	return found, nil
}

func (f *fakeStore) ListRecallsForPatient(ctx context.Context, patientID int64) ([]*domain.Recall, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Recall
	for _, rec := range f.recalls {
		if rec.PatientID == patientID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].RecallDate.Equal(out[k].RecallDate) {
			return out[i].RecallDate.Before(out[k].RecallDate)
		}
		return out[i].ID < out[k].ID
	})
	return out, nil
}

func (f *fakeStore) SetRecallCompleted(ctx context.Context, id int64, completed bool) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recalls[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Completed = completed
	return nil
}

func (f *fakeStore) DeleteRecall(ctx context.Context, id int64) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.recalls[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.recalls, id)
	return nil
}

func (f *fakeStore) ListRecalls(ctx context.Context, criteria domain.RecallListCriteria) ([]*domain.RecallJoinRow, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.RecallJoinRow
	for _, rec := range f.recalls {
		if !criteria.IncludeCompleted && rec.Completed {
			continue
		}
		if criteria.Reason != "" && rec.Reason != criteria.Reason {
			continue
		}
		if !criteria.Deadline.IsZero() && rec.RecallDate.After(criteria.Deadline) {
			continue
		}
		patient, ok := f.patients[rec.PatientID]
		if !ok {
			continue
		}
		out = append(out, &domain.RecallJoinRow{Recall: *rec, Patient: *patient})
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].Recall.RecallDate.Equal(out[k].Recall.RecallDate) {
			return out[i].Recall.RecallDate.Before(out[k].Recall.RecallDate)
		}
		return out[i].Recall.ID < out[k].Recall.ID
	})
	return out, nil
}

func (f *fakeStore) ListBarrettsPatients(ctx context.Context) ([]*domain.BarrettsPatientRow, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.BarrettsPatientRow
	for _, patient := range f.patients {
		row := &domain.BarrettsPatientRow{Patient: *patient}

		for _, plan := range f.plans {
			if plan.PatientID != patient.ID {
				continue
			}
			if row.Plan == nil || plan.LastModified.After(row.Plan.LastModified) ||
				(plan.LastModified.Equal(row.Plan.LastModified) && plan.ID > row.Plan.ID) {
				row.Plan = plan
			}
		}

		for _, rec := range f.pathology {
			if rec.PatientID != patient.ID {
				continue
			}
			if row.Pathology == nil || preferPathology(rec, row.Pathology) {
				row.Pathology = rec
			}
		}

		if row.Plan == nil && (row.Pathology == nil || !row.Pathology.Barretts) {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].Patient.DisplayName() < out[k].Patient.DisplayName()
	})
	return out, nil
}

// preferPathology orders the display record: Barrett's-positive first,
// then newer dates, then higher ids.
func preferPathology(a, b *domain.PathologyRecord) bool {
	if a.Barretts != b.Barretts {
		return a.Barretts
	}
	if !a.PathologyDate.Equal(b.PathologyDate) {
		return a.PathologyDate.After(b.PathologyDate)
	}
	return a.ID > b.ID
}

func (f *fakeStore) Close() error { return nil }
