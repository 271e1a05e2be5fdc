package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/gerd-center-server/internal/domain"
)

const patientColumns = `patient_id, first_name, last_name, mrn, gender, dob,
	zip_code, bmi, referral_source, referral_details, initial_consult_date`

const pathologyColumns = `pathology_id, patient_id, pathology_date,
	biopsy, wats3d, esopredict, tissuecypher, barretts, dysplasia_grade,
	eoe, eosinophil_count, hpylori, atrophic_gastritis,
	other_finding, esopredict_risk, tissuecypher_risk, notes`

const recallColumns = `recall_id, patient_id, recall_date, reason, notes, completed, origin_plan_id`

// SQLiteStore implements domain.ClinicalEventStore over a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewSQLiteStore creates a store over an already-open SQLite handle. The
// caller owns schema setup (see internal/database).
func NewSQLiteStore(db *sql.DB, logger *logrus.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, log: logger}
}

// Patients

// SearchPatients matches the term against last name, first name, and MRN.
// An empty term returns every patient.
func (s *SQLiteStore) SearchPatients(ctx context.Context, term string) ([]*domain.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients`
	args := []interface{}{}
	if term != "" {
		query += ` WHERE last_name LIKE ? OR first_name LIKE ? OR mrn LIKE ?`
		pattern := "%" + term + "%"
		args = append(args, pattern, pattern, pattern)
	}
	query += ` ORDER BY last_name, first_name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching patients: %w", err)
	}
	defer rows.Close()

	var patients []*domain.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning patient: %w", err)
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

func (s *SQLiteStore) GetPatient(ctx context.Context, id int64) (*domain.Patient, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+patientColumns+` FROM patients WHERE patient_id = ?`, id)
	p, err := scanPatient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting patient %d: %w", id, err)
	}
	return p, nil
}

func (s *SQLiteStore) InsertPatient(ctx context.Context, p *domain.Patient) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO patients (first_name, last_name, mrn, gender, dob,
			zip_code, bmi, referral_source, referral_details, initial_consult_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.FirstName, p.LastName, p.MRN, p.Gender, domain.FormatDate(p.DOB),
		p.ZipCode, p.BMI, string(p.ReferralSource), p.ReferralDetails,
		domain.FormatDate(p.InitialConsultDate),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, domain.ErrDuplicateMRN
		}
		return 0, fmt.Errorf("inserting patient: %w", err)
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) DeletePatient(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM patients WHERE patient_id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting patient %d: %w", id, err)
	}
	return rowsAffectedOrNotFound(result)
}

// Pathology

func (s *SQLiteStore) ListPathology(ctx context.Context, patientID int64) ([]*domain.PathologyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pathologyColumns+` FROM pathology
		 WHERE patient_id = ?
		 ORDER BY pathology_date DESC, pathology_id DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("listing pathology: %w", err)
	}
	defer rows.Close()

	var records []*domain.PathologyRecord
	for rows.Next() {
		rec, err := scanPathology(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning pathology: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) LatestPathology(ctx context.Context, patientID int64) (*domain.PathologyRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pathologyColumns+` FROM pathology
		 WHERE patient_id = ?
		 ORDER BY pathology_date DESC, pathology_id DESC
		 LIMIT 1`, patientID)
	rec, err := scanPathology(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest pathology: %w", err)
	}
	return rec, nil
}

// LatestBarrettsPathology returns the most recent Barrett's-positive record.
// Ties on date break toward the most recently inserted row.
func (s *SQLiteStore) LatestBarrettsPathology(ctx context.Context, patientID int64) (*domain.PathologyRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pathologyColumns+` FROM pathology
		 WHERE patient_id = ? AND barretts = 1
		 ORDER BY pathology_date DESC, pathology_id DESC
		 LIMIT 1`, patientID)
	rec, err := scanPathology(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest Barrett's pathology: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) HasBarrettsHistory(ctx context.Context, patientID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM pathology WHERE patient_id = ? AND barretts = 1)`,
		patientID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking Barrett's history: %w", err)
	}
	return exists, nil
}

func (s *SQLiteStore) InsertPathology(ctx context.Context, rec *domain.PathologyRecord) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO pathology (patient_id, pathology_date,
			biopsy, wats3d, esopredict, tissuecypher, barretts, dysplasia_grade,
			eoe, eosinophil_count, hpylori, atrophic_gastritis,
			other_finding, esopredict_risk, tissuecypher_risk, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.PatientID, domain.FormatDate(rec.PathologyDate),
		rec.Biopsy, rec.WATS3D, rec.EsoPredict, rec.TissueCypher, rec.Barretts,
		string(rec.DysplasiaGrade), rec.EoE, eosinophilValue(rec),
		rec.Hpylori, rec.AtrophicGastritis,
		rec.OtherFinding, rec.EsoPredictRisk, rec.TissueCypherRisk, rec.Notes,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting pathology: %w", err)
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) UpdatePathology(ctx context.Context, rec *domain.PathologyRecord) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE pathology SET pathology_date = ?,
			biopsy = ?, wats3d = ?, esopredict = ?, tissuecypher = ?,
			barretts = ?, dysplasia_grade = ?, eoe = ?, eosinophil_count = ?,
			hpylori = ?, atrophic_gastritis = ?,
			other_finding = ?, esopredict_risk = ?, tissuecypher_risk = ?, notes = ?
		 WHERE pathology_id = ?`,
		domain.FormatDate(rec.PathologyDate),
		rec.Biopsy, rec.WATS3D, rec.EsoPredict, rec.TissueCypher,
		rec.Barretts, string(rec.DysplasiaGrade), rec.EoE, eosinophilValue(rec),
		rec.Hpylori, rec.AtrophicGastritis,
		rec.OtherFinding, rec.EsoPredictRisk, rec.TissueCypherRisk, rec.Notes,
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("updating pathology %d: %w", rec.ID, err)
	}
	return rowsAffectedOrNotFound(result)
}

func (s *SQLiteStore) DeletePathology(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM pathology WHERE pathology_id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting pathology %d: %w", id, err)
	}
	return rowsAffectedOrNotFound(result)
}

// Diagnostics

func (s *SQLiteStore) InsertDiagnostic(ctx context.Context, rec *domain.DiagnosticRecord) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO diagnostics (patient_id, test_date, endoscopy, findings)
		 VALUES (?, ?, ?, ?)`,
		rec.PatientID, domain.FormatDate(rec.TestDate), rec.Endoscopy, rec.Findings)
	if err != nil {
		return 0, fmt.Errorf("inserting diagnostic: %w", err)
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) LatestEndoscopy(ctx context.Context, patientID int64) (*domain.DiagnosticRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT diagnostic_id, patient_id, test_date, endoscopy, findings
		 FROM diagnostics
		 WHERE patient_id = ? AND endoscopy = 1
		 ORDER BY test_date DESC, diagnostic_id DESC
		 LIMIT 1`, patientID)
	rec, err := scanDiagnostic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest endoscopy: %w", err)
	}
	return rec, nil
}

// Surgical history

func (s *SQLiteStore) InsertSurgical(ctx context.Context, rec *domain.SurgicalRecord) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO surgical_history (patient_id, surgery_date, surgeon, procedures, notes)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.PatientID, domain.FormatDate(rec.SurgeryDate), rec.Surgeon, rec.Procedures, rec.Notes)
	if err != nil {
		return 0, fmt.Errorf("inserting surgical record: %w", err)
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) ListSurgical(ctx context.Context, patientID int64) ([]*domain.SurgicalRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT surgery_id, patient_id, surgery_date, surgeon, procedures, notes
		 FROM surgical_history
		 WHERE patient_id = ?
		 ORDER BY surgery_date DESC, surgery_id DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("listing surgical history: %w", err)
	}
	defer rows.Close()

	var records []*domain.SurgicalRecord
	for rows.Next() {
		rec, err := scanSurgical(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning surgical record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Surveillance plans

// InsertSurveillancePlan inserts the plan and, when recall is non-nil, the
// linked recall inside the same transaction. Plans are append-only.
func (s *SQLiteStore) InsertSurveillancePlan(ctx context.Context, plan *domain.SurveillancePlan, recall *domain.Recall) (int64, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO surveillance_plans (patient_id, next_egd_due, undecided, last_modified)
		 VALUES (?, ?, ?, ?)`,
		plan.PatientID, nextEGDDueText(plan), plan.Undecided,
		domain.FormatDate(plan.LastModified))
	if err != nil {
		return 0, 0, fmt.Errorf("inserting surveillance plan: %w", err)
	}
	planID, err := result.LastInsertId()
	if err != nil {
		return 0, 0, fmt.Errorf("reading plan id: %w", err)
	}

	var recallID int64
	if recall != nil {
		recall.OriginPlanID = &planID
		result, err := tx.ExecContext(ctx,
			`INSERT INTO recalls (patient_id, recall_date, reason, notes, completed, origin_plan_id)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			recall.PatientID, domain.FormatDate(recall.RecallDate),
			string(recall.Reason), recall.Notes, recall.Completed, planID)
		if err != nil {
			return 0, 0, fmt.Errorf("inserting linked recall: %w", err)
		}
		if recallID, err = result.LastInsertId(); err != nil {
			return 0, 0, fmt.Errorf("reading recall id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("committing plan insert: %w", err)
	}
	return planID, recallID, nil
}

func (s *SQLiteStore) GetSurveillancePlan(ctx context.Context, id int64) (*domain.SurveillancePlan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT plan_id, patient_id, next_egd_due, undecided, last_modified
		 FROM surveillance_plans WHERE plan_id = ?`, id)
	plan, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting plan %d: %w", id, err)
	}
	return plan, nil
}

func (s *SQLiteStore) ListSurveillancePlans(ctx context.Context, patientID int64) ([]*domain.SurveillancePlan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT plan_id, patient_id, next_egd_due, undecided, last_modified
		 FROM surveillance_plans
		 WHERE patient_id = ?
		 ORDER BY last_modified DESC, plan_id DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("listing surveillance plans: %w", err)
	}
	defer rows.Close()

	var plans []*domain.SurveillancePlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning plan: %w", err)
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

func (s *SQLiteStore) DeleteSurveillancePlan(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM surveillance_plans WHERE plan_id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting plan %d: %w", id, err)
	}
	return rowsAffectedOrNotFound(result)
}

// Recalls

func (s *SQLiteStore) InsertRecall(ctx context.Context, rec *domain.Recall) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO recalls (patient_id, recall_date, reason, notes, completed, origin_plan_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.PatientID, domain.FormatDate(rec.RecallDate), string(rec.Reason),
		rec.Notes, rec.Completed, originPlanValue(rec))
	if err != nil {
		return 0, fmt.Errorf("inserting recall: %w", err)
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) FindRecallByOrigin(ctx context.Context, planID int64) (*domain.Recall, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recallColumns+` FROM recalls
		 WHERE origin_plan_id = ?
		 ORDER BY recall_id DESC
		 LIMIT 1`, planID)
	rec, err := scanRecall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding recall by origin plan: %w", err)
	}
	return rec, nil
}

// FindRecall matches legacy recalls that predate origin-plan linkage.
func (s *SQLiteStore) FindRecall(ctx context.Context, patientID int64, date time.Time, reason domain.RecallReason) (*domain.Recall, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recallColumns+` FROM recalls
		 WHERE patient_id = ? AND recall_date = ? AND reason = ?
		 ORDER BY recall_id DESC
		 LIMIT 1`, patientID, domain.FormatDate(date), string(reason))
	rec, err := scanRecall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding recall: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListRecallsForPatient(ctx context.Context, patientID int64) ([]*domain.Recall, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recallColumns+` FROM recalls
		 WHERE patient_id = ?
		 ORDER BY recall_date ASC, recall_id ASC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("listing recalls: %w", err)
	}
	defer rows.Close()

	var recalls []*domain.Recall
	for rows.Next() {
		rec, err := scanRecall(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning recall: %w", err)
		}
		recalls = append(recalls, rec)
	}
	return recalls, rows.Err()
}

func (s *SQLiteStore) SetRecallCompleted(ctx context.Context, id int64, completed bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE recalls SET completed = ? WHERE recall_id = ?`, completed, id)
	if err != nil {
		return fmt.Errorf("updating recall %d: %w", id, err)
	}
	return rowsAffectedOrNotFound(result)
}

func (s *SQLiteStore) DeleteRecall(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM recalls WHERE recall_id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting recall %d: %w", id, err)
	}
	return rowsAffectedOrNotFound(result)
}

func (s *SQLiteStore) ListRecalls(ctx context.Context, criteria domain.RecallListCriteria) ([]*domain.RecallJoinRow, error) {
	query := `SELECT r.recall_id, r.patient_id, r.recall_date, r.reason, r.notes,
			r.completed, r.origin_plan_id,
			p.patient_id, p.first_name, p.last_name, p.mrn, p.gender, p.dob,
			p.zip_code, p.bmi, p.referral_source, p.referral_details, p.initial_consult_date
		FROM recalls r
		JOIN patients p ON p.patient_id = r.patient_id`

	var conds []string
	var args []interface{}
	if !criteria.IncludeCompleted {
		conds = append(conds, "r.completed = 0")
	}
	if criteria.Reason != "" {
		conds = append(conds, "r.reason = ?")
		args = append(args, string(criteria.Reason))
	}
	if !criteria.Deadline.IsZero() {
		conds = append(conds, "r.recall_date <= ?")
		args = append(args, domain.FormatDate(criteria.Deadline))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY r.recall_date ASC, r.recall_id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing recalls: %w", err)
	}
	defer rows.Close()

	var out []*domain.RecallJoinRow
	for rows.Next() {
		joined, err := scanRecallJoin(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning recall row: %w", err)
		}
		out = append(out, joined)
	}
	return out, rows.Err()
}

// ListBarrettsPatients returns one row per patient carrying the most
// recently modified surveillance plan and the pathology record chosen for
// display: the latest Barrett's-positive record when one exists, otherwise
// the latest record overall. Patients with neither a plan nor Barrett's
// history are excluded.
func (s *SQLiteStore) ListBarrettsPatients(ctx context.Context) ([]*domain.BarrettsPatientRow, error) {
	query := `
		WITH ranked_plans AS (
			SELECT plan_id, patient_id, next_egd_due, undecided, last_modified,
				ROW_NUMBER() OVER (
					PARTITION BY patient_id
					ORDER BY last_modified DESC, plan_id DESC
				) AS rn
			FROM surveillance_plans
		),
		ranked_path AS (
			SELECT ` + pathologyColumns + `,
				ROW_NUMBER() OVER (
					PARTITION BY patient_id
					ORDER BY barretts DESC, pathology_date DESC, pathology_id DESC
				) AS rn
			FROM pathology
		)
		SELECT p.patient_id, p.first_name, p.last_name, p.mrn, p.gender, p.dob,
			p.zip_code, p.bmi, p.referral_source, p.referral_details, p.initial_consult_date,
			pl.plan_id, pl.next_egd_due, pl.undecided, pl.last_modified,
			pa.pathology_id, pa.pathology_date, pa.barretts, pa.dysplasia_grade, pa.notes
		FROM patients p
		LEFT JOIN ranked_plans pl ON pl.patient_id = p.patient_id AND pl.rn = 1
		LEFT JOIN ranked_path pa ON pa.patient_id = p.patient_id AND pa.rn = 1
		WHERE pl.plan_id IS NOT NULL OR pa.barretts = 1
		ORDER BY p.last_name, p.first_name, p.patient_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing Barrett's patients: %w", err)
	}
	defer rows.Close()

	var out []*domain.BarrettsPatientRow
	for rows.Next() {
		row, err := scanBarrettsPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning Barrett's patient: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// eosinophilValue renders the eosinophil count as a nullable column.
func eosinophilValue(rec *domain.PathologyRecord) interface{} {
	if rec.EosinophilCount == nil {
		return nil
	}
	return *rec.EosinophilCount
}

// rowsAffectedOrNotFound maps zero-row writes to ErrNotFound.
func rowsAffectedOrNotFound(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
