package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/gerd-center-server/internal/domain"
)

// PostgresStore implements domain.ClinicalEventStore using PostgreSQL.
type PostgresStore struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewPostgresStore creates a store over an existing connection. It expects
// the schema to already exist (created via migrations).
func NewPostgresStore(db *sql.DB, logger *logrus.Logger) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{db: db, log: logger}, nil
}

// NewPostgresStoreFromURL creates a store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string, cfg *domain.DatabaseConfig, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLife)

	store, err := NewPostgresStore(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Patients

func (s *PostgresStore) SearchPatients(ctx context.Context, term string) ([]*domain.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients`
	args := []interface{}{}
	if term != "" {
		query += ` WHERE last_name ILIKE $1 OR first_name ILIKE $1 OR mrn ILIKE $1`
		args = append(args, "%"+term+"%")
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

func (s *PostgresStore) GetPatient(ctx context.Context, id int64) (*domain.Patient, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+patientColumns+` FROM patients WHERE patient_id = $1`, id)
	p, err := scanPatient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting patient %d: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) InsertPatient(ctx context.Context, p *domain.Patient) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO patients (first_name, last_name, mrn, gender, dob,
			zip_code, bmi, referral_source, referral_details, initial_consult_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING patient_id`,
		p.FirstName, p.LastName, p.MRN, p.Gender, domain.FormatDate(p.DOB),
		p.ZipCode, p.BMI, string(p.ReferralSource), p.ReferralDetails,
		domain.FormatDate(p.InitialConsultDate),
	).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return 0, domain.ErrDuplicateMRN
		}
		return 0, fmt.Errorf("inserting patient: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) DeletePatient(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM patients WHERE patient_id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting patient %d: %w", id, err)
	}
	return rowsAffectedOrNotFound(result)
}

// Pathology

func (s *PostgresStore) ListPathology(ctx context.Context, patientID int64) ([]*domain.PathologyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pathologyColumns+` FROM pathology
		 WHERE patient_id = $1
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

func (s *PostgresStore) LatestPathology(ctx context.Context, patientID int64) (*domain.PathologyRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pathologyColumns+` FROM pathology
		 WHERE patient_id = $1
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

func (s *PostgresStore) LatestBarrettsPathology(ctx context.Context, patientID int64) (*domain.PathologyRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pathologyColumns+` FROM pathology
		 WHERE patient_id = $1 AND barretts = 1
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

func (s *PostgresStore) HasBarrettsHistory(ctx context.Context, patientID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM pathology WHERE patient_id = $1 AND barretts = 1)`,
		patientID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking Barrett's history: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) InsertPathology(ctx context.Context, rec *domain.PathologyRecord) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO pathology (patient_id, pathology_date,
			biopsy, wats3d, esopredict, tissuecypher, barretts, dysplasia_grade,
			eoe, eosinophil_count, hpylori, atrophic_gastritis,
			other_finding, esopredict_risk, tissuecypher_risk, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 RETURNING pathology_id`,
		rec.PatientID, domain.FormatDate(rec.PathologyDate),
		boolInt(rec.Biopsy), boolInt(rec.WATS3D), boolInt(rec.EsoPredict),
		boolInt(rec.TissueCypher), boolInt(rec.Barretts),
		string(rec.DysplasiaGrade), boolInt(rec.EoE), eosinophilValue(rec),
		boolInt(rec.Hpylori), boolInt(rec.AtrophicGastritis),
		rec.OtherFinding, rec.EsoPredictRisk, rec.TissueCypherRisk, rec.Notes,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting pathology: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) UpdatePathology(ctx context.Context, rec *domain.PathologyRecord) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE pathology SET pathology_date = $1,
			biopsy = $2, wats3d = $3, esopredict = $4, tissuecypher = $5,
			barretts = $6, dysplasia_grade = $7, eoe = $8, eosinophil_count = $9,
			hpylori = $10, atrophic_gastritis = $11,
			other_finding = $12, esopredict_risk = $13, tissuecypher_risk = $14, notes = $15
		 WHERE pathology_id = $16`,
		domain.FormatDate(rec.PathologyDate),
		boolInt(rec.Biopsy), boolInt(rec.WATS3D), boolInt(rec.EsoPredict),
		boolInt(rec.TissueCypher), boolInt(rec.Barretts),
		string(rec.DysplasiaGrade), boolInt(rec.EoE), eosinophilValue(rec),
		boolInt(rec.Hpylori), boolInt(rec.AtrophicGastritis),
		rec.OtherFinding, rec.EsoPredictRisk, rec.TissueCypherRisk, rec.Notes,
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("updating pathology %d: %w", rec.ID, err)
	}
	return rowsAffectedOrNotFound(result)
}

func (s *PostgresStore) DeletePathology(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM pathology WHERE pathology_id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting pathology %d: %w", id, err)
	}
	return rowsAffectedOrNotFound(result)
}

// Diagnostics

func (s *PostgresStore) InsertDiagnostic(ctx context.Context, rec *domain.DiagnosticRecord) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO diagnostics (patient_id, test_date, endoscopy, findings)
		 VALUES ($1, $2, $3, $4)
		 RETURNING diagnostic_id`,
		rec.PatientID, domain.FormatDate(rec.TestDate), boolInt(rec.Endoscopy), rec.Findings).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting diagnostic: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) LatestEndoscopy(ctx context.Context, patientID int64) (*domain.DiagnosticRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT diagnostic_id, patient_id, test_date, endoscopy, findings
		 FROM diagnostics
		 WHERE patient_id = $1 AND endoscopy = 1
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

func (s *PostgresStore) InsertSurgical(ctx context.Context, rec *domain.SurgicalRecord) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO surgical_history (patient_id, surgery_date, surgeon, procedures, notes)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING surgery_id`,
		rec.PatientID, domain.FormatDate(rec.SurgeryDate), rec.Surgeon, rec.Procedures, rec.Notes).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting surgical record: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) ListSurgical(ctx context.Context, patientID int64) ([]*domain.SurgicalRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT surgery_id, patient_id, surgery_date, surgeon, procedures, notes
		 FROM surgical_history
		 WHERE patient_id = $1
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

func (s *PostgresStore) InsertSurveillancePlan(ctx context.Context, plan *domain.SurveillancePlan, recall *domain.Recall) (int64, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var planID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO surveillance_plans (patient_id, next_egd_due, undecided, last_modified)
		 VALUES ($1, $2, $3, $4)
		 RETURNING plan_id`,
		plan.PatientID, nextEGDDueText(plan), boolInt(plan.Undecided),
		domain.FormatDate(plan.LastModified)).Scan(&planID)
	if err != nil {
		return 0, 0, fmt.Errorf("inserting surveillance plan: %w", err)
	}

	var recallID int64
	if recall != nil {
		recall.OriginPlanID = &planID
		err = tx.QueryRowContext(ctx,
			`INSERT INTO recalls (patient_id, recall_date, reason, notes, completed, origin_plan_id)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING recall_id`,
			recall.PatientID, domain.FormatDate(recall.RecallDate),
			string(recall.Reason), recall.Notes, boolInt(recall.Completed), planID).Scan(&recallID)
		if err != nil {
			return 0, 0, fmt.Errorf("inserting linked recall: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("committing plan insert: %w", err)
	}
	return planID, recallID, nil
}

func (s *PostgresStore) GetSurveillancePlan(ctx context.Context, id int64) (*domain.SurveillancePlan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT plan_id, patient_id, next_egd_due, undecided, last_modified
		 FROM surveillance_plans WHERE plan_id = $1`, id)
	plan, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting plan %d: %w", id, err)
	}
	return plan, nil
}

func (s *PostgresStore) ListSurveillancePlans(ctx context.Context, patientID int64) ([]*domain.SurveillancePlan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT plan_id, patient_id, next_egd_due, undecided, last_modified
		 FROM surveillance_plans
		 WHERE patient_id = $1
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

func (s *PostgresStore) DeleteSurveillancePlan(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM surveillance_plans WHERE plan_id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting plan %d: %w", id, err)
	}
	return rowsAffectedOrNotFound(result)
}

// Recalls

func (s *PostgresStore) InsertRecall(ctx context.Context, rec *domain.Recall) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO recalls (patient_id, recall_date, reason, notes, completed, origin_plan_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING recall_id`,
		rec.PatientID, domain.FormatDate(rec.RecallDate), string(rec.Reason),
		rec.Notes, boolInt(rec.Completed), originPlanValue(rec)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting recall: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) FindRecallByOrigin(ctx context.Context, planID int64) (*domain.Recall, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recallColumns+` FROM recalls
		 WHERE origin_plan_id = $1
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

func (s *PostgresStore) FindRecall(ctx context.Context, patientID int64, date time.Time, reason domain.RecallReason) (*domain.Recall, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recallColumns+` FROM recalls
		 WHERE patient_id = $1 AND recall_date = $2 AND reason = $3
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

func (s *PostgresStore) ListRecallsForPatient(ctx context.Context, patientID int64) ([]*domain.Recall, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recallColumns+` FROM recalls
		 WHERE patient_id = $1
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

func (s *PostgresStore) SetRecallCompleted(ctx context.Context, id int64, completed bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE recalls SET completed = $1 WHERE recall_id = $2`, boolInt(completed), id)
	if err != nil {
		return fmt.Errorf("updating recall %d: %w", id, err)
	}
	return rowsAffectedOrNotFound(result)
}

func (s *PostgresStore) DeleteRecall(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM recalls WHERE recall_id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting recall %d: %w", id, err)
	}
	return rowsAffectedOrNotFound(result)
}

func (s *PostgresStore) ListRecalls(ctx context.Context, criteria domain.RecallListCriteria) ([]*domain.RecallJoinRow, error) {
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
		args = append(args, string(criteria.Reason))
		conds = append(conds, fmt.Sprintf("r.reason = $%d", len(args)))
	}
	if !criteria.Deadline.IsZero() {
		args = append(args, domain.FormatDate(criteria.Deadline))
		conds = append(conds, fmt.Sprintf("r.recall_date <= $%d", len(args)))
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

func (s *PostgresStore) ListBarrettsPatients(ctx context.Context) ([]*domain.BarrettsPatientRow, error) {
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

// boolInt renders a flag for the INTEGER flag columns; pq would otherwise
// send a boolean literal the column type rejects.
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Health checks the database connection.
func (s *PostgresStore) Health() error {
	return s.db.Ping()
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
