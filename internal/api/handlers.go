package api

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gerd-center-server/internal/domain"
	"github.com/gerd-center-server/internal/report"
)

// respondError maps engine errors onto HTTP status codes.
func (s *Server) respondError(c *gin.Context, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Message, "field": ve.Field})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, domain.ErrDuplicateMRN):
		c.JSON(http.StatusConflict, gin.H{"error": domain.ErrDuplicateMRN.Error()})
	default:
		s.log.WithError(err).WithField("request_id", c.GetString("request_id")).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// parseDateField parses an optional request date, rejecting malformed input.
func parseDateField(c *gin.Context, field, value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, true
	}
	t, err := domain.ParseDate(value)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date", "field": field})
		return time.Time{}, false
	}
	return t, true
}

// Patients

func (s *Server) handleSearchPatients(c *gin.Context) {
	patients, err := s.records.SearchPatients(c.Request.Context(), c.Query("q"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if patients == nil {
		patients = []*domain.Patient{}
	}
	c.JSON(http.StatusOK, gin.H{"patients": patients})
}

type patientRequest struct {
	FirstName          string `json:"first_name"`
	LastName           string `json:"last_name"`
	MRN                string `json:"mrn"`
	Gender             string `json:"gender"`
	DOB                string `json:"dob"`
	ZipCode            string `json:"zip_code"`
	BMI                string `json:"bmi"`
	ReferralSource     string `json:"referral_source"`
	ReferralDetails    string `json:"referral_details"`
	InitialConsultDate string `json:"initial_consult_date"`
}

func (s *Server) handleAddPatient(c *gin.Context) {
	var req patientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	dob, ok := parseDateField(c, "dob", req.DOB)
	if !ok {
		return
	}
	consult, ok := parseDateField(c, "initial_consult_date", req.InitialConsultDate)
	if !ok {
		return
	}

	patient := &domain.Patient{
		FirstName:          req.FirstName,
		LastName:           req.LastName,
		MRN:                req.MRN,
		Gender:             req.Gender,
		DOB:                dob,
		ZipCode:            req.ZipCode,
		BMI:                req.BMI,
		ReferralSource:     domain.ReferralSource(req.ReferralSource),
		ReferralDetails:    req.ReferralDetails,
		InitialConsultDate: consult,
	}
	id, err := s.records.AddPatient(c.Request.Context(), patient)
	if err != nil {
		s.respondError(c, err)
		return
	}
	patient.ID = id
	c.JSON(http.StatusCreated, patient)
}

func (s *Server) handleGetPatient(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	patient, err := s.records.GetPatient(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, patient)
}

func (s *Server) handleDeletePatient(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.records.DeletePatient(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Pathology

type pathologyRequest struct {
	PathologyDate     string   `json:"pathology_date"`
	Biopsy            bool     `json:"biopsy"`
	WATS3D            bool     `json:"wats3d"`
	EsoPredict        bool     `json:"esopredict"`
	TissueCypher      bool     `json:"tissuecypher"`
	Barretts          bool     `json:"barretts"`
	DysplasiaGrade    string   `json:"dysplasia_grade"`
	EoE               bool     `json:"eoe"`
	EosinophilCount   *float64 `json:"eosinophil_count"`
	Hpylori           bool     `json:"hpylori"`
	AtrophicGastritis bool     `json:"atrophic_gastritis"`
	OtherFinding      string   `json:"other_finding"`
	EsoPredictRisk    string   `json:"esopredict_risk"`
	TissueCypherRisk  string   `json:"tissuecypher_risk"`
	Notes             string   `json:"notes"`
}

func (r *pathologyRequest) toRecord(c *gin.Context, patientID int64) (*domain.PathologyRecord, bool) {
	date, ok := parseDateField(c, "pathology_date", r.PathologyDate)
	if !ok {
		return nil, false
	}
	return &domain.PathologyRecord{
		PatientID:         patientID,
		PathologyDate:     date,
		Biopsy:            r.Biopsy,
		WATS3D:            r.WATS3D,
		EsoPredict:        r.EsoPredict,
		TissueCypher:      r.TissueCypher,
		Barretts:          r.Barretts,
		DysplasiaGrade:    domain.DysplasiaGrade(r.DysplasiaGrade),
		EoE:               r.EoE,
		EosinophilCount:   r.EosinophilCount,
		Hpylori:           r.Hpylori,
		AtrophicGastritis: r.AtrophicGastritis,
		OtherFinding:      r.OtherFinding,
		EsoPredictRisk:    r.EsoPredictRisk,
		TissueCypherRisk:  r.TissueCypherRisk,
		Notes:             r.Notes,
	}, true
}

func (s *Server) handleListPathology(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	records, err := s.pathology.List(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if records == nil {
		records = []*domain.PathologyRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"pathology": records})
}

func (s *Server) handleAddPathology(c *gin.Context) {
	patientID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req pathologyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	rec, ok := req.toRecord(c, patientID)
	if !ok {
		return
	}

	id, advice, err := s.pathology.Add(c.Request.Context(), rec)
	if err != nil {
		s.respondError(c, err)
		return
	}
	rec.ID = id
	c.JSON(http.StatusCreated, gin.H{"record": rec, "reminder": advice})
}

func (s *Server) handleUpdatePathology(c *gin.Context) {
	patientID, ok := pathID(c, "id")
	if !ok {
		return
	}
	recordID, ok := pathID(c, "recordID")
	if !ok {
		return
	}
	var req pathologyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	rec, ok := req.toRecord(c, patientID)
	if !ok {
		return
	}
	rec.ID = recordID

	advice, err := s.pathology.Update(c.Request.Context(), rec)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec, "reminder": advice})
}

func (s *Server) handleDeletePathology(c *gin.Context) {
	patientID, ok := pathID(c, "id")
	if !ok {
		return
	}
	recordID, ok := pathID(c, "recordID")
	if !ok {
		return
	}
	if err := s.pathology.Delete(c.Request.Context(), patientID, recordID); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Diagnostics and surgical history

type diagnosticRequest struct {
	TestDate  string `json:"test_date"`
	Endoscopy bool   `json:"endoscopy"`
	Findings  string `json:"findings"`
}

func (s *Server) handleAddDiagnostic(c *gin.Context) {
	patientID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req diagnosticRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	date, ok := parseDateField(c, "test_date", req.TestDate)
	if !ok {
		return
	}

	rec := &domain.DiagnosticRecord{
		PatientID: patientID,
		TestDate:  date,
		Endoscopy: req.Endoscopy,
		Findings:  req.Findings,
	}
	id, err := s.records.AddDiagnostic(c.Request.Context(), rec)
	if err != nil {
		s.respondError(c, err)
		return
	}
	rec.ID = id
	c.JSON(http.StatusCreated, rec)
}

type surgicalRequest struct {
	SurgeryDate string `json:"surgery_date"`
	Surgeon     string `json:"surgeon"`
	Procedures  string `json:"procedures"`
	Notes       string `json:"notes"`
}

func (s *Server) handleAddSurgical(c *gin.Context) {
	patientID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req surgicalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	date, ok := parseDateField(c, "surgery_date", req.SurgeryDate)
	if !ok {
		return
	}

	rec := &domain.SurgicalRecord{
		PatientID:   patientID,
		SurgeryDate: date,
		Surgeon:     req.Surgeon,
		Procedures:  req.Procedures,
		Notes:       req.Notes,
	}
	id, err := s.records.AddSurgical(c.Request.Context(), rec)
	if err != nil {
		s.respondError(c, err)
		return
	}
	rec.ID = id
	c.JSON(http.StatusCreated, rec)
}

func (s *Server) handleListSurgical(c *gin.Context) {
	patientID, ok := pathID(c, "id")
	if !ok {
		return
	}
	records, err := s.records.ListSurgical(c.Request.Context(), patientID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if records == nil {
		records = []*domain.SurgicalRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"surgical": records})
}

// Surveillance

func (s *Server) handleResolveStatus(c *gin.Context) {
	patientID, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx, err := s.surveil.Context(c.Request.Context(), patientID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ctx.Status)
}

func (s *Server) handleSurveillanceContext(c *gin.Context) {
	patientID, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx, err := s.surveil.Context(c.Request.Context(), patientID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ctx)
}

type planSaveRequest struct {
	NextEGDDue   string `json:"next_egd_due"`
	Undecided    bool   `json:"undecided"`
	CreateRecall bool   `json:"create_recall"`
}

func (s *Server) handleSavePlan(c *gin.Context) {
	patientID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req planSaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	input := domain.PlanSaveInput{
		PatientID:    patientID,
		Undecided:    req.Undecided,
		CreateRecall: req.CreateRecall,
	}
	if req.NextEGDDue != "" {
		due, ok := parseDateField(c, "next_egd_due", req.NextEGDDue)
		if !ok {
			return
		}
		input.NextEGDDue = &due
	}

	result, err := s.reconciler.SavePlan(c.Request.Context(), input)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) handleDeletePlan(c *gin.Context) {
	if _, ok := pathID(c, "id"); !ok {
		return
	}
	planID, ok := pathID(c, "planID")
	if !ok {
		return
	}
	deleteRecall := c.Query("delete_recall") == "true"

	result, err := s.reconciler.DeletePlan(c.Request.Context(), planID, deleteRecall)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Recalls

type recallRequest struct {
	RecallDate string `json:"recall_date"`
	Reason     string `json:"reason"`
	Notes      string `json:"notes"`
}

func (s *Server) handleListPatientRecalls(c *gin.Context) {
	patientID, ok := pathID(c, "id")
	if !ok {
		return
	}
	recalls, err := s.records.ListRecalls(c.Request.Context(), patientID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if recalls == nil {
		recalls = []*domain.Recall{}
	}
	c.JSON(http.StatusOK, gin.H{"recalls": recalls})
}

func (s *Server) handleAddRecall(c *gin.Context) {
	patientID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req recallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	date, ok := parseDateField(c, "recall_date", req.RecallDate)
	if !ok {
		return
	}

	rec := &domain.Recall{
		PatientID:  patientID,
		RecallDate: date,
		Reason:     domain.RecallReason(req.Reason),
		Notes:      req.Notes,
	}
	id, err := s.records.AddRecall(c.Request.Context(), rec)
	if err != nil {
		s.respondError(c, err)
		return
	}
	rec.ID = id
	c.JSON(http.StatusCreated, rec)
}

type recallToggleRequest struct {
	Completed bool `json:"completed"`
}

func (s *Server) handleToggleRecall(c *gin.Context) {
	patientID, ok := pathID(c, "id")
	if !ok {
		return
	}
	recallID, ok := pathID(c, "recallID")
	if !ok {
		return
	}
	var req recallToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.records.SetRecallCompleted(c.Request.Context(), patientID, recallID, req.Completed); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeleteRecall(c *gin.Context) {
	patientID, ok := pathID(c, "id")
	if !ok {
		return
	}
	recallID, ok := pathID(c, "recallID")
	if !ok {
		return
	}
	if err := s.records.DeleteRecall(c.Request.Context(), patientID, recallID); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Reports

func (s *Server) handleRecallReport(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil || days < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid days"})
		return
	}

	filters := domain.RecallFilters{
		Reason:           domain.RecallReason(c.Query("reason")),
		DueWithinDays:    days,
		IncludeCompleted: c.Query("include_completed") == "true",
		IncludePastDue:   c.DefaultQuery("include_past_due", "true") == "true",
		BarrettsOnly:     c.Query("barretts_only") == "true",
	}
	if filters.Reason != "" && !filters.Reason.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unrecognized recall reason"})
		return
	}

	rows, err := s.projector.ProjectRecalls(c.Request.Context(), filters)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if rows == nil {
		rows = []*domain.RecallRow{}
	}

	switch c.DefaultQuery("format", "json") {
	case "json":
		c.JSON(http.StatusOK, gin.H{"recalls": rows})
	case "csv":
		var buf bytes.Buffer
		if err := report.WriteRecallCSV(&buf, rows); err != nil {
			s.respondError(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="recall_report.csv"`)
		c.Data(http.StatusOK, "text/csv", buf.Bytes())
	case "xlsx":
		var buf bytes.Buffer
		if err := report.WriteRecallXLSX(&buf, rows); err != nil {
			s.respondError(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="recall_report.xlsx"`)
		c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported format"})
	}
}

func (s *Server) handleBarrettsReport(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "90"))
	if err != nil || days < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid days"})
		return
	}

	filters := domain.BarrettsFilters{
		DueWithinDays:    days,
		IncludePastDue:   c.DefaultQuery("include_past_due", "true") == "true",
		IncludeUndecided: c.DefaultQuery("include_undecided", "true") == "true",
	}

	rows, err := s.projector.ProjectBarretts(c.Request.Context(), filters)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if rows == nil {
		rows = []*domain.BarrettsRow{}
	}

	switch c.DefaultQuery("format", "json") {
	case "json":
		c.JSON(http.StatusOK, gin.H{"patients": rows})
	case "csv":
		var buf bytes.Buffer
		if err := report.WriteBarrettsCSV(&buf, rows); err != nil {
			s.respondError(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="barretts_report.csv"`)
		c.Data(http.StatusOK, "text/csv", buf.Bytes())
	case "xlsx":
		var buf bytes.Buffer
		if err := report.WriteBarrettsXLSX(&buf, rows); err != nil {
			s.respondError(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="barretts_report.xlsx"`)
		c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported format"})
	}
}
