package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/vigilsec/vigil/internal/db"
	"github.com/vigilsec/vigil/internal/engine"
	"github.com/vigilsec/vigil/internal/logging"
	"github.com/vigilsec/vigil/internal/report"
)

// ScanOrchestrator is the engine surface the scan handlers need.
type ScanOrchestrator interface {
	SubmitScan(ctx context.Context, accountID uuid.UUID, req *engine.SubmitRequest) (*db.ScanJob, error)
	GetJob(ctx context.Context, accountID, jobID uuid.UUID) (*db.ScanJob, error)
	ListJobs(ctx context.Context, accountID uuid.UUID, filter db.JobFilter) ([]*db.ScanJob, error)
	StopScan(ctx context.Context, accountID, jobID uuid.UUID) (*db.ScanJob, error)
	DeleteJob(ctx context.Context, accountID, jobID uuid.UUID) error
	GetReport(ctx context.Context, accountID, jobID uuid.UUID, format string) ([]byte, *db.ScanResult, error)
	CompareReports(ctx context.Context, accountID, jobA, jobB uuid.UUID) (*report.Comparison, error)
	GetSummary(ctx context.Context, accountID, jobID uuid.UUID) (*db.ScanJob, *report.Summary, error)
}

// ScanHandler handles scan job endpoints.
type ScanHandler struct {
	orchestrator ScanOrchestrator
	logger       *logging.Logger
}

// NewScanHandler creates a scan handler.
func NewScanHandler(orchestrator ScanOrchestrator, logger *logging.Logger) *ScanHandler {
	return &ScanHandler{
		orchestrator: orchestrator,
		logger:       logger.WithComponent("api.scans"),
	}
}

// createScanRequest is the POST /scans payload.
type createScanRequest struct {
	Name      string          `json:"name"`
	ScanType  string          `json:"scan_type" validate:"required"`
	Params    json.RawMessage `json:"params"`
	TargetIDs []uuid.UUID     `json:"target_ids" validate:"required,min=1"`
}

// Create submits a new scan job.
func (h *ScanHandler) Create(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}

	var req createScanRequest
	if err := parseAndValidate(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	job, err := h.orchestrator.SubmitScan(r.Context(), account, &engine.SubmitRequest{
		Name:      req.Name,
		ScanType:  req.ScanType,
		Params:    req.Params,
		TargetIDs: req.TargetIDs,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, job)
}

// List returns the account's scan jobs.
func (h *ScanHandler) List(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}

	params, err := getPaginationParams(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	filter := db.JobFilter{
		Status: r.URL.Query().Get("status"),
		Type:   r.URL.Query().Get("type"),
		Limit:  params.PageSize,
		Offset: params.Offset,
	}

	jobs, err := h.orchestrator.ListJobs(r.Context(), account, filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeList(w, r, jobs, params, len(jobs))
}

// Get returns one scan job.
func (h *ScanHandler) Get(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}

	jobID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	job, err := h.orchestrator.GetJob(r.Context(), account, jobID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, job)
}

// Stop requests cancellation of a scan job. Stopping a job that already
// reached a terminal state succeeds without effect.
func (h *ScanHandler) Stop(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}

	jobID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	job, err := h.orchestrator.StopScan(r.Context(), account, jobID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, job)
}

// Delete removes a terminal scan job and its result.
func (h *ScanHandler) Delete(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}

	jobID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	if err := h.orchestrator.DeleteJob(r.Context(), account, jobID); err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Report renders the result of a completed job in the requested format.
func (h *ScanHandler) Report(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}

	jobID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	format := r.URL.Query().Get("format")
	data, result, err := h.orchestrator.GetReport(r.Context(), account, jobID, format)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if result.ParseIncomplete {
		w.Header().Set("X-Parse-Incomplete", "true")
	}
	switch format {
	case report.FormatTable:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.ErrorJob("failed to write report response", jobID, err)
	}
}

// scanSummaryResponse pairs job metadata with the aggregated findings.
type scanSummaryResponse struct {
	Job     *db.ScanJob     `json:"job"`
	Summary *report.Summary `json:"summary"`
}

// Summary returns per-scan aggregates for a completed job.
func (h *ScanHandler) Summary(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}

	jobID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	job, summary, err := h.orchestrator.GetSummary(r.Context(), account, jobID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, scanSummaryResponse{Job: job, Summary: summary})
}

// Compare diffs the results of two completed jobs.
func (h *ScanHandler) Compare(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}

	jobA, err := pathUUID(r, "a")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	jobB, err := pathUUID(r, "b")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	comparison, err := h.orchestrator.CompareReports(r.Context(), account, jobA, jobB)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, comparison)
}
