package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilsec/vigil/internal/config"
	"github.com/vigilsec/vigil/internal/db"
	"github.com/vigilsec/vigil/internal/engine"
	"github.com/vigilsec/vigil/internal/errors"
	"github.com/vigilsec/vigil/internal/report"
)

type fakeOrchestrator struct {
	submitJob  *db.ScanJob
	submitErr  error
	lastSubmit *engine.SubmitRequest

	job     *db.ScanJob
	jobErr  error
	jobs    []*db.ScanJob
	listErr error

	stopJob   *db.ScanJob
	stopErr   error
	deleteErr error

	reportData   []byte
	reportResult *db.ScanResult
	reportErr    error

	comparison *report.Comparison
	compareErr error

	summaryJob *db.ScanJob
	summary    *report.Summary
	summaryErr error
}

func (f *fakeOrchestrator) SubmitScan(_ context.Context, _ uuid.UUID, req *engine.SubmitRequest) (*db.ScanJob, error) {
	f.lastSubmit = req
	return f.submitJob, f.submitErr
}

func (f *fakeOrchestrator) GetJob(_ context.Context, _, _ uuid.UUID) (*db.ScanJob, error) {
	return f.job, f.jobErr
}

func (f *fakeOrchestrator) ListJobs(_ context.Context, _ uuid.UUID, _ db.JobFilter) ([]*db.ScanJob, error) {
	return f.jobs, f.listErr
}

func (f *fakeOrchestrator) StopScan(_ context.Context, _, _ uuid.UUID) (*db.ScanJob, error) {
	return f.stopJob, f.stopErr
}

func (f *fakeOrchestrator) DeleteJob(_ context.Context, _, _ uuid.UUID) error {
	return f.deleteErr
}

func (f *fakeOrchestrator) GetReport(_ context.Context, _, _ uuid.UUID, _ string) ([]byte, *db.ScanResult, error) {
	return f.reportData, f.reportResult, f.reportErr
}

func (f *fakeOrchestrator) CompareReports(_ context.Context, _, _, _ uuid.UUID) (*report.Comparison, error) {
	return f.comparison, f.compareErr
}

func (f *fakeOrchestrator) GetSummary(_ context.Context, _, _ uuid.UUID) (*db.ScanJob, *report.Summary, error) {
	return f.summaryJob, f.summary, f.summaryErr
}

type fakeScheduleStore struct {
	created *db.ScheduledScan
	stored  *db.ScheduledScan
	err     error
}

func (f *fakeScheduleStore) Create(_ context.Context, schedule *db.ScheduledScan) error {
	f.created = schedule
	return f.err
}

func (f *fakeScheduleStore) GetByID(_ context.Context, _, _ uuid.UUID) (*db.ScheduledScan, error) {
	if f.stored == nil {
		return nil, errors.NewNotFound("schedule", uuid.Nil)
	}
	return f.stored, f.err
}

func (f *fakeScheduleStore) List(_ context.Context, _ uuid.UUID, _, _ int) ([]*db.ScheduledScan, error) {
	if f.stored == nil {
		return nil, f.err
	}
	return []*db.ScheduledScan{f.stored}, f.err
}

func (f *fakeScheduleStore) Update(_ context.Context, schedule *db.ScheduledScan) error {
	f.stored = schedule
	return f.err
}

func (f *fakeScheduleStore) Delete(_ context.Context, _, _ uuid.UUID) error {
	return f.err
}

type fakeEndpointStore struct {
	created *db.Endpoint
	stored  *db.Endpoint
	err     error
}

func (f *fakeEndpointStore) Create(_ context.Context, endpoint *db.Endpoint) error {
	f.created = endpoint
	return f.err
}

func (f *fakeEndpointStore) GetByID(_ context.Context, _, _ uuid.UUID) (*db.Endpoint, error) {
	if f.stored == nil {
		return nil, errors.NewNotFound("endpoint", uuid.Nil)
	}
	return f.stored, f.err
}

func (f *fakeEndpointStore) List(_ context.Context, _ uuid.UUID, _, _ int) ([]*db.Endpoint, error) {
	return nil, f.err
}

func (f *fakeEndpointStore) Update(_ context.Context, endpoint *db.Endpoint) error {
	f.stored = endpoint
	return f.err
}

func (f *fakeEndpointStore) Delete(_ context.Context, _, _ uuid.UUID) error {
	return f.err
}

type fakeGroupStore struct {
	created *db.EndpointGroup
	err     error
}

func (f *fakeGroupStore) Create(_ context.Context, group *db.EndpointGroup) error {
	f.created = group
	return f.err
}

func (f *fakeGroupStore) GetByID(_ context.Context, _, _ uuid.UUID) (*db.EndpointGroup, error) {
	return nil, errors.NewNotFound("group", uuid.Nil)
}

func (f *fakeGroupStore) List(_ context.Context, _ uuid.UUID, _, _ int) ([]*db.EndpointGroup, error) {
	return nil, f.err
}

func (f *fakeGroupStore) Update(_ context.Context, _ *db.EndpointGroup) error {
	return f.err
}

func (f *fakeGroupStore) Delete(_ context.Context, _, _ uuid.UUID) error {
	return f.err
}

type serverFixture struct {
	server       *Server
	orchestrator *fakeOrchestrator
	schedules    *fakeScheduleStore
	endpoints    *fakeEndpointStore
	groups       *fakeGroupStore
}

func newServerFixture() *serverFixture {
	cfg := config.Default()
	cfg.Logging.RequestLogging = false
	cfg.API.RateLimit.Enabled = false

	f := &serverFixture{
		orchestrator: &fakeOrchestrator{},
		schedules:    &fakeScheduleStore{},
		endpoints:    &fakeEndpointStore{},
		groups:       &fakeGroupStore{},
	}
	f.server = New(cfg, Dependencies{
		Scans:     f.orchestrator,
		Schedules: f.schedules,
		Endpoints: f.endpoints,
		Groups:    f.groups,
	})
	return f
}

func (f *serverFixture) do(method, path string, account *uuid.UUID, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if account != nil {
		req.Header.Set("X-Account-ID", account.String())
	}

	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func testJob(account uuid.UUID, status string) *db.ScanJob {
	return &db.ScanJob{
		ID:        uuid.New(),
		AccountID: account,
		Name:      "perimeter check",
		Type:      db.ScanTypePortScan,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
}

func TestRequestsWithoutAccountAreRejected(t *testing.T) {
	f := newServerFixture()

	rec := f.do(http.MethodGet, "/api/v1/scans", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestsWithMalformedAccountAreRejected(t *testing.T) {
	f := newServerFixture()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/scans", nil)
	req.Header.Set("X-Account-ID", "not-a-uuid")
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateScan(t *testing.T) {
	f := newServerFixture()
	account := uuid.New()
	f.orchestrator.submitJob = testJob(account, db.JobStatusPending)

	targetID := uuid.New()
	rec := f.do(http.MethodPost, "/api/v1/scans", &account, map[string]interface{}{
		"name":       "perimeter check",
		"scan_type":  "port-scan",
		"params":     map[string]interface{}{"ports": "80,443"},
		"target_ids": []string{targetID.String()},
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, f.orchestrator.lastSubmit)
	assert.Equal(t, db.ScanTypePortScan, f.orchestrator.lastSubmit.ScanType)
	assert.Equal(t, []uuid.UUID{targetID}, f.orchestrator.lastSubmit.TargetIDs)

	var job db.ScanJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, db.JobStatusPending, job.Status)
}

func TestCreateScanRejectsUnknownFields(t *testing.T) {
	f := newServerFixture()
	account := uuid.New()

	rec := f.do(http.MethodPost, "/api/v1/scans", &account, map[string]interface{}{
		"scan_type":  "port-scan",
		"target_ids": []string{uuid.New().String()},
		"bogus":      true,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateScanRequiresTargets(t *testing.T) {
	f := newServerFixture()
	account := uuid.New()

	rec := f.do(http.MethodPost, "/api/v1/scans", &account, map[string]interface{}{
		"scan_type": "port-scan",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateScanAdmissionRejection(t *testing.T) {
	f := newServerFixture()
	account := uuid.New()
	f.orchestrator.submitErr = errors.NewTooManyPendingJobs(account, 20, 20)

	rec := f.do(http.MethodPost, "/api/v1/scans", &account, map[string]interface{}{
		"scan_type":  "port-scan",
		"target_ids": []string{uuid.New().String()},
	})

	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(errors.CodeTooManyPendingJobs), resp["code"])
}

func TestGetScanNotFound(t *testing.T) {
	f := newServerFixture()
	account := uuid.New()
	f.orchestrator.jobErr = errors.NewNotFound("scan job", uuid.New())

	rec := f.do(http.MethodGet, "/api/v1/scans/"+uuid.New().String(), &account, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteActiveScanConflicts(t *testing.T) {
	f := newServerFixture()
	account := uuid.New()
	jobID := uuid.New()
	f.orchestrator.deleteErr = errors.NewJobError(errors.CodeJobStillActive,
		"job must reach a terminal state before deletion", jobID).WithStatus(db.JobStatusRunning)

	rec := f.do(http.MethodDelete, "/api/v1/scans/"+jobID.String(), &account, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeleteTerminalScan(t *testing.T) {
	f := newServerFixture()
	account := uuid.New()

	rec := f.do(http.MethodDelete, "/api/v1/scans/"+uuid.New().String(), &account, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestStopScan(t *testing.T) {
	f := newServerFixture()
	account := uuid.New()
	f.orchestrator.stopJob = testJob(account, db.JobStatusCancelled)

	rec := f.do(http.MethodPost, "/api/v1/scans/"+uuid.New().String()+"/stop", &account, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var job db.ScanJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, db.JobStatusCancelled, job.Status)
}

func TestReportNotReady(t *testing.T) {
	f := newServerFixture()
	account := uuid.New()
	jobID := uuid.New()
	f.orchestrator.reportErr = errors.NewJobError(errors.CodeResultNotReady,
		"job has no result yet", jobID).WithStatus(db.JobStatusRunning)

	rec := f.do(http.MethodGet, "/api/v1/scans/"+jobID.String()+"/report", &account, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReportJSON(t *testing.T) {
	f := newServerFixture()
	account := uuid.New()
	f.orchestrator.reportData = []byte(`{"scan_type":"port-scan","targets":[]}`)
	f.orchestrator.reportResult = &db.ScanResult{
		ID:              uuid.New(),
		JobID:           uuid.New(),
		ParseIncomplete: true,
	}

	rec := f.do(http.MethodGet, "/api/v1/scans/"+uuid.New().String()+"/report?format=json", &account, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "true", rec.Header().Get("X-Parse-Incomplete"))
	assert.JSONEq(t, `{"scan_type":"port-scan","targets":[]}`, rec.Body.String())
}

func TestReportTable(t *testing.T) {
	f := newServerFixture()
	account := uuid.New()
	f.orchestrator.reportData = []byte("TARGET | STATUS\n")
	f.orchestrator.reportResult = &db.ScanResult{ID: uuid.New(), JobID: uuid.New()}

	rec := f.do(http.MethodGet, "/api/v1/scans/"+uuid.New().String()+"/report?format=table", &account, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Empty(t, rec.Header().Get("X-Parse-Incomplete"))
}

func TestScanSummary(t *testing.T) {
	f := newServerFixture()
	account := uuid.New()
	f.orchestrator.summaryJob = testJob(account, db.JobStatusCompleted)
	f.orchestrator.summary = &report.Summary{
		TotalTargets:   2,
		TotalOpenPorts: 5,
		OSDistribution: map[string]int{"Linux 5.x": 2},
	}

	rec := f.do(http.MethodGet, "/api/v1/scans/"+f.orchestrator.summaryJob.ID.String()+"/summary", &account, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Job     *db.ScanJob     `json:"job"`
		Summary *report.Summary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Job)
	assert.Equal(t, f.orchestrator.summaryJob.ID, resp.Job.ID)
	require.NotNil(t, resp.Summary)
	assert.Equal(t, 2, resp.Summary.TotalTargets)
	assert.Equal(t, 5, resp.Summary.TotalOpenPorts)
	assert.Equal(t, map[string]int{"Linux 5.x": 2}, resp.Summary.OSDistribution)
}

func TestScanSummaryNotReady(t *testing.T) {
	f := newServerFixture()
	account := uuid.New()
	jobID := uuid.New()
	f.orchestrator.summaryErr = errors.NewJobError(errors.CodeResultNotReady,
		"job has no result yet", jobID).WithStatus(db.JobStatusRunning)

	rec := f.do(http.MethodGet, "/api/v1/scans/"+jobID.String()+"/summary", &account, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCompareScans(t *testing.T) {
	f := newServerFixture()
	account := uuid.New()
	f.orchestrator.comparison = &report.Comparison{
		OnlyInA: []report.FindingRef{{Target: "10.0.0.1", Finding: "port:tcp/22/ssh"}},
	}

	rec := f.do(http.MethodGet,
		"/api/v1/scans/compare/"+uuid.New().String()+"/"+uuid.New().String(), &account, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var comparison report.Comparison
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &comparison))
	require.Len(t, comparison.OnlyInA, 1)
	assert.Equal(t, "10.0.0.1", comparison.OnlyInA[0].Target)
}

func TestCreateSchedule(t *testing.T) {
	f := newServerFixture()
	account := uuid.New()

	rec := f.do(http.MethodPost, "/api/v1/schedules", &account, map[string]interface{}{
		"name":             "nightly sweep",
		"scan_type":        "port-scan",
		"target_ids":       []string{uuid.New().String()},
		"schedule_type":    "interval",
		"interval_seconds": 3600,
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, f.schedules.created)
	assert.Equal(t, account, f.schedules.created.AccountID)
	assert.True(t, f.schedules.created.IsActive)
	assert.False(t, f.schedules.created.NextRun.IsZero())
}

func TestCreateScheduleRejectsInvalidCron(t *testing.T) {
	f := newServerFixture()
	account := uuid.New()

	rec := f.do(http.MethodPost, "/api/v1/schedules", &account, map[string]interface{}{
		"name":            "broken",
		"scan_type":       "port-scan",
		"target_ids":      []string{uuid.New().String()},
		"schedule_type":   "cron",
		"cron_expression": "not a cron",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, f.schedules.created)
}

func TestUpdateScheduleTogglesActiveWithoutTouchingNextRun(t *testing.T) {
	f := newServerFixture()
	account := uuid.New()
	interval := int64(3600)
	nextRun := time.Date(2026, 9, 1, 6, 0, 0, 0, time.UTC)
	f.schedules.stored = &db.ScheduledScan{
		ID:           uuid.New(),
		AccountID:    account,
		Name:         "nightly sweep",
		ScanType:     db.ScanTypePortScan,
		TargetIDs:    db.TargetStrings([]uuid.UUID{uuid.New()}),
		ScheduleType: db.ScheduleTypeInterval,
		IntervalSecs: &interval,
		IsActive:     true,
		NextRun:      nextRun,
	}

	rec := f.do(http.MethodPut, "/api/v1/schedules/"+f.schedules.stored.ID.String(), &account,
		map[string]interface{}{"is_active": false})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.schedules.stored.IsActive)
	assert.Equal(t, nextRun, f.schedules.stored.NextRun)
}

func TestCreateEndpointRejectsBadAddressType(t *testing.T) {
	f := newServerFixture()
	account := uuid.New()

	rec := f.do(http.MethodPost, "/api/v1/endpoints", &account, map[string]interface{}{
		"name":         "gateway",
		"address":      "10.0.0.1",
		"address_type": "mac",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, f.endpoints.created)
}

func TestCreateEndpoint(t *testing.T) {
	f := newServerFixture()
	account := uuid.New()

	rec := f.do(http.MethodPost, "/api/v1/endpoints", &account, map[string]interface{}{
		"name":         "gateway",
		"address":      "10.0.0.1",
		"address_type": "ip",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, f.endpoints.created)
	assert.Equal(t, account, f.endpoints.created.AccountID)
	assert.True(t, f.endpoints.created.IsActive)
}

func TestCreateGroup(t *testing.T) {
	f := newServerFixture()
	account := uuid.New()

	rec := f.do(http.MethodPost, "/api/v1/groups", &account, map[string]interface{}{
		"name": "dmz",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, f.groups.created)
	assert.Equal(t, "dmz", f.groups.created.Name)
}

func TestHealthzWithoutDatabase(t *testing.T) {
	f := newServerFixture()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnsupportedContentType(t *testing.T) {
	f := newServerFixture()
	account := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", bytes.NewReader([]byte("a=b")))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Account-ID", account.String())
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}
