// Package engine orchestrates scan job execution: admission control,
// the job state machine, dispatch onto the executor, and result
// persistence. Jobs move pending -> running -> {completed, failed,
// cancelled}; terminal states permit no further transitions.
package engine

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigilsec/vigil/internal/config"
	"github.com/vigilsec/vigil/internal/db"
	"github.com/vigilsec/vigil/internal/errors"
	"github.com/vigilsec/vigil/internal/executor"
	"github.com/vigilsec/vigil/internal/logging"
	"github.com/vigilsec/vigil/internal/metrics"
	"github.com/vigilsec/vigil/internal/params"
	"github.com/vigilsec/vigil/internal/report"
)

// failureReasonTimeout is recorded verbatim when a job exceeds its
// execution timeout.
const failureReasonTimeout = "Timeout"

// dbOpTimeout bounds persistence calls made outside a request context,
// such as terminal transitions from executor goroutines.
const dbOpTimeout = 10 * time.Second

// JobStore is the persistence surface the engine needs for jobs.
type JobStore interface {
	Create(ctx context.Context, job *db.ScanJob) error
	GetByID(ctx context.Context, accountID, id uuid.UUID) (*db.ScanJob, error)
	List(ctx context.Context, accountID uuid.UUID, filter db.JobFilter) ([]*db.ScanJob, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, failureReason *string) error
	Delete(ctx context.Context, accountID, id uuid.UUID) error
}

// ResultStore is the persistence surface for normalized results.
type ResultStore interface {
	Create(ctx context.Context, result *db.ScanResult) error
	GetByJobID(ctx context.Context, jobID uuid.UUID) (*db.ScanResult, error)
	DeleteByJobID(ctx context.Context, jobID uuid.UUID) error
}

// EndpointStore resolves target endpoints for ownership checks.
type EndpointStore interface {
	GetByIDs(ctx context.Context, accountID uuid.UUID, ids []uuid.UUID) ([]*db.Endpoint, error)
}

// SubmitRequest describes a scan submission after transport decoding.
type SubmitRequest struct {
	Name       string
	ScanType   string
	Params     json.RawMessage
	TargetIDs  []uuid.UUID
	ScheduleID *uuid.UUID
}

// activeJob is the in-memory run state for a non-terminal job.
type activeJob struct {
	job     *db.ScanJob
	targets []string
	params  *params.Validated

	queued          bool
	cancel          context.CancelFunc
	cancelRequested bool
	finalized       bool
	graceTimer      *time.Timer
	startedAt       time.Time
}

// Engine runs the scan job lifecycle.
type Engine struct {
	cfg       config.EngineConfig
	jobs      JobStore
	results   ResultStore
	endpoints EndpointStore
	exec      executor.Executor
	admission *AdmissionController
	metrics   *metrics.Metrics
	logger    *logging.Logger

	rootCtx  context.Context
	rootStop context.CancelFunc

	mu     sync.Mutex
	active map[uuid.UUID]*activeJob
	wg     sync.WaitGroup
}

// New creates an engine. The metrics instance may be nil in tests.
func New(cfg config.EngineConfig, jobs JobStore, results ResultStore, endpoints EndpointStore,
	exec executor.Executor, m *metrics.Metrics, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Engine{
		cfg:       cfg,
		jobs:      jobs,
		results:   results,
		endpoints: endpoints,
		exec:      exec,
		admission: NewAdmissionController(cfg.MaxConcurrentJobs, cfg.MaxJobsPerAccount, cfg.MaxQueueDepth),
		metrics:   m,
		logger:    logger.WithComponent("engine"),
		rootCtx:   ctx,
		rootStop:  stop,
		active:    make(map[uuid.UUID]*activeJob),
	}
}

// SubmitScan validates, admits, persists, and (capacity permitting)
// dispatches a new scan job. Rejected submissions are never persisted.
func (e *Engine) SubmitScan(ctx context.Context, accountID uuid.UUID, req *SubmitRequest) (*db.ScanJob, error) {
	validated, err := params.Validate(req.ScanType, req.Params)
	if err != nil {
		return nil, err
	}

	if len(req.TargetIDs) == 0 {
		return nil, errors.NewValidationError("at least one target is required", "target_ids")
	}

	targets, err := e.resolveTargets(ctx, accountID, req.TargetIDs)
	if err != nil {
		return nil, err
	}

	paramsJSON, err := validated.Marshal()
	if err != nil {
		return nil, err
	}

	job := &db.ScanJob{
		ID:         uuid.New(),
		AccountID:  accountID,
		Name:       req.Name,
		Type:       req.ScanType,
		Params:     paramsJSON,
		TargetIDs:  db.TargetStrings(req.TargetIDs),
		Status:     db.JobStatusPending,
		ScheduleID: req.ScheduleID,
	}

	decision, admitErr := e.admission.Admit(accountID, job.ID)
	if decision == DecisionRejected {
		if e.metrics != nil {
			e.metrics.IncrementAdmissionRejects()
		}
		return nil, admitErr
	}

	if err := e.jobs.Create(ctx, job); err != nil {
		e.rollbackAdmission(accountID, job.ID, decision)
		return nil, err
	}

	a := &activeJob{
		job:     job,
		targets: targets,
		params:  validated,
		queued:  decision == DecisionQueued,
	}

	e.mu.Lock()
	e.active[job.ID] = a
	e.mu.Unlock()
	e.updateGauges()

	if decision == DecisionAccepted {
		e.startJob(a)
	}

	e.logger.InfoJob("scan job submitted", job.ID,
		"scan_type", job.Type, "account_id", accountID.String(), "queued", a.queued)
	return job, nil
}

// GetJob returns a job owned by the account.
func (e *Engine) GetJob(ctx context.Context, accountID, jobID uuid.UUID) (*db.ScanJob, error) {
	return e.jobs.GetByID(ctx, accountID, jobID)
}

// ListJobs returns the account's jobs matching the filter.
func (e *Engine) ListJobs(ctx context.Context, accountID uuid.UUID, filter db.JobFilter) ([]*db.ScanJob, error) {
	return e.jobs.List(ctx, accountID, filter)
}

// StopScan requests cancellation of a job. Stopping a terminal job is a
// no-op; stopping a queued job cancels it immediately; stopping a running
// job cancels cooperatively, with a force fallback after the grace period.
func (e *Engine) StopScan(ctx context.Context, accountID, jobID uuid.UUID) (*db.ScanJob, error) {
	job, err := e.jobs.GetByID(ctx, accountID, jobID)
	if err != nil {
		return nil, err
	}

	if job.IsTerminal() {
		return job, nil
	}

	e.mu.Lock()
	a, ok := e.active[jobID]
	if !ok {
		e.mu.Unlock()
		// No in-memory state (for example after a restart): mark the job
		// cancelled directly.
		if err := e.jobs.UpdateStatus(ctx, jobID, db.JobStatusCancelled, nil); err != nil {
			return nil, err
		}
		return e.jobs.GetByID(ctx, accountID, jobID)
	}

	switch {
	case a.queued:
		a.finalized = true
		delete(e.active, jobID)
		e.mu.Unlock()
		if !e.admission.RemoveQueued(accountID, jobID) {
			// The job won admission after a release but before startJob
			// observed the promotion. It already holds a running slot, and
			// startJob bails on finalized jobs without returning it, so the
			// slot is given back here.
			e.dispatchAdmitted(e.admission.Release(accountID))
		}
		if err := e.jobs.UpdateStatus(ctx, jobID, db.JobStatusCancelled, nil); err != nil {
			return nil, err
		}
		e.recordTerminal(a, db.JobStatusCancelled)
		e.updateGauges()
	case a.cancelRequested:
		// Stop already in flight.
		e.mu.Unlock()
	default:
		a.cancelRequested = true
		cancel := a.cancel
		a.graceTimer = time.AfterFunc(e.cfg.CancelGracePeriod, func() {
			e.finalize(a, db.JobStatusCancelled, nil)
		})
		e.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		e.logger.InfoJob("scan job stop requested", jobID)
	}

	return e.jobs.GetByID(ctx, accountID, jobID)
}

// DeleteJob removes a terminal job and its result. Active jobs cannot be
// deleted.
func (e *Engine) DeleteJob(ctx context.Context, accountID, jobID uuid.UUID) error {
	job, err := e.jobs.GetByID(ctx, accountID, jobID)
	if err != nil {
		return err
	}

	if !job.IsTerminal() {
		return errors.NewJobError(errors.CodeJobStillActive,
			"job must reach a terminal state before deletion", jobID).WithStatus(job.Status)
	}

	if err := e.results.DeleteByJobID(ctx, jobID); err != nil && !errors.IsNotFound(err) {
		return err
	}
	return e.jobs.Delete(ctx, accountID, jobID)
}

// GetReport renders the persisted result of a completed job. Jobs that
// have not completed yield ResultNotReady.
func (e *Engine) GetReport(ctx context.Context, accountID, jobID uuid.UUID, format string) ([]byte, *db.ScanResult, error) {
	result, err := e.loadResult(ctx, accountID, jobID)
	if err != nil {
		return nil, nil, err
	}

	findings, err := report.UnmarshalFindings(result.Findings)
	if err != nil {
		return nil, nil, err
	}

	data, err := report.Render(findings, format)
	if err != nil {
		return nil, nil, err
	}
	return data, result, nil
}

// CompareReports diffs the results of two completed jobs owned by the
// account.
func (e *Engine) CompareReports(ctx context.Context, accountID, jobA, jobB uuid.UUID) (*report.Comparison, error) {
	resultA, err := e.loadResult(ctx, accountID, jobA)
	if err != nil {
		return nil, err
	}
	resultB, err := e.loadResult(ctx, accountID, jobB)
	if err != nil {
		return nil, err
	}

	findingsA, err := report.UnmarshalFindings(resultA.Findings)
	if err != nil {
		return nil, err
	}
	findingsB, err := report.UnmarshalFindings(resultB.Findings)
	if err != nil {
		return nil, err
	}

	return report.Compare(findingsA, findingsB), nil
}

// GetSummary aggregates the result of a completed job into per-scan
// totals.
func (e *Engine) GetSummary(ctx context.Context, accountID, jobID uuid.UUID) (*db.ScanJob, *report.Summary, error) {
	job, err := e.jobs.GetByID(ctx, accountID, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != db.JobStatusCompleted {
		return nil, nil, errors.NewJobError(errors.CodeResultNotReady,
			"job has no result yet", jobID).WithStatus(job.Status)
	}

	result, err := e.results.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	findings, err := report.UnmarshalFindings(result.Findings)
	if err != nil {
		return nil, nil, err
	}
	return job, report.Summarize(findings), nil
}

// Shutdown stops accepting work and waits for running jobs to finish or
// the context to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.rootStop()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loadResult fetches the result for a completed job, enforcing ownership
// and readiness.
func (e *Engine) loadResult(ctx context.Context, accountID, jobID uuid.UUID) (*db.ScanResult, error) {
	job, err := e.jobs.GetByID(ctx, accountID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != db.JobStatusCompleted {
		return nil, errors.NewJobError(errors.CodeResultNotReady,
			"job has no result yet", jobID).WithStatus(job.Status)
	}
	return e.results.GetByJobID(ctx, jobID)
}

// resolveTargets maps target ids to endpoint addresses, preserving the
// request order. Any id that is missing or owned by another account makes
// the whole submission read as not found.
func (e *Engine) resolveTargets(ctx context.Context, accountID uuid.UUID, ids []uuid.UUID) ([]string, error) {
	endpoints, err := e.endpoints.GetByIDs(ctx, accountID, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]string, len(endpoints))
	for _, ep := range endpoints {
		byID[ep.ID] = ep.Address
	}

	targets := make([]string, 0, len(ids))
	for _, id := range ids {
		addr, ok := byID[id]
		if !ok {
			return nil, errors.NewNotFound("endpoint", id)
		}
		targets = append(targets, addr)
	}
	return targets, nil
}

// rollbackAdmission undoes an Admit after a persistence failure. Freed
// capacity may admit queued jobs, which are dispatched as usual.
func (e *Engine) rollbackAdmission(accountID, jobID uuid.UUID, decision Decision) {
	switch decision {
	case DecisionAccepted:
		e.dispatchAdmitted(e.admission.Release(accountID))
	case DecisionQueued:
		if !e.admission.RemoveQueued(accountID, jobID) {
			// A concurrent release promoted the job before it could be
			// withdrawn; the charged slot comes back here.
			e.dispatchAdmitted(e.admission.Release(accountID))
		}
	}
	e.updateGauges()
}

// startJob transitions an admitted job to running and launches its
// executor goroutine.
func (e *Engine) startJob(a *activeJob) {
	e.mu.Lock()
	if a.finalized {
		e.mu.Unlock()
		return
	}
	if a.cancelRequested {
		e.mu.Unlock()
		e.finalize(a, db.JobStatusCancelled, nil)
		return
	}

	timeout := e.effectiveTimeout(a.params)
	ctx, cancel := context.WithTimeout(e.rootCtx, timeout)
	a.cancel = cancel
	a.queued = false
	a.startedAt = time.Now()
	e.mu.Unlock()

	dbCtx, dbCancel := context.WithTimeout(context.Background(), dbOpTimeout)
	err := e.jobs.UpdateStatus(dbCtx, a.job.ID, db.JobStatusRunning, nil)
	dbCancel()
	if err != nil {
		cancel()
		reason := err.Error()
		e.finalize(a, db.JobStatusFailed, &reason)
		return
	}
	a.job.Status = db.JobStatusRunning

	e.wg.Add(1)
	go e.runJob(ctx, a)
}

// runJob executes the scan and drives the job to a terminal state.
func (e *Engine) runJob(ctx context.Context, a *activeJob) {
	defer e.wg.Done()
	defer a.cancel()

	output, err := e.exec.Execute(ctx, &executor.Request{
		Targets: a.targets,
		Params:  a.params,
	})

	switch {
	case err == nil:
		e.completeJob(a, output)
	case stderrors.Is(err, context.DeadlineExceeded):
		e.mu.Lock()
		requested := a.cancelRequested
		e.mu.Unlock()
		if requested {
			e.finalize(a, db.JobStatusCancelled, nil)
		} else {
			reason := failureReasonTimeout
			e.finalize(a, db.JobStatusFailed, &reason)
		}
	case stderrors.Is(err, context.Canceled):
		e.mu.Lock()
		requested := a.cancelRequested
		e.mu.Unlock()
		if requested {
			e.finalize(a, db.JobStatusCancelled, nil)
		} else {
			// Daemon shutdown, not a user stop.
			reason := "Canceled"
			e.finalize(a, db.JobStatusFailed, &reason)
		}
	default:
		reason := err.Error()
		if e.metrics != nil {
			e.metrics.IncrementJobErrors(a.job.Type, string(errors.CodeExecutorFailure))
		}
		e.finalize(a, db.JobStatusFailed, &reason)
	}
}

// completeJob persists the normalized result and only then marks the job
// completed, so a completed status always has a readable result.
func (e *Engine) completeJob(a *activeJob, output *executor.RawOutput) {
	findings, parseIncomplete := report.Normalize(output, a.params)

	findingsJSON, err := findings.Marshal()
	if err != nil {
		reason := err.Error()
		e.finalize(a, db.JobStatusFailed, &reason)
		return
	}

	rawJSON, err := json.Marshal(output)
	if err != nil {
		rawJSON = nil
	}

	result := &db.ScanResult{
		ID:              uuid.New(),
		JobID:           a.job.ID,
		Findings:        findingsJSON,
		RawOutput:       db.JSONB(rawJSON),
		ParseIncomplete: parseIncomplete,
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), dbOpTimeout)
	err = e.results.Create(dbCtx, result)
	dbCancel()
	if err != nil {
		reason := err.Error()
		e.finalize(a, db.JobStatusFailed, &reason)
		return
	}

	e.finalize(a, db.JobStatusCompleted, nil)
}

// finalize drives a job to a terminal state exactly once. Late arrivals
// (an executor returning after a forced cancel, a grace timer firing
// after completion) are no-ops.
func (e *Engine) finalize(a *activeJob, status string, failureReason *string) {
	e.mu.Lock()
	if a.finalized {
		e.mu.Unlock()
		return
	}
	a.finalized = true
	if a.graceTimer != nil {
		a.graceTimer.Stop()
	}
	delete(e.active, a.job.ID)
	e.mu.Unlock()

	dbCtx, dbCancel := context.WithTimeout(context.Background(), dbOpTimeout)
	if err := e.jobs.UpdateStatus(dbCtx, a.job.ID, status, failureReason); err != nil {
		e.logger.ErrorJob("failed to persist terminal status", a.job.ID, err, "status", status)
	}
	dbCancel()
	a.job.Status = status

	e.recordTerminal(a, status)
	e.dispatchAdmitted(e.admission.Release(a.job.AccountID))
	e.updateGauges()

	e.logger.InfoJob("scan job finished", a.job.ID, "status", status)
}

// dispatchAdmitted starts jobs that gained admission from a released slot.
func (e *Engine) dispatchAdmitted(admitted []Admitted) {
	for _, adm := range admitted {
		e.mu.Lock()
		a, ok := e.active[adm.JobID]
		e.mu.Unlock()
		if ok {
			e.startJob(a)
		}
	}
}

// recordTerminal updates metrics for a terminal transition.
func (e *Engine) recordTerminal(a *activeJob, status string) {
	if e.metrics == nil {
		return
	}
	e.metrics.IncrementJobsTotal(a.job.Type, status)
	if !a.startedAt.IsZero() {
		e.metrics.RecordJobDuration(a.job.Type, time.Since(a.startedAt))
	}
}

// updateGauges refreshes the active and queued job gauges.
func (e *Engine) updateGauges() {
	if e.metrics == nil {
		return
	}
	e.metrics.SetActiveJobs(e.admission.Running())
	e.metrics.SetQueuedJobs(e.admission.Queued())
}

// effectiveTimeout bounds the validated per-job timeout by the configured
// maximum.
func (e *Engine) effectiveTimeout(v *params.Validated) time.Duration {
	timeout := time.Duration(v.TimeoutSeconds()) * time.Second
	if timeout <= 0 {
		timeout = e.cfg.DefaultJobTimeout
	}
	if e.cfg.MaxJobTimeout > 0 && timeout > e.cfg.MaxJobTimeout {
		timeout = e.cfg.MaxJobTimeout
	}
	return timeout
}
