package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vigilsec/vigil/internal/db"
	"github.com/vigilsec/vigil/internal/logging"
	"github.com/vigilsec/vigil/internal/params"
	"github.com/vigilsec/vigil/internal/scheduler"
)

// ScheduleStore is the persistence surface the schedule handlers need.
type ScheduleStore interface {
	Create(ctx context.Context, schedule *db.ScheduledScan) error
	GetByID(ctx context.Context, accountID, id uuid.UUID) (*db.ScheduledScan, error)
	List(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*db.ScheduledScan, error)
	Update(ctx context.Context, schedule *db.ScheduledScan) error
	Delete(ctx context.Context, accountID, id uuid.UUID) error
}

// ScheduleHandler handles scheduled scan definition endpoints.
type ScheduleHandler struct {
	store  ScheduleStore
	logger *logging.Logger
}

// NewScheduleHandler creates a schedule handler.
func NewScheduleHandler(store ScheduleStore, logger *logging.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		store:  store,
		logger: logger.WithComponent("api.schedules"),
	}
}

// createScheduleRequest is the POST /schedules payload.
type createScheduleRequest struct {
	Name           string          `json:"name" validate:"required"`
	ScanType       string          `json:"scan_type" validate:"required"`
	Params         json.RawMessage `json:"params"`
	TargetIDs      []uuid.UUID     `json:"target_ids" validate:"required,min=1"`
	ScheduleType   string          `json:"schedule_type" validate:"required"`
	IntervalSecs   *int64          `json:"interval_seconds,omitempty"`
	CronExpression *string         `json:"cron_expression,omitempty"`
	StartAt        *time.Time      `json:"start_at,omitempty"`
}

// updateScheduleRequest is the PUT /schedules/{id} payload. Omitted
// fields keep their stored values; next_run is never writable here.
type updateScheduleRequest struct {
	Name           *string         `json:"name,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	TargetIDs      []uuid.UUID     `json:"target_ids,omitempty"`
	ScheduleType   *string         `json:"schedule_type,omitempty"`
	IntervalSecs   *int64          `json:"interval_seconds,omitempty"`
	CronExpression *string         `json:"cron_expression,omitempty"`
	IsActive       *bool           `json:"is_active,omitempty"`
}

// Create registers a new scheduled scan definition.
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}

	var req createScheduleRequest
	if err := parseAndValidate(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	validated, err := params.Validate(req.ScanType, req.Params)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	paramsJSON, err := validated.Marshal()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if err := scheduler.ValidateDefinition(req.ScheduleType, req.IntervalSecs, req.CronExpression); err != nil {
		writeServiceError(w, r, err)
		return
	}

	// The first run happens at start_at when given, otherwise the
	// definition is due on the next sweep.
	nextRun := time.Now().UTC()
	if req.StartAt != nil {
		nextRun = req.StartAt.UTC()
	}

	schedule := &db.ScheduledScan{
		ID:             uuid.New(),
		AccountID:      account,
		Name:           req.Name,
		ScanType:       req.ScanType,
		Params:         paramsJSON,
		TargetIDs:      db.TargetStrings(req.TargetIDs),
		ScheduleType:   req.ScheduleType,
		IntervalSecs:   req.IntervalSecs,
		CronExpression: req.CronExpression,
		IsActive:       true,
		NextRun:        nextRun,
	}

	if err := h.store.Create(r.Context(), schedule); err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.logger.Info("schedule created",
		"schedule_id", schedule.ID.String(), "schedule_type", schedule.ScheduleType)
	writeJSON(w, r, http.StatusCreated, schedule)
}

// List returns the account's scheduled scan definitions.
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}

	pagination, err := getPaginationParams(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	schedules, err := h.store.List(r.Context(), account, pagination.PageSize, pagination.Offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeList(w, r, schedules, pagination, len(schedules))
}

// Get returns one scheduled scan definition.
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	schedule, err := h.store.GetByID(r.Context(), account, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, schedule)
}

// Update modifies a scheduled scan definition. Toggling is_active never
// resets next_run.
func (h *ScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	var req updateScheduleRequest
	if err := parseJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	schedule, err := h.store.GetByID(r.Context(), account, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if req.Name != nil {
		schedule.Name = *req.Name
	}
	if req.Params != nil {
		validated, err := params.Validate(schedule.ScanType, req.Params)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		paramsJSON, err := validated.Marshal()
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		schedule.Params = paramsJSON
	}
	if req.TargetIDs != nil {
		schedule.TargetIDs = db.TargetStrings(req.TargetIDs)
	}
	if req.ScheduleType != nil {
		schedule.ScheduleType = *req.ScheduleType
	}
	if req.IntervalSecs != nil {
		schedule.IntervalSecs = req.IntervalSecs
	}
	if req.CronExpression != nil {
		schedule.CronExpression = req.CronExpression
	}
	if req.IsActive != nil {
		schedule.IsActive = *req.IsActive
	}

	if err := scheduler.ValidateDefinition(schedule.ScheduleType,
		schedule.IntervalSecs, schedule.CronExpression); err != nil {
		writeServiceError(w, r, err)
		return
	}

	if err := h.store.Update(r.Context(), schedule); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, schedule)
}

// Delete removes a scheduled scan definition. Jobs it already spawned
// are unaffected.
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	if err := h.store.Delete(r.Context(), account, id); err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
