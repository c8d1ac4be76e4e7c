package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/vigilsec/vigil/internal/db"
	"github.com/vigilsec/vigil/internal/logging"
)

// GroupStore is the persistence surface the group handlers need.
type GroupStore interface {
	Create(ctx context.Context, group *db.EndpointGroup) error
	GetByID(ctx context.Context, accountID, id uuid.UUID) (*db.EndpointGroup, error)
	List(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*db.EndpointGroup, error)
	Update(ctx context.Context, group *db.EndpointGroup) error
	Delete(ctx context.Context, accountID, id uuid.UUID) error
}

// GroupHandler handles endpoint group endpoints.
type GroupHandler struct {
	store  GroupStore
	logger *logging.Logger
}

// NewGroupHandler creates a group handler.
func NewGroupHandler(store GroupStore, logger *logging.Logger) *GroupHandler {
	return &GroupHandler{
		store:  store,
		logger: logger.WithComponent("api.groups"),
	}
}

// groupRequest is the create/update payload for endpoint groups.
type groupRequest struct {
	Name        string  `json:"name" validate:"required"`
	Description *string `json:"description,omitempty"`
}

// Create registers a new endpoint group.
func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}

	var req groupRequest
	if err := parseAndValidate(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	group := &db.EndpointGroup{
		ID:          uuid.New(),
		AccountID:   account,
		Name:        req.Name,
		Description: req.Description,
	}

	if err := h.store.Create(r.Context(), group); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, group)
}

// List returns the account's endpoint groups.
func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}

	pagination, err := getPaginationParams(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	groups, err := h.store.List(r.Context(), account, pagination.PageSize, pagination.Offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeList(w, r, groups, pagination, len(groups))
}

// Get returns one endpoint group.
func (h *GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	group, err := h.store.GetByID(r.Context(), account, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, group)
}

// Update modifies an endpoint group.
func (h *GroupHandler) Update(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	var req groupRequest
	if err := parseAndValidate(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	group, err := h.store.GetByID(r.Context(), account, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	group.Name = req.Name
	group.Description = req.Description

	if err := h.store.Update(r.Context(), group); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, group)
}

// Delete removes an endpoint group.
func (h *GroupHandler) Delete(w http.ResponseWriter, r *http.Request) {
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
