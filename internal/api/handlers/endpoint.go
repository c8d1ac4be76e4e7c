package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/vigilsec/vigil/internal/db"
	"github.com/vigilsec/vigil/internal/logging"
)

// EndpointStore is the persistence surface the endpoint handlers need.
type EndpointStore interface {
	Create(ctx context.Context, endpoint *db.Endpoint) error
	GetByID(ctx context.Context, accountID, id uuid.UUID) (*db.Endpoint, error)
	List(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*db.Endpoint, error)
	Update(ctx context.Context, endpoint *db.Endpoint) error
	Delete(ctx context.Context, accountID, id uuid.UUID) error
}

// EndpointHandler handles scan target endpoints.
type EndpointHandler struct {
	store  EndpointStore
	logger *logging.Logger
}

// NewEndpointHandler creates an endpoint handler.
func NewEndpointHandler(store EndpointStore, logger *logging.Logger) *EndpointHandler {
	return &EndpointHandler{
		store:  store,
		logger: logger.WithComponent("api.endpoints"),
	}
}

// endpointRequest is the create/update payload for endpoints.
type endpointRequest struct {
	Name        string     `json:"name" validate:"required"`
	Address     string     `json:"address" validate:"required"`
	AddressType string     `json:"address_type" validate:"required,oneof=ip hostname cidr"`
	GroupID     *uuid.UUID `json:"group_id,omitempty"`
	Description *string    `json:"description,omitempty"`
	IsActive    *bool      `json:"is_active,omitempty"`
}

// Create registers a new endpoint.
func (h *EndpointHandler) Create(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}

	var req endpointRequest
	if err := parseAndValidate(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	endpoint := &db.Endpoint{
		ID:          uuid.New(),
		AccountID:   account,
		Name:        req.Name,
		Address:     req.Address,
		AddressType: req.AddressType,
		GroupID:     req.GroupID,
		Description: req.Description,
		IsActive:    true,
	}
	if req.IsActive != nil {
		endpoint.IsActive = *req.IsActive
	}

	if err := h.store.Create(r.Context(), endpoint); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, endpoint)
}

// List returns the account's endpoints.
func (h *EndpointHandler) List(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}

	pagination, err := getPaginationParams(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	endpoints, err := h.store.List(r.Context(), account, pagination.PageSize, pagination.Offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeList(w, r, endpoints, pagination, len(endpoints))
}

// Get returns one endpoint.
func (h *EndpointHandler) Get(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	endpoint, err := h.store.GetByID(r.Context(), account, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, endpoint)
}

// Update modifies an endpoint.
func (h *EndpointHandler) Update(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	var req endpointRequest
	if err := parseAndValidate(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	endpoint, err := h.store.GetByID(r.Context(), account, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	endpoint.Name = req.Name
	endpoint.Address = req.Address
	endpoint.AddressType = req.AddressType
	endpoint.GroupID = req.GroupID
	endpoint.Description = req.Description
	if req.IsActive != nil {
		endpoint.IsActive = *req.IsActive
	}

	if err := h.store.Update(r.Context(), endpoint); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, endpoint)
}

// Delete removes an endpoint.
func (h *EndpointHandler) Delete(w http.ResponseWriter, r *http.Request) {
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
