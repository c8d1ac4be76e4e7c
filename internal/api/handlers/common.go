// Package handlers provides HTTP request handlers for the vigil API.
// This file contains shared utilities: response writing, error-to-status
// mapping, request parsing, and pagination.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/vigilsec/vigil/internal/api/middleware"
	"github.com/vigilsec/vigil/internal/errors"
	"github.com/vigilsec/vigil/internal/logging"
)

// validate checks struct tags on decoded request bodies.
var validate = validator.New()

// maxRequestBody bounds request body size.
const maxRequestBody = 1 << 20 // 1MB

// PaginationParams holds pagination parameters mapped onto repository
// limit/offset semantics.
type PaginationParams struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Offset   int `json:"offset"`
}

// ListResponse wraps list results with their pagination window.
type ListResponse struct {
	Data     interface{} `json:"data"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Count    int         `json:"count"`
}

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// accountID extracts the account placed by the account middleware.
func accountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := middleware.GetAccountID(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, fmt.Errorf("account identity is required"))
	}
	return id, ok
}

// pathUUID extracts a UUID path variable.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw, exists := mux.Vars(r)[name]
	if !exists {
		return uuid.Nil, fmt.Errorf("%s not provided", name)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %s", name, raw)
	}
	return id, nil
}

// getQueryParamInt extracts an integer query parameter with a default.
func getQueryParamInt(r *http.Request, key string, defaultValue int) (int, error) {
	if value := r.URL.Query().Get(key); value != "" {
		return strconv.Atoi(value)
	}
	return defaultValue, nil
}

// getPaginationParams extracts pagination parameters from the request.
func getPaginationParams(r *http.Request) (PaginationParams, error) {
	const (
		defaultPage     = 1
		defaultPageSize = 50
		maxPageSize     = 500
	)

	page, err := getQueryParamInt(r, "page", defaultPage)
	if err != nil {
		return PaginationParams{}, fmt.Errorf("invalid page parameter: %w", err)
	}
	pageSize, err := getQueryParamInt(r, "page_size", defaultPageSize)
	if err != nil {
		return PaginationParams{}, fmt.Errorf("invalid page_size parameter: %w", err)
	}

	if page < 1 {
		page = defaultPage
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	return PaginationParams{
		Page:     page,
		PageSize: pageSize,
		Offset:   (page - 1) * pageSize,
	}, nil
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error("failed to encode JSON response",
			"request_id", middleware.GetRequestID(r), "error", err)
	}
}

// writeList writes a paginated list response.
func writeList(w http.ResponseWriter, r *http.Request, data interface{}, params PaginationParams, count int) {
	writeJSON(w, r, http.StatusOK, ListResponse{
		Data:     data,
		Page:     params.Page,
		PageSize: params.PageSize,
		Count:    count,
	})
}

// writeError writes an error response with an explicit status code.
func writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	response := ErrorResponse{
		Error:     http.StatusText(statusCode),
		Code:      string(errors.GetCode(err)),
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetRequestID(r),
	}
	writeJSON(w, r, statusCode, response)
}

// writeServiceError maps service error codes onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, statusForError(err), err)
}

// statusForError maps error codes to HTTP statuses. Unknown codes read
// as internal errors.
func statusForError(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeInvalidParameters, errors.CodeUnsupportedScanType:
		return http.StatusBadRequest
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeTooManyPendingJobs:
		return http.StatusTooManyRequests
	case errors.CodeJobStillActive, errors.CodeResultNotReady, errors.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// parseJSON decodes a JSON request body strictly: unknown fields and
// oversized bodies are rejected.
func parseJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("request body is empty")
	}

	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBody)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// parseAndValidate decodes a request body and checks its validate tags.
func parseAndValidate(r *http.Request, dest interface{}) error {
	if err := parseJSON(r, dest); err != nil {
		return err
	}
	if err := validate.Struct(dest); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}
