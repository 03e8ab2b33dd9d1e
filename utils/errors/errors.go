package errors

import (
	"fmt"
	"net/http"
)

// APIError represents a custom error type for API responses
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Details string `json:"details,omitempty"`
}

// Error returns the error message
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any APIError carrying the same code, so a detailed copy of a
// sentinel still satisfies errors.Is against the sentinel.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func NewAPIError(code, message string, status int, details ...string) *APIError {
	err := &APIError{
		Code:    code,
		Message: message,
		Status:  status,
	}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}

var (
	ErrInvalidInput = NewAPIError("INVALID_INPUT", "Invalid request data", http.StatusBadRequest)
	ErrUnauthorized = NewAPIError("UNAUTHORIZED", "Authentication required", http.StatusUnauthorized)
	ErrNotFound     = NewAPIError("NOT_FOUND", "Resource not found", http.StatusNotFound)
	ErrInternal     = NewAPIError("INTERNAL_SERVER_ERROR", "Internal server error", http.StatusInternalServerError)
	ErrConflict     = NewAPIError("CONFLICT", "Resource conflict", http.StatusConflict)

	ErrEmptySearchQuery = NewAPIError("EMPTY_SEARCH_QUERY", "Please enter an address to search", http.StatusBadRequest)
	ErrAddressNotFound  = NewAPIError("ADDRESS_NOT_FOUND", "Could not find the specified address", http.StatusNotFound)
	ErrSearchFailed     = NewAPIError("SEARCH_FAILED", "An error occurred while searching for the address", http.StatusBadGateway)
	ErrUnknownTag       = NewAPIError("UNKNOWN_TAG", "Unknown amenity tag", http.StatusBadRequest)
	ErrInvalidLocation  = NewAPIError("INVALID_LOCATION", "Coordinates out of range", http.StatusBadRequest)
)

// WithDetails returns a copy of e carrying details.
func (e *APIError) WithDetails(details string) *APIError {
	cp := *e
	cp.Details = details
	return &cp
}

func Wrap(err error, code, message string, status int) *APIError {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr
	}
	return NewAPIError(code, message, status, err.Error())
}
