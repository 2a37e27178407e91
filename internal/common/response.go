package common

import (
	"encoding/json"
	"net/http"
)

// ErrorBody represents a consistent error payload returned by the API.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// DataBody is the envelope of successful responses.
type DataBody struct {
	Data       any         `json:"data"`
	Count      *int64      `json:"count,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// JSON writes the provided value to the response writer as JSON.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Data writes v wrapped in the data envelope.
func Data(w http.ResponseWriter, status int, v any) {
	JSON(w, status, DataBody{Data: v})
}

// Page writes a list wrapped in the data envelope with count and pagination.
func Page(w http.ResponseWriter, items any, p Pagination) {
	count := int64(p.TotalItems)
	JSON(w, http.StatusOK, DataBody{Data: items, Count: &count, Pagination: &p})
}

// JSONError renders an error response using the canonical error shape.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, map[string]any{
		"error": ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}
