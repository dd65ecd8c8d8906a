package middleware

import (
	"encoding/json"
	"net/http"
)

// errorBody mirrors the api package's error response shape. Duplicated here
// so middleware does not import the api package (the dependency runs the
// other way).
type errorBody struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
}

// writeError writes the standard JSON error body without importing the api package.
func writeError(w http.ResponseWriter, statusCode int, message, correlationID string) error {
	body := errorBody{
		Error:         http.StatusText(statusCode),
		Message:       message,
		CorrelationID: correlationID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	return json.NewEncoder(w).Encode(body)
}
