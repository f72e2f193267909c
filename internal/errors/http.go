package errors

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// HTTPError is the body of every server error.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse is the JSON error envelope.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// WriteHTTPError writes an error envelope with the request ID, if any.
func WriteHTTPError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	resp := HTTPErrorResponse{Error: HTTPError{
		Code:    code,
		Message: message,
		Details: details,
	}}
	if r != nil {
		resp.Error.RequestID = middleware.GetReqID(r.Context())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// RespondWithError writes err as an error envelope, classified by Describe.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := Describe(err)
	WriteHTTPError(w, r, status, code, message, nil)
}
