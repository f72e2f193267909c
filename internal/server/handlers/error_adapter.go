package handlers

import (
	"net/http"

	errwrap "github.com/3leaps/gcpal/internal/errors"
)

// HTTPErrorResponder writes err to w.
type HTTPErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

var httpErrorResponder HTTPErrorResponder = errwrap.RespondWithError

// SetHTTPErrorResponder replaces the error responder. Nil restores the
// default, which maps gcp errors to HTTP statuses.
func SetHTTPErrorResponder(fn HTTPErrorResponder) {
	if fn == nil {
		fn = errwrap.RespondWithError
	}
	httpErrorResponder = fn
}

// ResetHTTPErrorResponder restores the default responder.
func ResetHTTPErrorResponder() {
	httpErrorResponder = errwrap.RespondWithError
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}
