// Package middleware holds the HTTP middleware for gcpal serve.
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	errwrap "github.com/3leaps/gcpal/internal/errors"
	"github.com/3leaps/gcpal/internal/observability"
)

// RequestID assigns or propagates X-Request-ID.
var RequestID = chimw.RequestID

// Recovery turns a handler panic into a 500 envelope. The panic value is
// logged with the stack and kept out of the response body.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			observability.CLILogger.Error("Panic in handler",
				zap.Any("panic", rec),
				zap.String("path", r.URL.Path),
				zap.String("request_id", chimw.GetReqID(r.Context())),
				zap.ByteString("stack", debug.Stack()))
			errwrap.RespondWithError(w, r, &errwrap.Error{
				Kind:    errwrap.KindInternal,
				Message: "handler panicked",
				Err:     fmt.Errorf("panic: %v", rec),
			})
		}()
		next.ServeHTTP(w, r)
	})
}

// AccessLog logs one debug line per request with its status and latency.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		observability.CLILogger.Debug("Request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())))
	})
}
