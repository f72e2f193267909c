package middleware

import (
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	errwrap "github.com/3leaps/gcpal/internal/errors"
)

// RateLimit rejects requests beyond limiter's rate with 429. A nil limiter
// passes everything through.
func RateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := limiter.Reserve()
			if !res.OK() {
				throttled(w, r)
				return
			}
			if d := res.Delay(); d > 0 {
				res.Cancel()
				w.Header().Set("Retry-After", strconv.Itoa(int(d.Round(time.Second)/time.Second)+1))
				throttled(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func throttled(w http.ResponseWriter, r *http.Request) {
	errwrap.WriteHTTPError(w, r, http.StatusTooManyRequests, string(errwrap.KindThrottled), "rate limit exceeded", nil)
}

// CORS sets Access-Control headers for the listed origins and answers
// preflight requests. "*" allows any origin.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		if len(allowed) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowed["*"] || allowed[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Add("Vary", "Origin")
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
