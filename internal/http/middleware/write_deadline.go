package middleware

import (
	"net/http"
	"time"
)

// NoWriteDeadline clears the server's WriteTimeout for the wrapped routes.
// Webhook turns are bounded by their per-call timeouts instead.
func NoWriteDeadline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Recorders and other writers without a conn return ErrNotSupported.
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
		next.ServeHTTP(w, r)
	})
}
