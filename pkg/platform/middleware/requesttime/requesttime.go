// Package requesttime pins one "now" per HTTP request so everything the
// request enqueues or audits shares a timestamp.
package requesttime

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"brokerguard/pkg/requestcontext"
)

// Middleware stores the request start time and correlation ID in the
// context. The correlation ID is chi's request ID when one is set.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		if reqID := middleware.GetReqID(ctx); reqID != "" {
			ctx = requestcontext.WithCorrelationID(ctx, reqID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
