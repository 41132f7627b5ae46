// Package accesslog provides a middleware that records every RESTful API call in a log message.
package accesslog

import (
	"net/http"
	"time"

	"github.com/KretovDmitry/ledger-service/pkg/header"
	"github.com/KretovDmitry/ledger-service/pkg/logger"
	"github.com/go-chi/chi/v5/middleware"
)

// Handler returns a middleware that records an access log message for every HTTP request being processed.
func Handler(l logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		f := func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Associate request ID and session ID with the request context
			// so that they can be added to the log messages.
			ctx := logger.WithRequest(r.Context(), r)
			w.Header().Set(header.RequestID, logger.RequestID(ctx))

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(ctx))

			// Generate an access log message.
			l.With(ctx, "duration", time.Since(start).Milliseconds(), "status", ww.Status()).
				Infof("%s %s %s %d %d", r.Method, r.URL.Path, r.Proto, ww.Status(), ww.BytesWritten())
		}
		return http.HandlerFunc(f)
	}
}
