package middleware

import (
	"log/slog"
	"net/http"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/logger"
)

// RequestLogger builds a request-scoped logger enriched with correlation_id and
// the OpenTelemetry trace/span ids, and stores it in context via
// logger.NewContext. Auth later adds the principal's email to the same logger.
//
// Mount AFTER RequestLogging (which sets correlation_id) and Tracing.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if claims := ClaimsFromContext(ctx); claims != nil {
				ctx = logger.WithUserEmail(ctx, claims.Email)
			}

			enriched := logger.WithContext(ctx, base)
			ctx = logger.NewContext(ctx, enriched)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
