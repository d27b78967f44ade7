package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/vidorahq/vidora-billing/pkg/logger"
)

const requestIDHeader = "X-Request-Id"

// RequestID tags every request with an id that flows through the logger and
// back out in the response header. A client-supplied id is honored only when
// it parses as a UUID; anything else is replaced, since these ids end up in
// billing audit logs.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(requestIDHeader)
			if _, err := uuid.Parse(reqID); err != nil {
				reqID = uuid.NewString()
			}

			w.Header().Set(requestIDHeader, reqID)

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
