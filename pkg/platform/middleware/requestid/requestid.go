// Package requestid assigns a correlation ID to every request. Incoming
// X-Request-ID headers are trusted (the gateway in front sets them);
// otherwise a fresh UUID is generated. The ID flows through
// requestcontext and is echoed back in the response header.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"refledger/pkg/requestcontext"
)

const headerName = "X-Request-ID"

// Middleware injects the request ID into the context and response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(headerName)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(headerName, reqID)
		ctx := requestcontext.WithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
