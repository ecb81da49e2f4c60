package server

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/ranchhand/ranchhand/pkg/log"
)

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware tags every request with an ID so log lines from one
// request can be correlated. An incoming ID from a proxy is kept.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)

		ctx := log.With(r.Context(), log.Ctx(r.Context()).With(slog.String("requestID", reqID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
