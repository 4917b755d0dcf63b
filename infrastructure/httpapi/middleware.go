package httpapi

import (
	"context"
	"net/http"
	"strings"

	"chat-hub/domain"
)

type contextKey string

const userIDKey contextKey = "user_id"

// authenticated verifies the bearer token and injects the caller identity
// into the request context. The socket handshake has its own path; this
// guard covers the REST routes only.
func (s *Server) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if credential == "" {
			s.respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		userID, _, err := s.verifier.Verify(credential)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerID(r *http.Request) domain.UserID {
	id, _ := r.Context().Value(userIDKey).(domain.UserID)
	return id
}
