package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const userIDKey contextKey = "user_id"

// RequireUser resolves the authenticated user from the X-User-ID
// header set by the identity layer upstream. The core trusts this
// value and performs no further authentication.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-User-ID")
		if raw == "" {
			http.Error(w, "missing X-User-ID header", http.StatusUnauthorized)
			return
		}
		userID, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "malformed X-User-ID header", http.StatusBadRequest)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userFrom returns the resolved user ID from the request context
func userFrom(r *http.Request) uuid.UUID {
	userID, _ := r.Context().Value(userIDKey).(uuid.UUID)
	return userID
}
