package middleware

import (
	"net/http"

	"github.com/sokocart/sokocart/internal/auth"
	"github.com/sokocart/sokocart/pkg/logger"
)

// UserContext adds the authenticated user's id to the request-scoped logger.
// Must run after the auth middleware; anonymous requests pass through as-is.
func UserContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, ok := auth.UserFromContext(r.Context()); ok {
			ctx := logger.With(r.Context(), "user_id", user.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		next.ServeHTTP(w, r)
	})
}
