package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	errors "github.com/sokocart/sokocart/internal"
)

func writeAppError(w http.ResponseWriter, appErr *errors.AppError) {
	status, body := appErr.ToHTTPResponse()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

// RequireAuth verifies the bearer token and puts the authenticated user into
// the request context.
func RequireAuth(verifier *Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeAppError(w, errors.NewUnauthorizedError("authorization header required", errors.ErrCodeInvalidToken))
				return
			}

			user, err := verifier.Verify(token)
			if err != nil {
				appErr, ok := errors.IsAppError(err)
				if !ok {
					appErr = errors.ErrInvalidToken
				}
				logger.Warn("token verification failed", "error", err, "path", r.URL.Path)
				writeAppError(w, appErr)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// RequireStaff guards fulfilment and analytics endpoints. Must run after
// RequireAuth.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			writeAppError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
			return
		}
		if !user.IsStaff() {
			writeAppError(w, errors.ErrUnauthorizedAccess)
			return
		}
		next.ServeHTTP(w, r)
	})
}
