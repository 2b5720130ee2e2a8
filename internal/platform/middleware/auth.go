package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"entityid/internal/platform/jwt"
	"entityid/pkg/requestcontext"
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	ValidateToken(tokenString string) (*jwt.Claims, error)
}

// RequireAuth rejects requests without a valid bearer token and puts the
// token subject and roles on the request context.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, logger, r, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, logger, r, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			ctx = requestcontext.WithActor(ctx, claims.Subject)
			ctx = requestcontext.WithRoles(ctx, claims.Roles...)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated callers that lack role.
func RequireRole(role string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if !requestcontext.HasRole(ctx, role) {
				logger.WarnContext(ctx, "forbidden - missing role",
					"role", role,
					"actor", requestcontext.Actor(ctx),
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, logger, r, http.StatusForbidden, "forbidden", "role "+role+" required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err := w.Write([]byte(`{"error":"` + code + `","error_description":"` + description + `"}`))
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to write error response",
			"error", err,
			"request_id", requestcontext.RequestID(r.Context()),
		)
	}
}
