// Package auth turns a bearer token into the request actor.
package auth

import (
	"log/slog"
	"net/http"
	"strings"

	id "certdesk/pkg/domain"
	dErrors "certdesk/pkg/domain-errors"
	"certdesk/pkg/platform/httputil"
	"certdesk/pkg/requestcontext"
)

// Claims is the identity a validated token carries.
type Claims struct {
	UserID id.UserID
	Role   string
	Email  string
}

// TokenValidator checks a raw bearer token.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// RoleParser rejects roles the application does not know.
type RoleParser func(string) error

// RequireAuth rejects requests without a valid bearer token and places the
// caller's identity on the context for services to read.
func RequireAuth(validator TokenValidator, parseRole RoleParser, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token", "request_id", requestID)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			claims, err := validator.ValidateToken(strings.TrimSpace(token))
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token", "error", err, "request_id", requestID)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token"))
				return
			}
			if claims.UserID.IsNil() {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "token has no subject"))
				return
			}
			if parseRole != nil {
				if err := parseRole(claims.Role); err != nil {
					logger.WarnContext(ctx, "forbidden - unknown role", "role", claims.Role, "request_id", requestID)
					httputil.WriteError(w, err)
					return
				}
			}

			ctx = requestcontext.WithActor(ctx, claims.UserID, claims.Role, claims.Email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
