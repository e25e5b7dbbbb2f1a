package testutil

import (
	"io"
	"log/slog"
	"net/http"

	id "certdesk/pkg/domain"
	"certdesk/pkg/requestcontext"
)

// AsActor stands in for the auth middleware: every request passing through
// it carries the given identity.
func AsActor(userID id.UserID, role, email string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithActor(r.Context(), userID, role, email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
