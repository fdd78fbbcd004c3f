package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Tyrowin/projectchat/internal/chat"
)

type identityContextKey struct{}

// WithIdentity attaches identity to ctx.
func WithIdentity(ctx context.Context, identity chat.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext returns the identity attached by Middleware.
func IdentityFromContext(ctx context.Context) (chat.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(chat.Identity)
	return identity, ok
}

// BearerToken extracts the credential from the Authorization header, falling
// back to the token query parameter used by browser WebSocket clients.
func BearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		lower := strings.ToLower(header)
		if strings.HasPrefix(lower, "bearer ") {
			return strings.TrimSpace(header[len("bearer "):])
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// Middleware rejects requests without a valid bearer token and stores the
// caller's identity in the request context.
func Middleware(validator chat.Validator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := validator.Validate(BearerToken(r))
			if err != nil {
				if logger != nil {
					logger.Warn("request authentication failed", "path", r.URL.Path, "error", err)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"message":"Authentication error"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}
