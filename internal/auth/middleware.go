package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/stridehq/stride/internal/schema"
)

type contextKey string

const identityKey contextKey = "stride-auth-identity"

// WithIdentity stores the resolved identity on the context.
func WithIdentity(ctx context.Context, identity *schema.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// FromContext retrieves the identity stored by WithIdentity.
func FromContext(ctx context.Context) (*schema.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*schema.Identity)
	return identity, ok
}

// Skipper allows callers to bypass authentication for specific requests.
type Skipper func(r *http.Request) bool

// Middleware provides HTTP middleware for bearer-token validation.
// Unauthenticated requests are rejected before any data access.
type Middleware struct {
	Config  Config
	Skipper Skipper
}

// NewMiddleware constructs a middleware with optional skipper.
func NewMiddleware(cfg Config, skipper Skipper) Middleware {
	return Middleware{Config: cfg, Skipper: skipper}
}

// Wrap wraps an http.Handler with authentication.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skipper != nil && m.Skipper(r) {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := FromHeader(r.Header.Get("Authorization"), m.Config)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized: " + err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}
