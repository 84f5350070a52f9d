// Package authboundary is the thin edge between an already-issued bearer
// token and the user_id the core operates on. The core never parses
// tokens: an external identity service resolves
// "Authorization: Bearer <token>" to a user_id string. This package
// attaches that resolved id to the request context; it carries no JWT
// parsing, session storage, or login flow of its own.
package authboundary

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey struct{}

// Resolver maps a bearer token to a user_id, or reports it invalid. The
// composition root supplies the real implementation (a call to whatever
// external identity service issued the token); this package only shapes
// the middleware around it.
type Resolver func(ctx context.Context, token string) (userID string, ok bool)

// WithUserID returns a context carrying the resolved user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserID recovers the user id attached by Middleware, if any.
func UserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKey{}).(string)
	return v, ok && v != ""
}

// Middleware extracts the bearer token, resolves it via resolve, and
// rejects the request with 401 when missing or invalid. Every handler
// downstream of it can assume UserID(ctx) succeeds.
func Middleware(resolve Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "missing bearer token")
				return
			}
			userID, ok := resolve(r.Context(), token)
			if !ok {
				unauthorized(w, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(h, prefix))
	return tok, tok != ""
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="misir"`)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"type":"about:blank","title":"Unauthorized","status":401,"detail":"` + detail + `"}`))
}
