package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/servicehub/backend/internal/apperr"
	"github.com/servicehub/backend/internal/auth"
)

type ctxKey int

const (
	claimsKey ctxKey = iota
	tokenKey
)

// Authenticator validates a bearer token, including the revocation check.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Claims, error)
}

// Authenticate rejects requests without a valid bearer token and stores the
// claims on the request context.
func Authenticate(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, apperr.Unauthorized, "Access token required")
				return
			}

			claims, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, apperr.Unauthorized, apperr.MessageOf(err))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims, token)))
		})
	}
}

// RequireRole must run after Authenticate.
func RequireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFrom(r.Context())
			if claims == nil || claims.Role != role {
				writeError(w, http.StatusForbidden, apperr.Forbidden, "Access denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithClaims(ctx context.Context, claims *auth.Claims, token string) context.Context {
	ctx = context.WithValue(ctx, claimsKey, claims)
	return context.WithValue(ctx, tokenKey, token)
}

func ClaimsFrom(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey).(*auth.Claims)
	return c
}

// UserID returns the authenticated subject, or "" when there is none.
func UserID(ctx context.Context) string {
	if c := ClaimsFrom(ctx); c != nil {
		return c.UserID
	}
	return ""
}

func TokenFrom(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// websocket upgrades, so a token query parameter is accepted there too.
func bearerToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		if t := r.URL.Query().Get("access_token"); t != "" {
			return t, true
		}
	}
	return "", false
}

func writeError(w http.ResponseWriter, status int, kind apperr.Kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "kind": string(kind)})
}
