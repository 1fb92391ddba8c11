package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/servicehub/backend/internal/apperr"
	"github.com/servicehub/backend/internal/auth"
)

type stubAuthenticator map[string]*auth.Claims

func (s stubAuthenticator) Authenticate(_ context.Context, token string) (*auth.Claims, error) {
	if c, ok := s[token]; ok {
		return c, nil
	}
	return nil, apperr.New(apperr.Unauthorized, "Invalid token")
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-User", UserID(r.Context()))
	w.Header().Set("X-Token", TokenFrom(r.Context()))
	w.WriteHeader(http.StatusOK)
}

func TestAuthenticate(t *testing.T) {
	authn := stubAuthenticator{
		"user-token":  {UserID: "u1", Role: auth.RoleUser},
		"admin-token": {UserID: "a1", Role: auth.RoleAdmin},
	}
	h := Authenticate(authn)(http.HandlerFunc(okHandler))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUser   string
	}{
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, ""},
		{"empty token", "Bearer ", http.StatusUnauthorized, ""},
		{"unknown token", "Bearer nope", http.StatusUnauthorized, ""},
		{"valid token", "Bearer user-token", http.StatusOK, "u1"},
		{"lowercase scheme", "bearer admin-token", http.StatusOK, "a1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/user/profile", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantUser, w.Header().Get("X-User"))
			if tt.wantStatus == http.StatusUnauthorized {
				var body map[string]string
				require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
				assert.Equal(t, string(apperr.Unauthorized), body["kind"])
				assert.NotEmpty(t, body["error"])
			}
		})
	}
}

func TestAuthenticate_WebsocketQueryToken(t *testing.T) {
	authn := stubAuthenticator{"ws-token": {UserID: "u1", Role: auth.RoleUser}}
	h := Authenticate(authn)(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/api/ws/wallet?access_token=ws-token", nil)
	req.Header.Set("Upgrade", "websocket")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ws-token", w.Header().Get("X-Token"))

	// The query parameter is ignored on ordinary requests.
	req = httptest.NewRequest(http.MethodGet, "/api/user/profile?access_token=ws-token", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(auth.RoleAdmin)(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/services", nil)
	req = req.WithContext(WithClaims(req.Context(), &auth.Claims{UserID: "u1", Role: auth.RoleUser}, "t"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/admin/services", nil)
	req = req.WithContext(WithClaims(req.Context(), &auth.Claims{UserID: "a1", Role: auth.RoleAdmin}, "t"))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/services", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(okHandler)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "/health", fields["path"])
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
}
