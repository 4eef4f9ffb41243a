package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func newRevocationContext(e *echo.Echo, method, path, body string, roles []string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(context.WithValue(req.Context(), UserRolesKey, roles))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandleRevokeToken(t *testing.T) {
	store := NewMemoryRevocations(time.Minute)
	defer store.Close()
	e := echo.New()

	c, rec := newRevocationContext(e, http.MethodPost, "/api/v1/auth/revoke",
		`{"jti":"token-xyz","expires_at":"2099-01-01T00:00:00Z"}`, []string{RoleAdmin})
	if err := handleRevokeToken(store)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if ok, _ := store.IsRevoked(context.Background(), "token-xyz"); !ok {
		t.Error("expected token-xyz to be revoked")
	}
}

func TestHandleRevokeToken_MissingJTI(t *testing.T) {
	store := NewMemoryRevocations(time.Minute)
	defer store.Close()

	c, _ := newRevocationContext(echo.New(), http.MethodPost, "/api/v1/auth/revoke", `{}`, []string{RoleAdmin})
	err := handleRevokeToken(store)(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandleLogout(t *testing.T) {
	store := NewMemoryRevocations(time.Minute)
	defer store.Close()

	c, rec := newRevocationContext(echo.New(), http.MethodPost, "/api/v1/auth/logout", "", nil)
	c.Set("jwt_id", "session-1")
	c.Set("jwt_expires_at", time.Now().Add(time.Hour))

	if err := handleLogout(store)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if ok, _ := store.IsRevoked(context.Background(), "session-1"); !ok {
		t.Error("expected caller's token to be revoked")
	}
}

func TestHandleLogout_NoJTI(t *testing.T) {
	store := NewMemoryRevocations(time.Minute)
	defer store.Close()

	c, _ := newRevocationContext(echo.New(), http.MethodPost, "/api/v1/auth/logout", "", nil)
	err := handleLogout(store)(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestRevokeRoute_NonAdminDenied(t *testing.T) {
	store := NewMemoryRevocations(time.Minute)
	defer store.Close()

	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := WithIdentity(c.Request().Context(), "nurse-1", RoleNurse)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	RegisterSessionRoutes(e.Group("/api/v1"), store)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/revoke", strings.NewReader(`{"jti":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestJWTMiddleware_RejectsRevokedToken(t *testing.T) {
	store := NewMemoryRevocations(time.Minute)
	defer store.Close()

	exp := time.Now().Add(time.Hour)
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti-revoked",
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		TenantID: "acme",
		Roles:    []string{RolePhysician},
	}, testSigningKey)

	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Revocations: store})
	run := func() (echo.Context, error) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tokenStr)
		c := echo.New().NewContext(req, httptest.NewRecorder())
		return c, mw(func(echo.Context) error { return nil })(c)
	}

	c, err := run()
	if err != nil {
		t.Fatalf("expected token to pass before revocation: %v", err)
	}
	if got, _ := c.Get("jwt_id").(string); got != "jti-revoked" {
		t.Errorf("expected jwt_id on context, got %q", got)
	}

	_ = store.Revoke(context.Background(), "jti-revoked", exp)
	_, err = run()
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 after revocation, got %v", err)
	}
}
