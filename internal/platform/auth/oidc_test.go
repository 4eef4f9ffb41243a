package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func rsaPublicKeyToJWK(privateKey *rsa.PrivateKey, kid string) JWKSKey {
	pub := &privateKey.PublicKey
	return JWKSKey{
		Kty: "RSA",
		Kid: kid,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func newJWKSServer(t *testing.T, keys func() []JWKSKey) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(JWKSResponse{Keys: keys()})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return key
}

func TestDiscoverOIDC(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(OIDCProvider{
			Issuer:        "https://idp.example.com",
			TokenEndpoint: "https://idp.example.com/token",
			JWKSURI:       "https://idp.example.com/keys",
			SigningAlgs:   []string{"RS256"},
		})
	}))
	defer server.Close()

	provider, err := DiscoverOIDC(context.Background(), server.URL+"/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.JWKSURI != "https://idp.example.com/keys" {
		t.Errorf("expected jwks_uri, got %s", provider.JWKSURI)
	}
	if len(provider.SigningAlgs) != 1 || provider.SigningAlgs[0] != "RS256" {
		t.Errorf("unexpected algs %v", provider.SigningAlgs)
	}
}

func TestDiscoverOIDC_Errors(t *testing.T) {
	notFound := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer notFound.Close()
	if _, err := DiscoverOIDC(context.Background(), notFound.URL); err == nil {
		t.Error("expected error for 404 discovery")
	}

	noKeys := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"issuer": "x"})
	}))
	defer noKeys.Close()
	if _, err := DiscoverOIDC(context.Background(), noKeys.URL); err == nil {
		t.Error("expected error for missing jwks_uri")
	}

	if _, err := DiscoverOIDC(context.Background(), "http://127.0.0.1:1"); err == nil {
		t.Error("expected error for unreachable issuer")
	}
}

func TestResolveJWKS(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"jwks_uri": "https://idp.example.com/keys"})
	}))
	defer server.Close()

	cfg := JWTConfig{Issuer: server.URL}
	if err := ResolveJWKS(context.Background(), &cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.JWKSURL != "https://idp.example.com/keys" {
		t.Errorf("expected discovered JWKS URL, got %q", cfg.JWKSURL)
	}

	// An explicit key source skips discovery.
	explicit := JWTConfig{Issuer: "http://127.0.0.1:1", SigningKey: testSigningKey}
	if err := ResolveJWKS(context.Background(), &explicit); err != nil {
		t.Errorf("expected no discovery with a signing key, got %v", err)
	}
}

func TestJWKSCache_Fetch(t *testing.T) {
	privateKey := generateKey(t)
	server, calls := newJWKSServer(t, func() []JWKSKey {
		return []JWKSKey{rsaPublicKeyToJWK(privateKey, "k1")}
	})

	cache := NewJWKSCache(server.URL, 5*time.Minute)
	key, err := cache.GetKey("k1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.N.Cmp(privateKey.PublicKey.N) != 0 || key.E != privateKey.PublicKey.E {
		t.Error("fetched key does not match original")
	}

	if _, err := cache.GetKey("k1"); err != nil {
		t.Fatalf("unexpected error on cache hit: %v", err)
	}
	if n := atomic.LoadInt32(calls); n != 1 {
		t.Errorf("expected 1 fetch, got %d", n)
	}
}

func TestJWKSCache_UnknownKidRefetches(t *testing.T) {
	key1, key2 := generateKey(t), generateKey(t)
	var rotated atomic.Bool
	server, calls := newJWKSServer(t, func() []JWKSKey {
		if rotated.Load() {
			return []JWKSKey{rsaPublicKeyToJWK(key1, "k1"), rsaPublicKeyToJWK(key2, "k2")}
		}
		return []JWKSKey{rsaPublicKeyToJWK(key1, "k1")}
	})

	cache := NewJWKSCache(server.URL, 5*time.Minute)
	if _, err := cache.GetKey("k1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rotated.Store(true)

	got, err := cache.GetKey("k2")
	if err != nil {
		t.Fatalf("unexpected error after rotation: %v", err)
	}
	if got.N.Cmp(key2.PublicKey.N) != 0 {
		t.Error("rotated key modulus does not match")
	}
	if n := atomic.LoadInt32(calls); n != 2 {
		t.Errorf("expected 2 fetches, got %d", n)
	}
}

func TestJWKSCache_KeyNotFound(t *testing.T) {
	privateKey := generateKey(t)
	server, _ := newJWKSServer(t, func() []JWKSKey {
		return []JWKSKey{rsaPublicKeyToJWK(privateKey, "existing")}
	})

	if _, err := NewJWKSCache(server.URL, time.Minute).GetKey("missing"); err == nil {
		t.Fatal("expected error for unknown kid")
	}
}

func TestJWKSCache_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	if _, err := NewJWKSCache(server.URL, time.Minute).GetKey("any"); err == nil {
		t.Fatal("expected error for server error response")
	}
}

func TestParseRSAPublicKey_Invalid(t *testing.T) {
	if _, err := parseRSAPublicKey(JWKSKey{N: "!!!", E: "AQAB"}); err == nil {
		t.Error("expected error for invalid modulus")
	}
	if _, err := parseRSAPublicKey(JWKSKey{N: "AQAB", E: "!!!"}); err == nil {
		t.Error("expected error for invalid exponent")
	}
}

func TestJWTMiddleware_RS256ViaJWKS(t *testing.T) {
	privateKey := generateKey(t)
	server, _ := newJWKSServer(t, func() []JWKSKey {
		return []JWKSKey{rsaPublicKeyToJWK(privateKey, "clinic-key")}
	})

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "nurse-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: "acme",
		Roles:    []string{RoleNurse},
	})
	token.Header["kid"] = "clinic-key"
	signed, err := token.SignedString(privateKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var gotUser string
	mw := JWTMiddleware(JWTConfig{JWKSURL: server.URL})
	err = mw(func(c echo.Context) error {
		gotUser = UserIDFromContext(c.Request().Context())
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUser != "nurse-1" {
		t.Errorf("expected nurse-1, got %q", gotUser)
	}
}

func TestJWTMiddleware_MissingKid(t *testing.T) {
	privateKey := generateKey(t)
	server, _ := newJWKSServer(t, func() []JWKSKey { return nil })

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	signed, _ := token.SignedString(privateKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	c := e.NewContext(req, httptest.NewRecorder())

	err := JWTMiddleware(JWTConfig{JWKSURL: server.URL})(func(echo.Context) error { return nil })(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}
