package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func withSecret(t *testing.T) {
	t.Setenv(SecretEnv, "test-secret")
}

// TestSessionTokenRoundTrip tests token creation and validation
func TestSessionTokenRoundTrip(t *testing.T) {
	withSecret(t)
	sessionID := "3f8c2a1e-test"

	token, err := GenerateSessionToken(sessionID)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	if token == "" {
		t.Fatal("Generated token should not be empty")
	}

	claims, err := ValidateSessionToken(token)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}
	if claims.SessionID != sessionID {
		t.Errorf("Expected session ID %s, got %s", sessionID, claims.SessionID)
	}
	if claims.Issuer != tokenIssuer {
		t.Errorf("Expected issuer %s, got %s", tokenIssuer, claims.Issuer)
	}
}

func signed(t *testing.T, method jwt.SigningMethod, key interface{}, claims SessionClaims) string {
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return s
}

func validClaims(sessionID string) SessionClaims {
	now := time.Now()
	return SessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}
}

// TestRejectedTokens tests tokens that must not re-attach a session
func TestRejectedTokens(t *testing.T) {
	withSecret(t)
	secret := []byte("test-secret")

	expired := validClaims("s1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	foreign := validClaims("s1")
	foreign.Issuer = "someone-else"

	noExpiry := validClaims("s1")
	noExpiry.ExpiresAt = nil

	cases := map[string]string{
		"empty":         "",
		"garbage":       "invalid.token.here",
		"expired":       signed(t, jwt.SigningMethodHS256, secret, expired),
		"wrong secret":  signed(t, jwt.SigningMethodHS256, []byte("other"), validClaims("s1")),
		"wrong issuer":  signed(t, jwt.SigningMethodHS256, secret, foreign),
		"no expiry":     signed(t, jwt.SigningMethodHS256, secret, noExpiry),
		"no session id": signed(t, jwt.SigningMethodHS256, secret, validClaims("")),
		"alg none":      signed(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, validClaims("s1")),
	}
	for name, token := range cases {
		if _, err := ValidateSessionToken(token); err == nil {
			t.Errorf("%s: token should be rejected", name)
		}
	}
}

// TestProcessSecret tests the fallback secret used without configuration
func TestProcessSecret(t *testing.T) {
	t.Setenv(SecretEnv, "")
	first := getJWTSecret()
	if len(first) == 0 {
		t.Fatal("Fallback secret should not be empty")
	}
	if string(first) != string(getJWTSecret()) {
		t.Error("Fallback secret should be stable within the process")
	}
}

// TestExtractTokenFromRequest tests the token sources in priority order
func TestExtractTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws?token=from-query", nil)
	req.AddCookie(&http.Cookie{Name: tokenCookieName, Value: "from-cookie"})
	req.Header.Set("Authorization", "Bearer from-header")

	if token, err := ExtractTokenFromRequest(req); err != nil || token != "from-header" {
		t.Errorf("Expected header token, got %q (%v)", token, err)
	}

	req.Header.Del("Authorization")
	if token, _ := ExtractTokenFromRequest(req); token != "from-cookie" {
		t.Errorf("Expected cookie token, got %q", token)
	}

	req = httptest.NewRequest("GET", "/ws?token=from-query", nil)
	if token, _ := ExtractTokenFromRequest(req); token != "from-query" {
		t.Errorf("Expected query token, got %q", token)
	}

	req = httptest.NewRequest("GET", "/ws", nil)
	if _, err := ExtractTokenFromRequest(req); err != ErrNoToken {
		t.Errorf("Expected ErrNoToken, got %v", err)
	}

	req.Header.Set("Authorization", "Basic abc")
	if _, err := ExtractTokenFromRequest(req); err == nil {
		t.Error("Basic authorization should be rejected")
	}
}

// TestRequireSessionToken tests the middleware
func TestRequireSessionToken(t *testing.T) {
	withSecret(t)
	var seen string
	handler := RequireSessionToken(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetSessionIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest("GET", "/api/programs", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}

	token, err := GenerateSessionToken("abc")
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("GET", "/api/programs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204 with token, got %d", w.Code)
	}
	if seen != "abc" {
		t.Errorf("Expected session abc in context, got %q", seen)
	}

	w = httptest.NewRecorder()
	handler(w, httptest.NewRequest("OPTIONS", "/api/programs", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("Preflight should pass, got %d", w.Code)
	}
}

// TestClientIP tests address extraction behind proxies
func TestClientIP(t *testing.T) {
	cases := []struct {
		remote, forwarded, real, want string
	}{
		{"192.0.2.1:5000", "", "", "192.0.2.1"},
		{"[2001:db8::1]:443", "", "", "2001:db8::1"},
		{"192.0.2.1:5000", "203.0.113.7, 10.0.0.1", "", "203.0.113.7"},
		{"192.0.2.1:5000", "", "198.51.100.2", "198.51.100.2"},
	}
	for _, c := range cases {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = c.remote
		if c.forwarded != "" {
			req.Header.Set("X-Forwarded-For", c.forwarded)
		}
		if c.real != "" {
			req.Header.Set("X-Real-IP", c.real)
		}
		if got := ClientIP(req); got != c.want {
			t.Errorf("ClientIP(%q, %q, %q) = %q, want %q", c.remote, c.forwarded, c.real, got, c.want)
		}
	}
}

// TestContextHelpers tests the session context helpers
func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := GetSessionIDFromContext(ctx); ok {
		t.Error("Empty context should have no session")
	}
	if _, ok := GetClaimsFromContext(ctx); ok {
		t.Error("Empty context should have no claims")
	}

	claims := &SessionClaims{SessionID: "xyz"}
	ctx = AddClaimsToContext(ctx, claims)
	if id, ok := GetSessionIDFromContext(ctx); !ok || id != "xyz" {
		t.Errorf("Expected xyz, got %q", id)
	}
	if got, ok := GetClaimsFromContext(ctx); !ok || got != claims {
		t.Error("Claims should round-trip through the context")
	}
}
