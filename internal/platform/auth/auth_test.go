package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var testSecret = []byte("test-secret-key-32-bytes-long!!!")

func makeToken(t *testing.T, subject, role string, now time.Time, ttl time.Duration) string {
	t.Helper()
	tok, _, err := Issuer{Secret: testSecret, TTL: ttl}.Issue(subject, role, now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok
}

func validToken(t *testing.T, subject, role string) string {
	return makeToken(t, subject, role, time.Now(), time.Hour)
}

func expiredToken(t *testing.T, subject string) string {
	return makeToken(t, subject, "", time.Now().Add(-2*time.Hour), time.Hour)
}

func newVerifier() JWTVerifier { return JWTVerifier{Secret: testSecret} }

// ─── Issuer / JWTVerifier ───────────────────────────────────────────────────

func TestIssuer_RoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	tok, exp, err := Issuer{Secret: testSecret, TTL: 30 * time.Minute}.Issue("author-1", "admin", now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !exp.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", exp)
	}
	claims, err := newVerifier().Parse(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "author-1" || claims.Role != "admin" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestIssuer_RequiresSecretAndSubject(t *testing.T) {
	if _, _, err := (Issuer{}).Issue("author-1", "", time.Now()); err == nil {
		t.Fatal("expected error without secret")
	}
	if _, _, err := (Issuer{Secret: testSecret}).Issue("", "", time.Now()); err == nil {
		t.Fatal("expected error without subject")
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	if _, err := newVerifier().Parse(expiredToken(t, "author-1")); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestJWTVerifier_WrongSecret(t *testing.T) {
	tok := validToken(t, "author-1", "")
	if _, err := (JWTVerifier{Secret: []byte("wrong-secret")}).Parse(tok); err == nil {
		t.Fatal("expected error for wrong secret")
	}
}

func TestJWTVerifier_TamperedPayload(t *testing.T) {
	tok := validToken(t, "author-1", "admin")
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		t.Fatal("expected 3 JWT parts")
	}
	if _, err := newVerifier().Parse(parts[0] + ".dGFtcGVyZWQ." + parts[2]); err == nil {
		t.Fatal("expected error for tampered token")
	}
}

// ─── RequireUser / OptionalUser ─────────────────────────────────────────────

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, _ := UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(uid))
	})
}

func serve(mw func(http.Handler) http.Handler, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rr := httptest.NewRecorder()
	mw(echoUser()).ServeHTTP(rr, req)
	return rr
}

func TestRequireUser(t *testing.T) {
	cases := []struct {
		name   string
		authz  string
		status int
		body   string
	}{
		{"valid bearer", "Bearer " + validToken(t, "author-42", ""), http.StatusOK, "author-42"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"basic scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, ""},
		{"garbage token", "Bearer invalid.token.here", http.StatusUnauthorized, ""},
		{"expired", "Bearer " + expiredToken(t, "author-1"), http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(RequireUser(newVerifier()), tc.authz)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if rr.Body.String() != tc.body {
				t.Fatalf("expected body %q, got %q", tc.body, rr.Body.String())
			}
		})
	}
}

func TestOptionalUser_Anonymous(t *testing.T) {
	rr := serve(OptionalUser(newVerifier()), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "" {
		t.Fatalf("expected anonymous request, got user %q", rr.Body.String())
	}
}

func TestOptionalUser_ValidToken(t *testing.T) {
	rr := serve(OptionalUser(newVerifier()), "Bearer "+validToken(t, "viewer-7", ""))
	if rr.Code != http.StatusOK || rr.Body.String() != "viewer-7" {
		t.Fatalf("expected viewer-7, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestOptionalUser_ExpiredTokenRejected(t *testing.T) {
	rr := serve(OptionalUser(newVerifier()), "Bearer "+expiredToken(t, "viewer-7"))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRequireUser_InjectsRoleIntoContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+validToken(t, "author-99", "admin"))

	var admin bool
	rr := httptest.NewRecorder()
	RequireUser(newVerifier())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		admin = IsAdmin(r.Context())
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rr, req)

	if !admin {
		t.Fatal("expected admin role in context")
	}
}

// ─── RequireAdmin ───────────────────────────────────────────────────────────

func callRequireAdmin(ctx context.Context) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/karma/reconcile", nil).WithContext(ctx)
	rr := httptest.NewRecorder()
	RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rr, req)
	return rr
}

func TestRequireAdmin(t *testing.T) {
	cases := map[string]int{
		"admin": http.StatusOK,
		"ADMIN": http.StatusOK,
		"user":  http.StatusForbidden,
		"":      http.StatusForbidden,
	}
	for role, want := range cases {
		ctx := context.Background()
		if role != "" {
			ctx = WithRole(ctx, role)
		}
		if rr := callRequireAdmin(ctx); rr.Code != want {
			t.Fatalf("role %q: expected %d, got %d", role, want, rr.Code)
		}
	}
}

func TestRejections_UseErrorEnvelope(t *testing.T) {
	rr := serve(RequireUser(newVerifier()), "")
	if !strings.Contains(rr.Body.String(), `"code":"UNAUTHORIZED"`) {
		t.Fatalf("expected JSON envelope, got %q", rr.Body.String())
	}
	rr = callRequireAdmin(WithRole(context.Background(), "user"))
	if !strings.Contains(rr.Body.String(), `"code":"FORBIDDEN"`) {
		t.Fatalf("expected JSON envelope, got %q", rr.Body.String())
	}
}
