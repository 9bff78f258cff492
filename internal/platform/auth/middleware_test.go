package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func newTestIssuer() *TokenIssuer {
	return NewTokenIssuer(JWTConfig{Issuer: "retinascan", SigningKey: testSigningKey, TTL: time.Hour})
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, header string, handler echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return rec, mw(handler)(c)
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with status %d, got nil", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := newTestIssuer()
	id := uuid.New()

	token, exp, err := issuer.Issue(id, "jane@example.com", "Jane Doe", RoleDoctor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Errorf("expected future expiry, got %v", exp)
	}

	claims, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if claims.Subject != id.String() {
		t.Errorf("subject = %q, want %q", claims.Subject, id)
	}
	if claims.Role != RoleDoctor || claims.Email != "jane@example.com" || claims.Name != "Jane Doe" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestTokenIssuer_RejectsWrongKey(t *testing.T) {
	token, _, err := newTestIssuer().Issue(uuid.New(), "a@b.c", "A", RolePatient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	other := NewTokenIssuer(JWTConfig{Issuer: "retinascan", SigningKey: []byte("another-key-another-key-another-key")})
	if _, err := other.Parse(token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenIssuer_RejectsExpired(t *testing.T) {
	issuer := newTestIssuer()
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := issuer.Issue(uuid.New(), "a@b.c", "A", RolePatient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := newTestIssuer().Parse(token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestTokenIssuer_RejectsNonUUIDSubject(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "not-a-uuid",
		Issuer:    "retinascan",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if _, err := newTestIssuer().Parse(token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := runMiddleware(t, JWTMiddleware(newTestIssuer(), nil), "", okHandler)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer abc.def.ghi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runMiddleware(t, JWTMiddleware(newTestIssuer(), nil), tt.header, okHandler)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	issuer := newTestIssuer()
	id := uuid.New()
	token, _, _ := issuer.Issue(id, "p@example.com", "Pat", RolePatient)

	var gotID string
	var gotRoles []string
	handler := func(c echo.Context) error {
		gotID = UserIDFromContext(c.Request().Context())
		gotRoles = RolesFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	}

	rec, err := runMiddleware(t, JWTMiddleware(issuer, nil), "Bearer "+token, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if gotID != id.String() {
		t.Errorf("user id = %q, want %q", gotID, id)
	}
	if len(gotRoles) != 1 || gotRoles[0] != RolePatient {
		t.Errorf("roles = %v, want [PATIENT]", gotRoles)
	}
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	skip := func(echo.Context) bool { return true }
	_, err := runMiddleware(t, JWTMiddleware(newTestIssuer(), skip), "", okHandler)
	if err != nil {
		t.Fatalf("expected skipped request to pass, got %v", err)
	}
}

func TestDevAuthMiddleware_NoHeaderIsAdmin(t *testing.T) {
	var roles []string
	var uid uuid.UUID
	handler := func(c echo.Context) error {
		roles = RolesFromContext(c.Request().Context())
		uid, _ = UserUUIDFromContext(c.Request().Context())
		return nil
	}
	if _, err := runMiddleware(t, DevAuthMiddleware(newTestIssuer(), nil), "", handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(roles) != 1 || roles[0] != RoleAdmin {
		t.Errorf("roles = %v, want [ADMIN]", roles)
	}
	if uid != DevUserID {
		t.Errorf("user id = %v, want %v", uid, DevUserID)
	}
}

func TestDevAuthMiddleware_ValidatesProvidedToken(t *testing.T) {
	_, err := runMiddleware(t, DevAuthMiddleware(newTestIssuer(), nil), "Bearer bogus", okHandler)
	expectStatus(t, err, http.StatusUnauthorized)
}
