package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminJWTRejects(t *testing.T) {
	expired := signAdminToken(t, "secret", jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	noExpiry := signAdminToken(t, "secret", jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "ops"})

	tests := []struct {
		name   string
		secret string
		header string
	}{
		{"auth disabled", "", "Bearer " + validAdminToken(t, "secret")},
		{"missing header", "secret", ""},
		{"not bearer", "secret", "Basic b3BzOnB3"},
		{"wrong secret", "secret", "Bearer " + validAdminToken(t, "wrong")},
		{"expired", "secret", "Bearer " + expired},
		{"no expiry", "secret", "Bearer " + noExpiry},
		{"garbage", "secret", "Bearer not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/pauses/34600111222", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			called := false

			AdminJWT(tt.secret)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.False(t, called)
		})
	}
}

func TestAdminJWTValidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/admin/pauses/34600111222", nil)
	req.Header.Set("Authorization", "Bearer "+validAdminToken(t, "secret"))
	rec := httptest.NewRecorder()

	var subject string
	AdminJWT("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = AdminSubject(r.Context())
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops-user", subject)
}

func TestAdminSubjectWithoutClaims(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "unknown", AdminSubject(req.Context()))
}

func validAdminToken(t *testing.T, secret string) string {
	return signAdminToken(t, secret, jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops-user",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	})
}

func signAdminToken(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.RegisteredClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}
