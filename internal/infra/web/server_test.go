//go:build !integration

package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "test-admin-key"

func newTestServer(promos PromoAdmin, payments PaymentDesk) (*Server, http.Handler) {
	auth := NewAuthManager("test-admin-jwt-secret-please-change", false, "", time.Minute)
	s := NewServer(promos, payments, testAPIKey, auth, newTestLogger())
	r := chi.NewRouter()
	s.RegisterRoutes(r)
	return s, r
}

func login(t *testing.T, h http.Handler) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"api_key":"`+testAPIKey+`"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.NotEmpty(t, body.Token)
	return body.Token
}

func TestAuthMiddleware(t *testing.T) {
	dummyHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server, router := newTestServer(&MockPromoAdmin{}, &MockPaymentDesk{})
	protected := server.authMiddleware(dummyHandler)

	t.Run("should reject a request without credentials", func(t *testing.T) {
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/promo-codes", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("should reject an authorization header without a scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/promo-codes", nil)
		req.Header.Set("Authorization", "whatever-token")
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("should reject a token signed with another secret", func(t *testing.T) {
		other := NewAuthManager("some-other-secret", false, "", time.Minute)
		token, _, err := other.Mint(httptest.NewRecorder())
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/promo-codes", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("should accept a bearer token from login", func(t *testing.T) {
		token := login(t, router)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/promo-codes", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("should accept the session cookie", func(t *testing.T) {
		// Arrange
		loginRR := httptest.NewRecorder()
		router.ServeHTTP(loginRR, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
			strings.NewReader(`{"api_key":"`+testAPIKey+`"}`)))
		cookies := loginRR.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, "admin_session", cookies[0].Name)
		assert.True(t, cookies[0].HttpOnly)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/promo-codes", nil)
		req.AddCookie(cookies[0])
		rr := httptest.NewRecorder()

		// Act
		protected.ServeHTTP(rr, req)

		// Assert
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("should refuse everything when no admin key is configured", func(t *testing.T) {
		s := NewServer(&MockPromoAdmin{}, &MockPaymentDesk{}, "", NewAuthManager("x", false, "", time.Minute), newTestLogger())
		rr := httptest.NewRecorder()
		s.authMiddleware(dummyHandler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestLogin(t *testing.T) {
	_, router := newTestServer(&MockPromoAdmin{}, &MockPaymentDesk{})

	t.Run("should reject a wrong key", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"api_key":"nope"}`)))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("should reject a body without a key", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("should expire the cookie on logout", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil))
		assert.Equal(t, http.StatusNoContent, rr.Code)
		cookies := rr.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Less(t, cookies[0].MaxAge, 0)
	})
}
