package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func invokeWithAuth(t *testing.T, secret, header string) error {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/admin/orders/1/sync", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	next := func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	return AdminAuth(secret)(next)(c)
}

func TestAdminAuthValidToken(t *testing.T) {
	err := invokeWithAuth(t, "topsecret", "Bearer "+signToken(t, "topsecret"))
	assert.NoError(t, err)
}

func TestAdminAuthMissingHeader(t *testing.T) {
	err := invokeWithAuth(t, "topsecret", "")

	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestAdminAuthWrongSecret(t *testing.T) {
	err := invokeWithAuth(t, "topsecret", "Bearer "+signToken(t, "othersecret"))

	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestAdminAuthExpiredToken(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("topsecret"))
	require.NoError(t, err)

	authErr := invokeWithAuth(t, "topsecret", "Bearer "+signed)

	var httpErr *echo.HTTPError
	require.ErrorAs(t, authErr, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}
