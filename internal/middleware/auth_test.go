package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func signTestToken(t *testing.T, secret string, userID int64) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
		"iat":     time.Now().Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	assert.NoError(t, err)
	return signed
}

func TestAuthMiddleware(t *testing.T) {
	viper.Set("jwt.secret_key", "test-secret")
	defer viper.Set("jwt.secret_key", "")

	echoUserID := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := UserIDFromContext(r.Context())
		w.Write([]byte(id))
	})

	t.Run("missing header is unauthorized", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/salaries", nil)
		w := httptest.NewRecorder()

		AuthMiddleware(echoUserID).ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed header is unauthorized", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/salaries", nil)
		r.Header.Set("Authorization", "Token abc")
		w := httptest.NewRecorder()

		AuthMiddleware(echoUserID).ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token passes the user id through", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/salaries", nil)
		r.Header.Set("Authorization", "Bearer "+signTestToken(t, "test-secret", 42))
		w := httptest.NewRecorder()

		AuthMiddleware(echoUserID).ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "42", w.Body.String())
	})

	t.Run("token signed with wrong secret is rejected", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/salaries", nil)
		r.Header.Set("Authorization", "Bearer "+signTestToken(t, "other-secret", 42))
		w := httptest.NewRecorder()

		AuthMiddleware(echoUserID).ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("revoked token is rejected", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		InitAuthMiddleware(client)
		defer InitAuthMiddleware(nil)

		token := signTestToken(t, "test-secret", 42)
		mock.ExpectExists("auth:revoked:" + token).SetVal(1)

		r := httptest.NewRequest("GET", "/salaries", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		AuthMiddleware(echoUserID).ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
