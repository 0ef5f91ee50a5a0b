package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", JWTAuth(secret), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(UserIDKey))
	})
	return r
}

func TestJWTAuth(t *testing.T) {
	valid, err := IssueToken(secret, "alice", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(secret, "alice", -time.Hour)
	require.NoError(t, err)
	foreign, err := IssueToken("other-secret", "alice", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		query  string
		status int
		body   string
	}{
		{name: "bearer header", header: "Bearer " + valid, status: http.StatusOK, body: "alice"},
		{name: "query token", query: "?token=" + valid, status: http.StatusOK, body: "alice"},
		{name: "missing", status: http.StatusUnauthorized},
		{name: "bad scheme", header: "Token " + valid, status: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, status: http.StatusUnauthorized},
		{name: "wrong secret", query: "?token=" + foreign, status: http.StatusUnauthorized},
	}

	r := newRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestParseTokenRejectsEmptyUser(t *testing.T) {
	tok, err := IssueToken(secret, "", time.Hour)
	require.NoError(t, err)

	_, err = ParseToken(secret, tok)
	assert.Error(t, err)
}
