package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/chat-sync/internal/auth"
	"go.uber.org/zap"
)

func init() { gin.SetMode(gin.TestMode) }

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(RequestID(zap.NewNop()), Recovery(zap.NewNop()))
	return r
}

func TestAuthRequired(t *testing.T) {
	r := newEngine()
	r.GET("/me", AuthRequired("s3cret"), func(c *gin.Context) {
		uid, _ := UserID(c)
		c.String(http.StatusOK, uid)
	})

	tok, err := auth.SignJWT("s3cret", "alice", time.Minute)
	require.NoError(t, err)

	cases := []struct {
		name   string
		build  func(req *http.Request)
		url    string
		status int
	}{
		{"header", func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+tok) }, "/me", http.StatusOK},
		{"query", func(*http.Request) {}, "/me?token=" + tok, http.StatusOK},
		{"missing", func(*http.Request) {}, "/me", http.StatusUnauthorized},
		{"garbage", func(req *http.Request) { req.Header.Set("Authorization", "Bearer x") }, "/me", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.url, nil)
			tc.build(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, "alice", w.Body.String())
			}
		})
	}
}

func TestAdminRequired(t *testing.T) {
	hash, err := auth.HashAdminToken("root")
	require.NoError(t, err)
	r := newEngine()
	r.GET("/admin", AdminRequired(hash), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-Admin-Token", "root")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRecoveryAndRequestID(t *testing.T) {
	r := newEngine()
	r.GET("/boom", func(*gin.Context) { panic("kaboom") })

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))
	assert.JSONEq(t, `{"code":50000,"message":"internal error","data":null}`, w.Body.String())
}
