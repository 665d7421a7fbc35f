package ginthrottle

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fujie/idp-throttle/pkg/throttle"
)

func newTestRouter(t *testing.T, points int) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := throttle.NewRegistry()
	err := reg.Register(throttle.ClassGeneral, throttle.Limits{
		Sustained: throttle.Policy{Points: points, Window: time.Minute, Block: time.Minute},
	})
	require.NoError(t, err)

	gate, err := throttle.New(throttle.WithRegistry(reg))
	require.NoError(t, err)

	r := gin.New()
	r.Use(Middleware(gate))
	r.GET("/userinfo", func(c *gin.Context) {
		c.String(http.StatusOK, "success")
	})
	return r
}

func TestMiddleware_Allowed(t *testing.T) {
	router := newTestRouter(t, 5)

	req := httptest.NewRequest("GET", "/userinfo", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "5", rr.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", rr.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rr.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, "success", rr.Body.String())
}

func TestMiddleware_Blocked(t *testing.T) {
	router := newTestRouter(t, 1)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/userinfo", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusOK, send().Code)

	rr := send()
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	assert.Equal(t, "temporarily_unavailable", payload["error"])
	assert.Equal(t, float64(60), payload["retry_after"])
}

func TestMiddleware_KeyIsolation(t *testing.T) {
	router := newTestRouter(t, 1)

	send := func(addr string) int {
		req := httptest.NewRequest("GET", "/userinfo", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, send("192.168.1.1:1000"))
	assert.Equal(t, http.StatusTooManyRequests, send("192.168.1.1:1000"))
	assert.Equal(t, http.StatusOK, send("192.168.1.2:1000"))
}
