package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"PPRealtime/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() { gin.SetMode(gin.TestMode) }

func TestOrigin(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws/x", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	anyOrigin := Origin(nil)
	assert.True(t, anyOrigin(req("https://evil.example")))
	assert.True(t, Origin([]string{"*"})(req("https://evil.example")))

	check := Origin([]string{"app.example.com", "http://localhost:3000"})
	assert.True(t, check(req("https://app.example.com")))
	assert.True(t, check(req("https://APP.example.com")))
	assert.True(t, check(req("http://localhost:3000")))
	assert.False(t, check(req("https://localhost:3000")))
	assert.False(t, check(req("https://evil.example")))
	assert.True(t, check(req("")), "non-browser clients send no Origin")
}

func TestManagerRunsInOrderAndStopsOnAbort(t *testing.T) {
	var trace []string
	m := NewManager(func(c *gin.Context) { trace = append(trace, "a") })
	m.Add(func(c *gin.Context) {
		trace = append(trace, "b")
		if c.Query("stop") != "" {
			c.AbortWithStatus(http.StatusTeapot)
		}
	})

	r := gin.New()
	r.Use(m.Use())
	r.GET("/", func(c *gin.Context) {
		trace = append(trace, "handler")
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"a", "b", "handler"}, trace)

	trace = nil
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/?stop=1", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, []string{"a", "b"}, trace)

	m.Clear()
	trace = nil
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/?stop=1", nil))
	assert.Equal(t, []string{"handler"}, trace)
}

func TestRecoveryAndLogger(t *testing.T) {
	r := gin.New()
	r.Use(Logger(logger.Log), Recovery(logger.Log))
	r.GET("/panic", func(*gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "kaboom")
}

func TestRouteHelpers(t *testing.T) {
	r := gin.New()
	deny := func(c *gin.Context) { c.AbortWithStatus(http.StatusForbidden) }
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	GET(r, "/open", ok, RouteOpt{})
	GET(r, "/closed", ok, RouteOpt{Auth: deny})
	POST(r, "/closed", ok, RouteOpt{Auth: deny})

	for path, want := range map[string]int{"/open": http.StatusOK, "/closed": http.StatusForbidden} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, w.Code, path)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/closed", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}
