package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type statusRecorder struct{ statuses []int }

func (r *statusRecorder) ObserveRequest(status int) { r.statuses = append(r.statuses, status) }

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS("http://a.local, http://b.local"))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://b.local")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://b.local", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Range")

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://evil.local")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestParseOrigins(t *testing.T) {
	assert.Equal(t, map[string]bool{"*": true}, ParseOrigins(" * "))
	assert.Empty(t, ParseOrigins(""))
}

func TestLoggerAndMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	obs := &statusRecorder{}
	r := gin.New()
	r.Use(Logger(zap.NewNop()), Metrics(obs))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, p := range []string{"/ok", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusNotFound}, obs.statuses)
}
