package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRequestIDGeneratedAndPropagated(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var seenOnRequest string
	engine := gin.New()
	engine.Use(RequestID())
	engine.GET("/", func(c *gin.Context) {
		seenOnRequest = c.Request.Header.Get(requestIDHeader)
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	echoed := rec.Header().Get(requestIDHeader)
	if echoed == "" {
		t.Fatal("no request id on response")
	}
	if seenOnRequest != echoed {
		t.Errorf("request carries %q, response echoes %q", seenOnRequest, echoed)
	}
}

func TestRequestIDKeepsInboundID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(RequestID())
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "req-upstream-1")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if got := rec.Header().Get(requestIDHeader); got != "req-upstream-1" {
		t.Errorf("response id = %q, want req-upstream-1", got)
	}
}
