package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tu2l/identity-platform/internal/gateway"
)

// Logger writes one structured line per request. When the gateway has
// already authenticated the caller, the derived identity is attached so
// per-user request streams can be traced across both deployables.
func Logger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		if status >= 500 {
			event = log.Error()
		} else if status >= 400 {
			event = log.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("client_ip", c.ClientIP()).
			Int("status", status).
			Dur("latency", latency).
			Str("request_id", c.GetString(requestIDHeader))

		if email := c.Request.Header.Get(gateway.HeaderUserEmail); email != "" {
			event.Str("user_email", email)
		}

		event.Msg("http request")
	}
}
