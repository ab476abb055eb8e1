package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pathlight-hq/pathlight/pkg/logger"
)

// Logger writes a concise structured access log for each request.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		fields := []zap.Field{
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
		}
		// Authenticated requests carry the acting principal; tie the access
		// log to the audit trail through the same identifier.
		if principalID := PrincipalID(c); principalID != "" {
			fields = append(fields, zap.String("principal_id", principalID))
		}

		logger.WithModule("http").Info("request", fields...)
	}
}
