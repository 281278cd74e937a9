package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vnodedb/internal/metrics"
)

// Logger is a Gin middleware that logs every request with method, path,
// status code, and latency via the shared structured logger.
func Logger(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Infow("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"client", c.ClientIP(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

// ClientConnections tracks the number of requests currently being handled as
// reg's client-connections gauge, incrementing on entry and decrementing
// once the handler returns.
func ClientConnections(reg *metrics.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		reg.ClientConnections.Inc()
		defer reg.ClientConnections.Dec()
		c.Next()
	}
}

// Recovery wraps Gin's default recovery but logs panics in a structured way.
func Recovery(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Errorw("panic recovered", "error", err)
				c.AbortWithStatusJSON(500, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}
