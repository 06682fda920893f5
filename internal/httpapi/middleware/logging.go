package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-sync/internal/logger"
	"github.com/suPer8Hu/chat-sync/internal/metrics"
	"go.uber.org/zap"
)

func route(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}

// Logger writes one access log line per request.
func Logger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		l := logger.FromContext(c.Request.Context(), log)
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route(c)),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("cost", time.Since(start)),
		}
		if uid, ok := UserID(c); ok {
			fields = append(fields, zap.String("user_id", uid))
		}
		if c.Writer.Status() >= 500 {
			l.Warn("request", fields...)
			return
		}
		l.Info("request", fields...)
	}
}

// Metrics records request counts and latencies by route template.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r := route(c)
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, r, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, r).Observe(time.Since(start).Seconds())
	}
}
