package gin

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jassus213/go-finance-proxy/ratelimiter"
)

const (
	// RequestIDHeader carries the request ID in both directions.
	RequestIDHeader = "X-Request-ID"
	// RequestIDKey is the gin context key holding the request ID.
	RequestIDKey = "request_id"
)

// RequestID assigns every request an ID, reusing a well-formed incoming
// X-Request-ID, and echoes it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// AccessLog writes one line per request through l.
func AccessLog(l ratelimiter.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		line := "[%s] %s %s %d %s"
		args := []interface{}{c.GetString(RequestIDKey), c.Request.Method, c.Request.URL.Path, status, time.Since(start)}
		if status >= 500 {
			l.Errorf(line, args...)
			return
		}
		l.Infof(line, args...)
	}
}
