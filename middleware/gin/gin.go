// Package gin provides Gin middleware for the finance proxy: a rate limiter
// that runs ahead of the handlers, request IDs and access logging.
package gin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jassus213/go-finance-proxy/ratelimiter"
)

// RateLimiter creates a new Gin middleware handler.
//
// It uses the provided Limiter instance (the core rate-limiting logic) to check
// if a request should be allowed or denied. The behavior of the middleware can be
// customized by passing functional options, such as changing how a client is
// identified (WithKeyFunc) or how rate limit errors are handled (WithErrorHandler).
//
// Keys are prefixed with scope, so one store can back several middlewares.
//
// Example:
//
//	limiter := ratelimiter.NewFixedWindow(store, 600, time.Minute)
//	router := gin.New()
//	router.Use(gin.RateLimiter(limiter, "global"))
func RateLimiter(limiter ratelimiter.Limiter, scope string, options ...ratelimiter.Option) gin.HandlerFunc {
	cfg := ratelimiter.NewConfig(options...)

	return func(c *gin.Context) {
		key, err := cfg.KeyFunc(c.Request)
		if err != nil {
			cfg.Logger.Errorf("Failed to extract key: %v", err)
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		result, err := limiter.Allow(c.Request.Context(), ratelimiter.BucketID(scope, key))
		if err != nil {
			cfg.Logger.Errorf("Limiter failed for key '%s': %v", key, err)
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		if !result.Allowed {
			ratelimiter.SetHeaders(c.Writer.Header(), result, time.Now())
			cfg.Logger.Debugf(
				"Request denied for key '%s'. Remaining: %d, Limit: %d",
				key, result.Remaining, result.Limit,
			)
			cfg.ErrorHandler(c.Writer, c.Request, ratelimiter.ErrorExceeded, result)
			c.Abort()
			return
		}

		cfg.Logger.Debugf(
			"Request allowed for key '%s'. Remaining: %d, Limit: %d",
			key, result.Remaining, result.Limit,
		)

		c.Next()
	}
}
