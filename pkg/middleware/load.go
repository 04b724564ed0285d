package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LoadConfig bounds the request rate a connection accepts.
type LoadConfig struct {
	// MaxRequestsPerSecond of 0 disables load shedding.
	MaxRequestsPerSecond float64
	// Burst defaults to the rounded-up rate.
	Burst int
}

// Enabled reports whether load shedding is configured.
func (c LoadConfig) Enabled() bool {
	return c.MaxRequestsPerSecond > 0
}

// LoadShedder rejects requests with 503 once the connection exceeds its
// configured rate.
func LoadShedder(cfg LoadConfig, logger *zap.Logger) gin.HandlerFunc {
	if !cfg.Enabled() {
		return func(c *gin.Context) { c.Next() }
	}

	burst := cfg.Burst
	if burst < 1 {
		burst = int(cfg.MaxRequestsPerSecond + 0.5)
		if burst < 1 {
			burst = 1
		}
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			logger.Warn("Server under heavy load, rejecting request",
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", RequestID(c)))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":   "server_unavailable",
				"message": "Server under heavy load",
			})
			return
		}
		c.Next()
	}
}
