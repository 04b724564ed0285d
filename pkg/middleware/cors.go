package middleware

import (
	"fmt"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSConfig holds the per-connection CORS settings.
type CORSConfig struct {
	Origins        []string
	Headers        []string
	ExposedHeaders []string
	Credentials    bool
	MaxAge         time.Duration
}

// CORS returns the gin-contrib cors middleware for cfg. An empty origin list
// allows every origin.
func CORS(cfg CORSConfig) (gin.HandlerFunc, error) {
	origins := cfg.Origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	headers := cfg.Headers
	if len(headers) == 0 {
		headers = []string{"Authorization", "Content-Type", "If-None-Match", RequestIDHeader}
	}
	maxAge := cfg.MaxAge
	if maxAge == 0 {
		maxAge = 24 * time.Hour
	}

	corsCfg := cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     headers,
		ExposeHeaders:    cfg.ExposedHeaders,
		AllowCredentials: cfg.Credentials,
		MaxAge:           maxAge,
	}
	// cors.New panics on invalid settings
	if err := corsCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cors settings: %w", err)
	}
	return cors.New(corsCfg), nil
}
