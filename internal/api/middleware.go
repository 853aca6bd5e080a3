package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/memoryvault/memoryvault/internal/ratelimit"
)

// =============================================================================
// AUTH MIDDLEWARE
// =============================================================================

// APIKeyAuthMiddleware returns middleware that checks for a valid API key.
// The health endpoint is always exempt. No-op if apiKey is empty.
func APIKeyAuthMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && parts[1] == apiKey {
				c.Next()
				return
			}
		}

		if c.GetHeader("X-API-Key") == apiKey {
			c.Next()
			return
		}

		UnauthorizedError(c, "invalid or missing API key")
		c.Abort()
	}
}

// =============================================================================
// RATE LIMIT MIDDLEWARE
// =============================================================================

// routeToOperation maps an API route to the operation name its rate-limit
// bucket is keyed on (§6's store_memory/get_memory/update_memory/
// delete_memory/search_memory/get_statistics).
func routeToOperation(path, method string) string {
	switch {
	case strings.Contains(path, "/search"):
		return "search_memory"
	case strings.HasSuffix(path, "/stats"):
		return "get_statistics"
	case method == http.MethodPost && strings.HasSuffix(path, "/memories"):
		return "store_memory"
	case method == http.MethodPut || method == http.MethodPatch:
		return "update_memory"
	case method == http.MethodDelete:
		return "delete_memory"
	case method == http.MethodGet:
		return "get_memory"
	default:
		return ""
	}
}

// RateLimitMiddleware rate-limits requests through the given limiter,
// keyed on the operation the route maps to.
func RateLimitMiddleware(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		op := routeToOperation(c.Request.URL.Path, c.Request.Method)
		result := limiter.Allow(op)
		if !result.Allowed {
			retryAfter := int(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			TooManyRequestsError(c, fmt.Sprintf("rate limit exceeded for %s, retry after %d seconds", result.LimitType, retryAfter))
			c.Abort()
			return
		}

		c.Next()
	}
}

// =============================================================================
// BODY SIZE MIDDLEWARE
// =============================================================================

// MaxBodySizeMiddleware returns middleware that limits request body size.
func MaxBodySizeMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil && c.Request.ContentLength > maxBytes {
			PayloadTooLargeError(c, fmt.Sprintf("request body too large, maximum %d bytes", maxBytes))
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// =============================================================================
// VALIDATION CONSTANTS AND HELPERS
// =============================================================================

const (
	MaxContentLength = 100 * 1024
	MaxQueryLength   = 10 * 1024
	MaxMetadataKeys  = 100
	DefaultBodyLimit = 1 * 1024 * 1024
)

func validateContent(content string) error {
	if content == "" {
		return fmt.Errorf("content must not be empty")
	}
	if len(content) > MaxContentLength {
		return fmt.Errorf("content too long: %d bytes (maximum %d)", len(content), MaxContentLength)
	}
	return nil
}

func validateQuery(query string) error {
	if len(query) > MaxQueryLength {
		return fmt.Errorf("query too long: %d bytes (maximum %d)", len(query), MaxQueryLength)
	}
	return nil
}

func validateImportance(importance float64) error {
	if importance < 0 || importance > 1 {
		return fmt.Errorf("importance must be between 0 and 1, got %v", importance)
	}
	return nil
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
