package middleware

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"flowhub/internal/services"
)

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// Global limits (per IP)
	GlobalAPIMax        int // Max requests per minute for all API endpoints
	GlobalAPIExpiration time.Duration

	// Execution start limits (per tenant) - executions can be expensive
	ExecuteMax        int
	ExecuteExpiration time.Duration

	// Stream connection limits (per IP)
	StreamMax        int
	StreamExpiration time.Duration
}

// DefaultRateLimitConfig returns production-safe defaults
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		// Global: 200/min = ~3.3 req/sec - very generous for normal use
		GlobalAPIMax:        200,
		GlobalAPIExpiration: 1 * time.Minute,

		// Execution starts: 60/min per tenant
		ExecuteMax:        60,
		ExecuteExpiration: 1 * time.Minute,

		// Stream connections: 20/min per IP
		StreamMax:        20,
		StreamExpiration: 1 * time.Minute,
	}
}

// LoadRateLimitConfig loads config from environment variables with defaults
func LoadRateLimitConfig() *RateLimitConfig {
	config := DefaultRateLimitConfig()

	if v := os.Getenv("RATE_LIMIT_GLOBAL_API"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.GlobalAPIMax = n
		}
	}

	if v := os.Getenv("RATE_LIMIT_EXECUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.ExecuteMax = n
		}
	}

	if v := os.Getenv("RATE_LIMIT_STREAM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.StreamMax = n
		}
	}

	// Development mode: more lenient limits
	if os.Getenv("ENVIRONMENT") == "development" {
		config.GlobalAPIMax = 1000
		config.ExecuteMax = 500
		config.StreamMax = 100
		log.Println("⚠️  [RATE-LIMIT] Development mode: using relaxed rate limits")
	}

	return config
}

// GlobalAPIRateLimiter creates a rate limiter for all API requests
func GlobalAPIRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.GlobalAPIMax,
		Expiration: config.GlobalAPIExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "global:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] Global limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Please slow down.",
				"retry_after": int(config.GlobalAPIExpiration.Seconds()),
			})
		},
	})
}

// ExecuteRateLimiter limits execution starts per tenant.
func ExecuteRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.ExecuteMax,
		Expiration: config.ExecuteExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			// Use tenant if available, fall back to IP
			if tenantID, ok := c.Locals("tenant_id").(string); ok && tenantID != "" {
				return "execute:" + tenantID
			}
			return "execute-ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			tenantID, _ := c.Locals("tenant_id").(string)
			log.Printf("⚠️  [RATE-LIMIT] Execute limit reached for tenant: %s", tenantID)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many execution starts. Please wait before trying again.",
				"retry_after": int(config.ExecuteExpiration.Seconds()),
			})
		},
	})
}

// RedisExecuteRateLimiter enforces the per-tenant execution limit across
// instances through a shared Redis counter. The in-process limiter still
// applies per instance; this one keeps a tenant from multiplying its budget
// by the number of replicas. Requests pass when Redis errors so a cache
// outage never blocks executions.
func RedisExecuteRateLimiter(redisService *services.RedisService, limitPerMinute int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID, _ := c.Locals("tenant_id").(string)
		if tenantID == "" {
			return c.Next()
		}

		key := "ratelimit:execute:" + tenantID
		_, exceeded, err := redisService.CheckRateLimit(c.Context(), key, int64(limitPerMinute), time.Minute)
		if err != nil {
			log.Printf("⚠️  [RATE-LIMIT] Redis check failed for tenant %s: %v", tenantID, err)
			return c.Next()
		}
		if exceeded {
			log.Printf("⚠️  [RATE-LIMIT] Shared execute limit reached for tenant: %s", tenantID)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many execution starts. Please wait before trying again.",
				"retry_after": 60,
			})
		}
		return c.Next()
	}
}

// StreamRateLimiter limits progress stream connection attempts.
func StreamRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.StreamMax,
		Expiration: config.StreamExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "stream:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] Stream connection limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many connection attempts. Please wait before reconnecting.",
				"retry_after": int(config.StreamExpiration.Seconds()),
			})
		},
	})
}
