package middleware

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"flowhub/pkg/auth"
)

// APIKeyMiddleware validates service-to-service API keys.
// Keys are presented in the X-API-Key header as "<tenant>:<secret>" and
// checked against the configured argon2id hashes. The tenant prefix becomes
// the tenant scope for the request.
func APIKeyMiddleware(keyHashes []string, jwtFallback fiber.Handler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := c.Get("X-API-Key")
		if apiKey == "" {
			// Fall back to JWT auth when no key is presented
			return jwtFallback(c)
		}

		if len(keyHashes) == 0 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "API key authentication is not configured",
			})
		}

		tenantID, secret, ok := splitAPIKey(apiKey)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid API key format. Expected <tenant>:<secret>.",
			})
		}

		for _, hash := range keyHashes {
			match, err := auth.VerifyAPIKey(hash, secret)
			if err != nil {
				log.Printf("❌ [APIKEY-AUTH] Bad key hash in config: %v", err)
				continue
			}
			if match {
				c.Locals("tenant_id", tenantID)
				c.Locals("user_id", "service:"+tenantID)
				c.Locals("auth_type", "api_key")
				log.Printf("🔑 [APIKEY-AUTH] Authenticated service key for tenant %s", tenantID)
				return c.Next()
			}
		}

		log.Printf("❌ [APIKEY-AUTH] Invalid key attempt for tenant %s", tenantID)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid API key",
		})
	}
}

func splitAPIKey(key string) (tenantID, secret string, ok bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			if i == 0 || i == len(key)-1 {
				return "", "", false
			}
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}
