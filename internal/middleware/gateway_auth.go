package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/livewall/api/internal/auth"
	"github.com/livewall/api/pkg/response"
)

// GatewayAuthMiddleware trusts the X-User-* headers set by the gateway's
// ForwardAuth call to /auth/verify.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-Id")
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}

		setIdentity(c, &auth.Identity{
			UserID: userID,
			Email:  c.Get("X-User-Email"),
			Name:   c.Get("X-User-Name"),
		})
		return c.Next()
	}
}
