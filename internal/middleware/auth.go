package middleware

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/livewall/api/internal/auth"
	"github.com/livewall/api/pkg/response"
)

// AuthMiddleware handles bearer token authentication
type AuthMiddleware struct {
	authenticator *auth.Authenticator
	secret        string
	tokenTTL      time.Duration
}

// NewAuthMiddleware accepts OIDC tokens from verifier and, when secret is set,
// legacy HMAC tokens. Either may be absent.
func NewAuthMiddleware(verifier auth.TokenVerifier, secret string, tokenTTL time.Duration) *AuthMiddleware {
	return &AuthMiddleware{
		authenticator: auth.NewAuthenticator(verifier, secret),
		secret:        secret,
		tokenTTL:      tokenTTL,
	}
}

// Authenticate validates the Authorization header and stores the identity in locals
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := m.authenticator.Authenticate(c.Get("Authorization"))
		switch {
		case errors.Is(err, auth.ErrMissingToken):
			return response.Unauthorized(c, "Missing or malformed authorization header")
		case errors.Is(err, auth.ErrNotConfigured):
			return response.Unauthorized(c, "Authentication not configured")
		case err != nil:
			return response.Unauthorized(c, "Invalid or expired token")
		}

		setIdentity(c, id)
		return c.Next()
	}
}

// GenerateToken issues a legacy token, used by tests and local tooling
func (m *AuthMiddleware) GenerateToken(userID, email string) (string, error) {
	return auth.IssueLegacyToken(m.secret, userID, email, m.tokenTTL)
}

func setIdentity(c *fiber.Ctx, id *auth.Identity) {
	c.Locals("userId", id.UserID)
	c.Locals("email", id.Email)
	c.Locals("name", id.Name)
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}

// GetUserEmail extracts user email from context
func GetUserEmail(c *fiber.Ctx) string {
	if email, ok := c.Locals("email").(string); ok {
		return email
	}
	return ""
}
