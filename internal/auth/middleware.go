package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/verification-gate/pkg/util"
)

const principalKey = "auth_principal"

// AuthMiddleware validates bearer tokens on admin routes.
type AuthMiddleware struct {
	tokens *TokenManager
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}
	if claims.Subject != AdminSubject {
		return apperrors.NewUnauthorized("unknown subject")
	}

	c.Locals(principalKey, claims.Subject)
	return c.Next()
}

// RequireAdmin ensures the caller passed the auth middleware.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if subject, ok := c.Locals(principalKey).(string); !ok || subject != AdminSubject {
			return apperrors.NewUnauthorized("admin required")
		}
		return c.Next()
	}
}
