package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/verification-gate/internal/api/dto"
	"github.com/spec-kit/verification-gate/internal/auth"
	"github.com/spec-kit/verification-gate/internal/config"
	apperrors "github.com/spec-kit/verification-gate/pkg/util"
)

// AuthHandler issues admin tokens.
type AuthHandler struct {
	cfg    config.AuthConfig
	tokens *auth.TokenManager
}

// NewAuthHandler returns a new handler instance.
func NewAuthHandler(cfg config.AuthConfig, tokens *auth.TokenManager) *AuthHandler {
	return &AuthHandler{cfg: cfg, tokens: tokens}
}

// Login exchanges the admin password for a bearer token.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid request body", nil)
	}
	if req.Password == "" {
		return apperrors.NewValidationError("password required", nil)
	}
	if h.cfg.AdminPasswordHash == "" {
		return apperrors.NewUnauthorized("admin login not configured")
	}
	if err := auth.ComparePassword(h.cfg.AdminPasswordHash, req.Password); err != nil {
		return apperrors.NewUnauthorized("invalid credentials")
	}

	token, expiresAt, err := h.tokens.GenerateToken()
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	return c.JSON(dto.LoginResponse{Token: token, ExpiresAt: expiresAt})
}
