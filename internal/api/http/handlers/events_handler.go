package handlers

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/verification-gate/internal/api/dto"
	"github.com/spec-kit/verification-gate/internal/gateway"
	apperrors "github.com/spec-kit/verification-gate/pkg/util"
)

// EventsHandler accepts pushed platform events from the bridge. Events are
// acknowledged as soon as they are queued; processing happens on the gateway
// workers.
type EventsHandler struct {
	gateway *gateway.Gateway
	secret  string
}

// NewEventsHandler returns a new handler instance.
func NewEventsHandler(gw *gateway.Gateway, secret string) *EventsHandler {
	return &EventsHandler{gateway: gw, secret: secret}
}

// Authorize checks the shared ingress secret. The bridge is the only caller.
func (h *EventsHandler) Authorize(c *fiber.Ctx) error {
	if h.secret == "" {
		return c.Next()
	}
	provided := c.Get("X-Ingress-Secret")
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) != 1 {
		return apperrors.NewUnauthorized("invalid ingress secret")
	}
	return c.Next()
}

// MemberJoin enqueues a join event.
func (h *EventsHandler) MemberJoin(c *fiber.Ctx) error {
	var req dto.MemberJoinEvent
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid request body", nil)
	}
	if req.MemberID == "" {
		return apperrors.NewValidationError("member_id required", nil)
	}
	if err := h.gateway.OnMemberJoin(req.MemberID, req.RoleIDs); err != nil {
		return apperrors.MapError(err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// RoleChange enqueues a role mutation event.
func (h *EventsHandler) RoleChange(c *fiber.Ctx) error {
	var req dto.RoleChangeEvent
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid request body", nil)
	}
	if req.MemberID == "" {
		return apperrors.NewValidationError("member_id required", nil)
	}
	if err := h.gateway.OnRoleChange(req.MemberID, req.Before, req.After); err != nil {
		return apperrors.MapError(err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// MemberLeave enqueues a departure event.
func (h *EventsHandler) MemberLeave(c *fiber.Ctx) error {
	var req dto.MemberLeaveEvent
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid request body", nil)
	}
	if req.MemberID == "" {
		return apperrors.NewValidationError("member_id required", nil)
	}
	if err := h.gateway.OnMemberLeave(req.MemberID); err != nil {
		return apperrors.MapError(err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// TicketAction enqueues a member-triggered verification action.
func (h *EventsHandler) TicketAction(c *fiber.Ctx) error {
	var req dto.TicketActionEvent
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid request body", nil)
	}
	if req.MemberID == "" {
		return apperrors.NewValidationError("member_id required", nil)
	}
	if err := h.gateway.OnTicketAction(req.MemberID, req.Action); err != nil {
		return apperrors.MapError(err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}
