package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/verification-gate/internal/api/dto"
	"github.com/spec-kit/verification-gate/internal/config"
	"github.com/spec-kit/verification-gate/internal/domain"
	"github.com/spec-kit/verification-gate/internal/platform"
	"github.com/spec-kit/verification-gate/internal/service"
	"github.com/spec-kit/verification-gate/internal/state"
	"github.com/spec-kit/verification-gate/internal/workflow"
	apperrors "github.com/spec-kit/verification-gate/pkg/util"
)

// AdminHandler exposes the core operations to operators. Authorization is
// the auth middleware's concern; handlers map one-to-one onto workflow and
// store operations.
type AdminHandler struct {
	workflow   *workflow.Workflow
	store      *state.Store
	client     platform.Client
	stats      *service.StatsService
	audit      *service.AuditService
	privileged domain.RoleSet
}

// NewAdminHandler returns a new handler instance.
func NewAdminHandler(cfg config.GuardConfig, wf *workflow.Workflow, store *state.Store, client platform.Client, stats *service.StatsService, audit *service.AuditService) *AdminHandler {
	return &AdminHandler{
		workflow:   wf,
		store:      store,
		client:     client,
		stats:      stats,
		audit:      audit,
		privileged: domain.NewRoleSet(cfg.PrivilegedRoleIDs...),
	}
}

// ForceVerify restores a member's roles regardless of lifecycle position.
func (h *AdminHandler) ForceVerify(c *fiber.Ctx) error {
	memberID := c.Params("memberID")
	if memberID == "" {
		return apperrors.NewValidationError("memberID required", nil)
	}
	if err := h.workflow.ForceVerify(c.UserContext(), memberID); err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"member_id": memberID, "status": "verified"})
}

// ListPending returns every record still in flight.
func (h *AdminHandler) ListPending(c *fiber.Ctx) error {
	records := h.workflow.ListPending()
	out := make([]dto.PendingRecord, 0, len(records))
	for _, record := range records {
		pending := dto.PendingRecord{
			MemberID:          record.MemberID,
			State:             string(record.State),
			StoredRoles:       record.StoredRoles,
			JoinedAt:          record.JoinedAt,
			LastTransitionAt:  record.LastTransitionAt,
			InterferenceCount: record.InterferenceCount,
		}
		if record.TicketChannelID != nil {
			pending.TicketChannelID = *record.TicketChannelID
		}
		out = append(out, pending)
	}
	return c.JSON(fiber.Map{"pending": out, "count": len(out)})
}

// DebugRoles compares a member's live roles against the tracked record.
func (h *AdminHandler) DebugRoles(c *fiber.Ctx) error {
	memberID := c.Params("memberID")
	if memberID == "" {
		return apperrors.NewValidationError("memberID required", nil)
	}

	live, err := h.client.MemberRoles(c.UserContext(), memberID)
	if err != nil {
		return apperrors.NewNotFound("member", map[string]any{"member_id": memberID})
	}

	resp := dto.DebugRolesResponse{
		MemberID:       memberID,
		LiveRoles:      live,
		PrivilegedHeld: h.privileged.Intersect(live),
	}
	if record, ok := h.store.Get(memberID); ok {
		resp.Tracked = true
		resp.State = string(record.State)
		resp.StoredRoles = record.StoredRoles
		resp.InterferenceCount = record.InterferenceCount
	}
	return c.JSON(resp)
}

// MemberAudit returns the member's recent audit trail, newest first.
func (h *AdminHandler) MemberAudit(c *fiber.Ctx) error {
	memberID := c.Params("memberID")
	if memberID == "" {
		return apperrors.NewValidationError("memberID required", nil)
	}
	limit := c.QueryInt("limit", 20)

	entries, err := h.audit.Recent(c.UserContext(), memberID, limit)
	if err != nil {
		return apperrors.MapError(err)
	}
	out := make([]dto.AuditEventRecord, 0, len(entries))
	for _, entry := range entries {
		out = append(out, dto.AuditEventRecord{
			ID:         entry.ID,
			EventType:  entry.EventType,
			Actor:      entry.Actor,
			Payload:    entry.Payload,
			OccurredAt: entry.OccurredAt,
		})
	}
	return c.JSON(fiber.Map{"member_id": memberID, "events": out})
}

// CleanupOrphans purges all orphaned records immediately, regardless of the
// retention window.
func (h *AdminHandler) CleanupOrphans(c *fiber.Ctx) error {
	purged := 0
	for _, record := range h.store.Snapshot() {
		if record.State != domain.StateOrphaned {
			continue
		}
		done, err := h.workflow.PurgeOrphan(c.UserContext(), record.MemberID, 0)
		if err != nil {
			return apperrors.MapError(err)
		}
		if done {
			purged++
		}
	}
	return c.JSON(dto.CleanupResponse{Purged: purged})
}

// MassVerify force-verifies every pending member.
func (h *AdminHandler) MassVerify(c *fiber.Ctx) error {
	verified, err := h.workflow.MassVerify(c.UserContext())
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(dto.MassVerifyResponse{Verified: verified})
}

// Stats reports tracking counts and lifetime counters.
func (h *AdminHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(h.stats.Collect(c.UserContext()))
}
