// Package guard enforces the core safety invariant: while a member is
// unverified, none of their stored roles may be held on the live platform.
package guard

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/verification-gate/internal/config"
	"github.com/spec-kit/verification-gate/internal/domain"
	"github.com/spec-kit/verification-gate/internal/events"
	"github.com/spec-kit/verification-gate/internal/platform"
	"github.com/spec-kit/verification-gate/internal/state"
	apperrors "github.com/spec-kit/verification-gate/pkg/util"
)

const (
	reasonStrip   = "subscription verification required"
	reasonRevoke  = "awaiting verification - unauthorized re-grant reverted"
	reasonRestrip = "rejoin during orphan retention - verification still required"
)

// RoleGuard reacts to join and role-change events for tracked and untracked
// members.
type RoleGuard struct {
	store      *state.Store
	client     platform.Client
	caller     *platform.Caller
	dispatcher events.Dispatcher
	logger     *zap.Logger
	privileged domain.RoleSet
}

// Dependencies bundles collaborators.
type Dependencies struct {
	Store      *state.Store
	Client     platform.Client
	Caller     *platform.Caller
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
}

// NewRoleGuard creates the guard.
func NewRoleGuard(cfg config.GuardConfig, deps Dependencies) *RoleGuard {
	return &RoleGuard{
		store:      deps.Store,
		client:     deps.Client,
		caller:     deps.Caller,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		privileged: domain.NewRoleSet(cfg.PrivilegedRoleIDs...),
	}
}

// HandleMemberJoin strips privileged roles atomically with the join. A join
// that finds an orphaned record inside the retention window reattaches it
// instead of creating a fresh one, so a quick leave-and-rejoin does not lose
// the stored roles.
func (g *RoleGuard) HandleMemberJoin(ctx context.Context, memberID string, roles []string) error {
	return g.store.WithLock(memberID, func() error {
		now := time.Now().UTC()

		if record, ok := g.store.Get(memberID); ok {
			if record.State == domain.StateOrphaned {
				return g.reattach(ctx, record, now)
			}
			// Already tracked; converge against the live grant.
			return g.revokeOffending(ctx, record, roles, events.ActorSystem)
		}

		stripped := g.privileged.Intersect(roles)
		if len(stripped) == 0 {
			g.logger.Debug("member joined without privileged roles", zap.String("member_id", memberID))
			return nil
		}
		return g.createAndStrip(ctx, memberID, stripped, now)
	})
}

// HandleRoleChange is invoked for every observed role mutation. Unauthorized
// re-grants on protected records are reverted; members in RESTORING or
// VERIFIED, and untracked members not gaining privileged roles, are left
// alone.
func (g *RoleGuard) HandleRoleChange(ctx context.Context, memberID string, before, after []string) error {
	return g.store.WithLock(memberID, func() error {
		record, ok := g.store.Get(memberID)
		if !ok {
			gained := g.privileged.Intersect(domain.Added(before, after))
			if len(gained) == 0 {
				return nil
			}
			return g.createAndStrip(ctx, memberID, g.privileged.Intersect(after), time.Now().UTC())
		}
		if !record.State.Protected() {
			return nil
		}
		offending := domain.NewRoleSet(record.StoredRoles...).Intersect(domain.Added(before, after))
		if len(offending) == 0 {
			return nil
		}
		return g.revert(ctx, record, offending)
	})
}

// Reconcile re-applies the guard check from live platform state. It is the
// sweep's safety net for events missed during transport gaps or restarts,
// and also completes strips that failed at join time. Caller does not hold
// the member lock.
func (g *RoleGuard) Reconcile(ctx context.Context, memberID string) error {
	return g.store.WithLock(memberID, func() error {
		record, ok := g.store.Get(memberID)
		if !ok || !record.State.Protected() {
			return nil
		}
		live, err := g.client.MemberRoles(ctx, memberID)
		if err != nil {
			return apperrors.NewTransient("member_roles", err)
		}
		return g.revokeOffending(ctx, record, live, events.ActorSystem)
	})
}

func (g *RoleGuard) createAndStrip(ctx context.Context, memberID string, stripped []string, now time.Time) error {
	record := &domain.VerificationRecord{
		MemberID:         memberID,
		StoredRoles:      stripped,
		State:            domain.StateStripped,
		JoinedAt:         now,
		LastTransitionAt: now,
	}
	// Persist before touching the platform so a crash mid-strip is caught
	// by the first sweep.
	if err := g.store.Put(ctx, record); err != nil {
		return err
	}

	if err := g.removeRoles(ctx, memberID, stripped, reasonStrip); err != nil {
		// Record stays in STRIPPED for retry on the next event or sweep.
		g.logger.Error("initial strip failed", zap.String("member_id", memberID), zap.Error(err))
		return err
	}

	record.Transition(domain.StateMonitored, time.Now().UTC())
	if err := g.store.Put(ctx, record); err != nil {
		return err
	}
	g.logger.Info("stripped privileged roles on join",
		zap.String("member_id", memberID),
		zap.Strings("roles", stripped))
	_ = g.dispatcher.Publish(ctx, events.New(events.EventMemberStripped, memberID, events.ActorSystem,
		events.MemberStrippedPayload{StrippedRoles: stripped}))
	return nil
}

func (g *RoleGuard) reattach(ctx context.Context, record *domain.VerificationRecord, now time.Time) error {
	record.Transition(domain.StateStripped, now)
	record.TicketChannelID = nil
	if err := g.store.Put(ctx, record); err != nil {
		return err
	}
	if err := g.removeRoles(ctx, record.MemberID, record.StoredRoles, reasonRestrip); err != nil {
		g.logger.Error("re-strip on rejoin failed", zap.String("member_id", record.MemberID), zap.Error(err))
		return err
	}
	record.Transition(domain.StateMonitored, time.Now().UTC())
	if err := g.store.Put(ctx, record); err != nil {
		return err
	}
	g.logger.Info("reattached orphaned record on rejoin", zap.String("member_id", record.MemberID))
	_ = g.dispatcher.Publish(ctx, events.New(events.EventMemberStripped, record.MemberID, events.ActorSystem,
		events.MemberStrippedPayload{StrippedRoles: record.StoredRoles}))
	return nil
}

// revokeOffending converges the member's live roles against the record. A
// STRIPPED record with a clean live set advances to MONITORED; offending
// grants found in any other protected state count as interference.
func (g *RoleGuard) revokeOffending(ctx context.Context, record *domain.VerificationRecord, live []string, actor events.Actor) error {
	offending := domain.NewRoleSet(record.StoredRoles...).Intersect(live)
	if len(offending) == 0 {
		if record.State == domain.StateStripped {
			record.Transition(domain.StateMonitored, time.Now().UTC())
			return g.store.Put(ctx, record)
		}
		return nil
	}
	if record.State == domain.StateStripped {
		// Completing the initial strip, not interference.
		if err := g.removeRoles(ctx, record.MemberID, offending, reasonStrip); err != nil {
			return err
		}
		record.Transition(domain.StateMonitored, time.Now().UTC())
		return g.store.Put(ctx, record)
	}
	return g.revert(ctx, record, offending)
}

func (g *RoleGuard) revert(ctx context.Context, record *domain.VerificationRecord, offending []string) error {
	if err := g.removeRoles(ctx, record.MemberID, offending, reasonRevoke); err != nil {
		g.logger.Error("interference revoke failed",
			zap.String("member_id", record.MemberID),
			zap.Strings("roles", offending),
			zap.Error(err))
		return err
	}
	record.InterferenceCount++
	if err := g.store.Put(ctx, record); err != nil {
		return err
	}
	g.logger.Warn("reverted unauthorized role grant",
		zap.String("member_id", record.MemberID),
		zap.Strings("roles", offending),
		zap.Int("interference_count", record.InterferenceCount))
	_ = g.dispatcher.Publish(ctx, events.New(events.EventInterferenceDetected, record.MemberID, events.ActorSystem,
		events.InterferencePayload{
			RevokedRoles:      offending,
			InterferenceCount: record.InterferenceCount,
			Source:            "role_change",
		}))
	return nil
}

func (g *RoleGuard) removeRoles(ctx context.Context, memberID string, roleIDs []string, reason string) error {
	return g.caller.Do(ctx, "remove_roles", func(ctx context.Context) error {
		return g.client.RemoveRoles(ctx, memberID, roleIDs, reason)
	})
}
