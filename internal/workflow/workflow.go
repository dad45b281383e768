// Package workflow drives a member's verification lifecycle:
// join → ticket → booking confirmed → restoring → verified → untracked.
package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/verification-gate/internal/config"
	"github.com/spec-kit/verification-gate/internal/domain"
	"github.com/spec-kit/verification-gate/internal/events"
	"github.com/spec-kit/verification-gate/internal/platform"
	"github.com/spec-kit/verification-gate/internal/state"
	"github.com/spec-kit/verification-gate/internal/ticket"
	apperrors "github.com/spec-kit/verification-gate/pkg/util"
)

const (
	reasonRestore      = "subscription verification completed"
	reasonForceRestore = "manual verification by administrator"
)

// Workflow applies lifecycle transitions. All record mutation happens under
// the member's lock owned by the state store.
type Workflow struct {
	store      *state.Store
	client     platform.Client
	caller     *platform.Caller
	tickets    *ticket.Controller
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.RestoreConfig
}

// Dependencies bundles collaborators.
type Dependencies struct {
	Store      *state.Store
	Client     platform.Client
	Caller     *platform.Caller
	Tickets    *ticket.Controller
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
}

// NewWorkflow creates the workflow.
func NewWorkflow(cfg config.RestoreConfig, deps Dependencies) *Workflow {
	return &Workflow{
		store:      deps.Store,
		client:     deps.Client,
		caller:     deps.Caller,
		tickets:    deps.Tickets,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		cfg:        cfg,
	}
}

// StartVerification opens the member's ticket. Calling it again while a
// ticket is open returns the existing channel with no error.
func (w *Workflow) StartVerification(ctx context.Context, memberID string) (channelID string, err error) {
	err = w.store.WithLock(memberID, func() error {
		record, ok := w.store.Get(memberID)
		if !ok {
			return apperrors.NewNotFound("verification record", map[string]any{"member_id": memberID})
		}
		switch record.State {
		case domain.StateTicketOpen, domain.StateBookingConfirmed:
			// Idempotent: one open ticket per member, second call is a no-op.
			channelID = deref(record.TicketChannelID)
			return nil
		case domain.StateMonitored:
		default:
			return apperrors.NewConflict("member is not awaiting verification",
				map[string]any{"member_id": memberID, "state": string(record.State)})
		}

		id, alreadyOpen, openErr := w.tickets.Open(ctx, record)
		if openErr != nil {
			return openErr
		}
		channelID = id
		if alreadyOpen {
			return nil
		}
		record.TicketChannelID = &id
		record.Transition(domain.StateTicketOpen, time.Now().UTC())
		if putErr := w.store.Put(ctx, record); putErr != nil {
			// The channel ID was never persisted; tear it down or the
			// next start would open a second ticket.
			w.tickets.Close(ctx, memberID, id)
			channelID = ""
			return putErr
		}
		_ = w.dispatcher.Publish(ctx, events.New(events.EventTicketOpened, memberID, events.ActorMember,
			events.TicketPayload{ChannelID: id}))
		return nil
	})
	return channelID, err
}

// ConfirmBooking records the member's booking claim and, unless restoration
// is admin-gated, proceeds straight to role restoration. The claim is
// trusted input: it is logged for audit, not verified against the provider.
func (w *Workflow) ConfirmBooking(ctx context.Context, memberID string) error {
	return w.store.WithLock(memberID, func() error {
		record, ok := w.store.Get(memberID)
		if !ok {
			return apperrors.NewNotFound("verification record", map[string]any{"member_id": memberID})
		}
		switch record.State {
		case domain.StateBookingConfirmed:
			// Double click on the confirm button.
			if w.cfg.RequiresAdmin {
				return nil
			}
			return w.restoreLocked(ctx, record, false)
		case domain.StateTicketOpen:
		default:
			return apperrors.NewConflict("no open ticket to confirm",
				map[string]any{"member_id": memberID, "state": string(record.State)})
		}

		record.Transition(domain.StateBookingConfirmed, time.Now().UTC())
		if err := w.store.Put(ctx, record); err != nil {
			return err
		}
		_ = w.dispatcher.Publish(ctx, events.New(events.EventBookingConfirmed, memberID, events.ActorMember,
			events.BookingConfirmedPayload{ChannelID: deref(record.TicketChannelID), Claimed: true}))

		if w.cfg.RequiresAdmin {
			w.logger.Info("booking confirmed; awaiting admin approval", zap.String("member_id", memberID))
			return nil
		}
		return w.restoreLocked(ctx, record, false)
	})
}

// ForceVerify jumps a record from any non-terminal state straight to
// restoration. Logged distinctly from organic transitions.
func (w *Workflow) ForceVerify(ctx context.Context, memberID string) error {
	return w.store.WithLock(memberID, func() error {
		record, ok := w.store.Get(memberID)
		if !ok {
			return apperrors.NewNotFound("verification record", map[string]any{"member_id": memberID})
		}
		if !record.CanTransition(domain.StateRestoring, true) {
			return apperrors.NewConflict("record cannot be force verified",
				map[string]any{"member_id": memberID, "state": string(record.State)})
		}
		w.logger.Info("force verify requested", zap.String("member_id", memberID))
		_ = w.dispatcher.Publish(ctx, events.New(events.EventForceVerified, memberID, events.ActorAdmin, nil))
		return w.restoreLocked(ctx, record, true)
	})
}

// HandleMemberLeave routes the record to ORPHANED when the member departs
// before verification. The record is retained for the configured window so a
// quick rejoin keeps its stored roles.
func (w *Workflow) HandleMemberLeave(ctx context.Context, memberID string) error {
	return w.store.WithLock(memberID, func() error {
		record, ok := w.store.Get(memberID)
		if !ok {
			return nil
		}
		return w.orphanLocked(ctx, record)
	})
}

// MarkOrphaned is the sweep's entry to the same transition. Caller does not
// hold the member lock.
func (w *Workflow) MarkOrphaned(ctx context.Context, memberID string) error {
	return w.HandleMemberLeave(ctx, memberID)
}

// PurgeOrphan removes an orphaned record past the retention threshold.
func (w *Workflow) PurgeOrphan(ctx context.Context, memberID string, retention time.Duration) (purged bool, err error) {
	err = w.store.WithLock(memberID, func() error {
		record, ok := w.store.Get(memberID)
		if !ok || record.State != domain.StateOrphaned || record.OrphanedAt == nil {
			return nil
		}
		if time.Since(*record.OrphanedAt) < retention {
			return nil
		}
		if removeErr := w.store.Remove(ctx, memberID); removeErr != nil {
			return removeErr
		}
		purged = true
		_ = w.dispatcher.Publish(ctx, events.New(events.EventOrphanPurged, memberID, events.ActorSystem,
			events.OrphanPayload{PriorState: string(domain.StateOrphaned)}))
		return nil
	})
	return purged, err
}

// ExpireTicket closes a ticket that outlived its TTL and regresses the
// record to MONITORED so the member can start again.
func (w *Workflow) ExpireTicket(ctx context.Context, memberID string) error {
	return w.store.WithLock(memberID, func() error {
		record, ok := w.store.Get(memberID)
		if !ok {
			return nil
		}
		if !w.tickets.Expired(record, time.Now().UTC()) {
			return nil
		}
		channelID := deref(record.TicketChannelID)
		record.TicketChannelID = nil
		record.Transition(domain.StateMonitored, time.Now().UTC())
		if err := w.store.Put(ctx, record); err != nil {
			return err
		}
		w.tickets.Close(ctx, memberID, channelID)
		_ = w.dispatcher.Publish(ctx, events.New(events.EventTicketExpired, memberID, events.ActorSystem,
			events.TicketPayload{ChannelID: channelID}))
		return nil
	})
}

// MassVerify force-verifies every currently pending record. Returns how many
// records completed.
func (w *Workflow) MassVerify(ctx context.Context) (int, error) {
	verified := 0
	for _, record := range w.store.Snapshot() {
		if record.State.Terminal() || record.State == domain.StateOrphaned {
			continue
		}
		if err := w.ForceVerify(ctx, record.MemberID); err != nil {
			w.logger.Error("mass verify failed for member",
				zap.String("member_id", record.MemberID), zap.Error(err))
			continue
		}
		verified++
	}
	return verified, nil
}

// ListPending returns all non-terminal records for the admin surface.
func (w *Workflow) ListPending() []domain.VerificationRecord {
	var out []domain.VerificationRecord
	for _, record := range w.store.Snapshot() {
		if !record.State.Terminal() {
			out = append(out, record)
		}
	}
	return out
}

// restoreLocked grants back exactly the stored roles, all or nothing. On
// partial failure the record stays in RESTORING: retry-exhausted and
// permission failures are reported, never guessed past. Caller holds the
// member lock.
func (w *Workflow) restoreLocked(ctx context.Context, record *domain.VerificationRecord, forced bool) error {
	if len(record.StoredRoles) == 0 {
		err := apperrors.NewInvariant("restoration attempted with empty stored roles",
			map[string]any{"member_id": record.MemberID})
		w.logger.Error("record frozen", zap.String("member_id", record.MemberID), zap.Error(err))
		_ = w.dispatcher.Publish(ctx, events.New(events.EventRestorationHeld, record.MemberID, events.ActorSystem,
			events.RestorationHeldPayload{Reason: "empty stored roles"}))
		return err
	}

	if record.State != domain.StateRestoring {
		record.Transition(domain.StateRestoring, time.Now().UTC())
		record.ForceVerified = record.ForceVerified || forced
		if err := w.store.Put(ctx, record); err != nil {
			return err
		}
	}

	reason := reasonRestore
	if forced {
		reason = reasonForceRestore
	}
	if err := w.grantStored(ctx, record, record.StoredRoles, reason); err != nil {
		return w.holdRestoration(ctx, record, err)
	}

	// Verification is all-or-nothing: confirm every stored role is live
	// before declaring success.
	live, err := w.client.MemberRoles(ctx, record.MemberID)
	if err != nil {
		return w.holdRestoration(ctx, record, apperrors.NewTransient("member_roles", err))
	}
	if missing := domain.Missing(record.StoredRoles, live); len(missing) > 0 {
		if err := w.grantStored(ctx, record, missing, reason); err != nil {
			return w.holdRestoration(ctx, record, err)
		}
		live, err = w.client.MemberRoles(ctx, record.MemberID)
		if err != nil {
			return w.holdRestoration(ctx, record, apperrors.NewTransient("member_roles", err))
		}
		if missing := domain.Missing(record.StoredRoles, live); len(missing) > 0 {
			return w.holdRestoration(ctx, record,
				apperrors.NewPermission("restore_roles", apperrors.NewInvariant("roles missing after grant",
					map[string]any{"member_id": record.MemberID, "missing": missing})))
		}
	}

	restored := append([]string{}, record.StoredRoles...)
	channelID := deref(record.TicketChannelID)
	if err := w.store.Remove(ctx, record.MemberID); err != nil {
		return err
	}
	w.logger.Info("verification complete; roles restored",
		zap.String("member_id", record.MemberID),
		zap.Strings("roles", restored),
		zap.Bool("forced", forced))
	_ = w.dispatcher.Publish(ctx, events.New(events.EventRolesRestored, record.MemberID, actorFor(forced),
		events.RolesRestoredPayload{RestoredRoles: restored, Forced: forced}))
	w.tickets.Close(ctx, record.MemberID, channelID)
	return nil
}

func (w *Workflow) grantStored(ctx context.Context, record *domain.VerificationRecord, roleIDs []string, reason string) error {
	return w.caller.Do(ctx, "add_roles", func(ctx context.Context) error {
		return w.client.AddRoles(ctx, record.MemberID, roleIDs, reason)
	})
}

// holdRestoration keeps the record in RESTORING and surfaces the failure to
// operators. The member only ever sees a generic processing state.
func (w *Workflow) holdRestoration(ctx context.Context, record *domain.VerificationRecord, cause error) error {
	w.logger.Error("role restoration held",
		zap.String("member_id", record.MemberID),
		zap.Error(cause))
	_ = w.dispatcher.Publish(ctx, events.New(events.EventRestorationHeld, record.MemberID, events.ActorSystem,
		events.RestorationHeldPayload{Reason: cause.Error()}))
	return cause
}

func (w *Workflow) orphanLocked(ctx context.Context, record *domain.VerificationRecord) error {
	if record.State == domain.StateOrphaned {
		return nil
	}
	priorState := record.State
	channelID := deref(record.TicketChannelID)
	record.TicketChannelID = nil
	record.Transition(domain.StateOrphaned, time.Now().UTC())
	if err := w.store.Put(ctx, record); err != nil {
		return err
	}
	w.logger.Info("record orphaned",
		zap.String("member_id", record.MemberID),
		zap.String("prior_state", string(priorState)))
	_ = w.dispatcher.Publish(ctx, events.New(events.EventRecordOrphaned, record.MemberID, events.ActorSystem,
		events.OrphanPayload{PriorState: string(priorState)}))
	if channelID != "" {
		w.tickets.Close(ctx, record.MemberID, channelID)
	}
	return nil
}

func actorFor(forced bool) events.Actor {
	if forced {
		return events.ActorAdmin
	}
	return events.ActorMember
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
