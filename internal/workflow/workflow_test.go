package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/verification-gate/internal/config"
	"github.com/spec-kit/verification-gate/internal/domain"
	"github.com/spec-kit/verification-gate/internal/events"
	"github.com/spec-kit/verification-gate/internal/guard"
	"github.com/spec-kit/verification-gate/internal/platform"
	"github.com/spec-kit/verification-gate/internal/platform/platformtest"
	"github.com/spec-kit/verification-gate/internal/repository/repositorytest"
	"github.com/spec-kit/verification-gate/internal/state"
	"github.com/spec-kit/verification-gate/internal/ticket"
	apperrors "github.com/spec-kit/verification-gate/pkg/util"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) handle(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.EventType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *eventRecorder) has(want events.EventType) bool {
	for _, got := range r.types() {
		if got == want {
			return true
		}
	}
	return false
}

type fixture struct {
	workflow *Workflow
	guard    *guard.RoleGuard
	store    *state.Store
	fake     *platformtest.Fake
	recorder *eventRecorder
	repo     *repositorytest.RecordRepo
}

func newFixture(t *testing.T, restore config.RestoreConfig, privileged ...string) *fixture {
	t.Helper()
	if restore.MaxAttempts == 0 {
		restore = config.RestoreConfig{
			MaxAttempts:         2,
			InitialIntervalMS:   1,
			MaxIntervalMS:       2,
			PlatformCallsPerSec: 100000,
		}
	}

	repo := repositorytest.NewRecordRepo()
	logger := zap.NewNop()
	store := state.NewStore(repo, logger)
	fake := platformtest.New()
	caller := platform.NewCaller(restore)
	dispatcher := events.NewInMemoryDispatcher()
	recorder := &eventRecorder{}
	for _, eventType := range []events.EventType{
		events.EventMemberStripped,
		events.EventInterferenceDetected,
		events.EventTicketOpened,
		events.EventTicketExpired,
		events.EventBookingConfirmed,
		events.EventRolesRestored,
		events.EventRestorationHeld,
		events.EventRecordOrphaned,
		events.EventOrphanPurged,
		events.EventForceVerified,
	} {
		dispatcher.Subscribe(eventType, recorder.handle)
	}

	tickets := ticket.NewController(config.TicketConfig{
		BookingLink: "https://example.com/book",
		CategoryID:  "cat-1",
		TTLHours:    1,
	}, fake, caller, logger)

	g := guard.NewRoleGuard(config.GuardConfig{PrivilegedRoleIDs: privileged}, guard.Dependencies{
		Store:      store,
		Client:     fake,
		Caller:     caller,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	wf := NewWorkflow(restore, Dependencies{
		Store:      store,
		Client:     fake,
		Caller:     caller,
		Tickets:    tickets,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	return &fixture{workflow: wf, guard: g, store: store, fake: fake, recorder: recorder, repo: repo}
}

// joinAndStrip runs a member through the join-time strip so workflow tests
// start from MONITORED the same way production does.
func (f *fixture) joinAndStrip(t *testing.T, memberID string, roles ...string) {
	t.Helper()
	f.fake.Join(memberID, roles...)
	require.NoError(t, f.guard.HandleMemberJoin(context.Background(), memberID, f.fake.Roles(memberID)))
}

func TestFullVerificationLifecycle(t *testing.T) {
	f := newFixture(t, config.RestoreConfig{}, "vip")
	ctx := context.Background()

	// Join with one privileged and one ordinary role.
	f.joinAndStrip(t, "m1", "vip", "member")
	require.Equal(t, []string{"member"}, f.fake.Roles("m1"))

	// Member opens their ticket.
	channelID, err := f.workflow.StartVerification(ctx, "m1")
	require.NoError(t, err)
	require.NotEmpty(t, channelID)
	require.True(t, f.fake.HasChannel(channelID))

	channels := f.fake.ChannelsFor("m1")
	require.Len(t, channels, 1)
	require.NotEmpty(t, channels[0].Messages, "welcome message should be posted")

	record, _ := f.store.Get("m1")
	require.Equal(t, domain.StateTicketOpen, record.State)

	// Racing subscription bot re-grants the role mid-ticket.
	before := f.fake.Roles("m1")
	f.fake.Grant("m1", "vip")
	require.NoError(t, f.guard.HandleRoleChange(ctx, "m1", before, f.fake.Roles("m1")))
	require.Equal(t, []string{"member"}, f.fake.Roles("m1"))

	// Booking confirmed; roles come back and tracking ends.
	require.NoError(t, f.workflow.ConfirmBooking(ctx, "m1"))

	require.ElementsMatch(t, []string{"member", "vip"}, f.fake.Roles("m1"))
	_, ok := f.store.Get("m1")
	require.False(t, ok)
	require.False(t, f.repo.Has("m1"))
	require.False(t, f.fake.HasChannel(channelID))

	require.True(t, f.recorder.has(events.EventMemberStripped))
	require.True(t, f.recorder.has(events.EventTicketOpened))
	require.True(t, f.recorder.has(events.EventInterferenceDetected))
	require.True(t, f.recorder.has(events.EventBookingConfirmed))
	require.True(t, f.recorder.has(events.EventRolesRestored))
}

func TestStartVerificationUntracked(t *testing.T) {
	f := newFixture(t, config.RestoreConfig{}, "vip")
	_, err := f.workflow.StartVerification(context.Background(), "ghost")
	require.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestStartVerificationIdempotent(t *testing.T) {
	f := newFixture(t, config.RestoreConfig{}, "vip")
	ctx := context.Background()
	f.joinAndStrip(t, "m1", "vip")

	first, err := f.workflow.StartVerification(ctx, "m1")
	require.NoError(t, err)

	second, err := f.workflow.StartVerification(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, f.fake.ChannelsFor("m1"), 1)
}

func TestStartVerificationClosesChannelWhenPersistFails(t *testing.T) {
	f := newFixture(t, config.RestoreConfig{}, "vip")
	ctx := context.Background()
	f.joinAndStrip(t, "m1", "vip")

	f.repo.FailNext = errors.New("db down")
	_, err := f.workflow.StartVerification(ctx, "m1")
	require.Error(t, err)

	// The channel created before the failed write must not survive it.
	require.Empty(t, f.fake.ChannelsFor("m1"))
	record, ok := f.store.Get("m1")
	require.True(t, ok)
	require.Equal(t, domain.StateMonitored, record.State)
	require.Nil(t, record.TicketChannelID)

	// Retry opens exactly one ticket; one member never has two.
	channelID, err := f.workflow.StartVerification(ctx, "m1")
	require.NoError(t, err)
	require.NotEmpty(t, channelID)
	require.Len(t, f.fake.ChannelsFor("m1"), 1)
}

func TestConfirmBookingRequiresOpenTicket(t *testing.T) {
	f := newFixture(t, config.RestoreConfig{}, "vip")
	f.joinAndStrip(t, "m1", "vip")

	err := f.workflow.ConfirmBooking(context.Background(), "m1")
	require.True(t, apperrors.IsCode(err, apperrors.CodeConflict))
}

func TestConfirmBookingAdminGated(t *testing.T) {
	f := newFixture(t, config.RestoreConfig{
		MaxAttempts:         2,
		InitialIntervalMS:   1,
		MaxIntervalMS:       2,
		RequiresAdmin:       true,
		PlatformCallsPerSec: 100000,
	}, "vip")
	ctx := context.Background()
	f.joinAndStrip(t, "m1", "vip")

	_, err := f.workflow.StartVerification(ctx, "m1")
	require.NoError(t, err)
	require.NoError(t, f.workflow.ConfirmBooking(ctx, "m1"))

	// Roles stay revoked until an admin approves.
	record, ok := f.store.Get("m1")
	require.True(t, ok)
	require.Equal(t, domain.StateBookingConfirmed, record.State)
	require.Empty(t, f.fake.Roles("m1"))

	// Second confirm click is a no-op.
	require.NoError(t, f.workflow.ConfirmBooking(ctx, "m1"))
	record, _ = f.store.Get("m1")
	require.Equal(t, domain.StateBookingConfirmed, record.State)

	require.NoError(t, f.workflow.ForceVerify(ctx, "m1"))
	require.Equal(t, []string{"vip"}, f.fake.Roles("m1"))
	_, ok = f.store.Get("m1")
	require.False(t, ok)
}

func TestRestorationHeldOnGrantFailure(t *testing.T) {
	f := newFixture(t, config.RestoreConfig{}, "vip")
	ctx := context.Background()
	f.joinAndStrip(t, "m1", "vip")
	_, err := f.workflow.StartVerification(ctx, "m1")
	require.NoError(t, err)

	f.fake.FailAddRoles = -1
	err = f.workflow.ConfirmBooking(ctx, "m1")
	require.Error(t, err)

	// The record stays tracked in RESTORING and the stored roles survive.
	record, ok := f.store.Get("m1")
	require.True(t, ok)
	require.Equal(t, domain.StateRestoring, record.State)
	require.Equal(t, []string{"vip"}, record.StoredRoles)
	require.Empty(t, f.fake.Roles("m1"))
	require.True(t, f.recorder.has(events.EventRestorationHeld))

	// Operator clears the obstacle and retries.
	f.fake.FailAddRoles = 0
	require.NoError(t, f.workflow.ForceVerify(ctx, "m1"))
	require.Equal(t, []string{"vip"}, f.fake.Roles("m1"))
	_, ok = f.store.Get("m1")
	require.False(t, ok)
}

func TestRestorationPermissionFailureNotRetried(t *testing.T) {
	f := newFixture(t, config.RestoreConfig{}, "vip")
	ctx := context.Background()
	f.joinAndStrip(t, "m1", "vip")
	_, err := f.workflow.StartVerification(ctx, "m1")
	require.NoError(t, err)

	f.fake.FailAddRoles = -1
	f.fake.InjectedErr = platform.ErrPermissionDenied
	err = f.workflow.ConfirmBooking(ctx, "m1")
	require.True(t, apperrors.IsCode(err, apperrors.CodePermission))

	record, ok := f.store.Get("m1")
	require.True(t, ok)
	require.Equal(t, domain.StateRestoring, record.State)
}

func TestRestorationWithEmptyStoredRolesFreezes(t *testing.T) {
	f := newFixture(t, config.RestoreConfig{}, "vip")
	ctx := context.Background()
	f.fake.Join("m1")
	require.NoError(t, f.store.Put(ctx, &domain.VerificationRecord{
		MemberID: "m1",
		State:    domain.StateMonitored,
	}))

	err := f.workflow.ForceVerify(ctx, "m1")
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvariant))

	// Frozen, not silently completed: the record is still there.
	_, ok := f.store.Get("m1")
	require.True(t, ok)
	require.True(t, f.recorder.has(events.EventRestorationHeld))
}

func TestForceVerifySkipsLifecycle(t *testing.T) {
	f := newFixture(t, config.RestoreConfig{}, "vip")
	ctx := context.Background()
	f.joinAndStrip(t, "m1", "vip")

	// Straight from MONITORED, no ticket ever opened.
	require.NoError(t, f.workflow.ForceVerify(ctx, "m1"))
	require.Equal(t, []string{"vip"}, f.fake.Roles("m1"))
	_, ok := f.store.Get("m1")
	require.False(t, ok)
	require.True(t, f.recorder.has(events.EventForceVerified))
}

func TestForceVerifyUntracked(t *testing.T) {
	f := newFixture(t, config.RestoreConfig{}, "vip")
	err := f.workflow.ForceVerify(context.Background(), "ghost")
	require.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestMemberLeaveOrphansRecordAndClosesTicket(t *testing.T) {
	f := newFixture(t, config.RestoreConfig{}, "vip")
	ctx := context.Background()
	f.joinAndStrip(t, "m1", "vip")
	channelID, err := f.workflow.StartVerification(ctx, "m1")
	require.NoError(t, err)

	f.fake.Leave("m1")
	require.NoError(t, f.workflow.HandleMemberLeave(ctx, "m1"))

	record, ok := f.store.Get("m1")
	require.True(t, ok)
	require.Equal(t, domain.StateOrphaned, record.State)
	require.NotNil(t, record.OrphanedAt)
	require.Equal(t, []string{"vip"}, record.StoredRoles)
	require.False(t, f.fake.HasChannel(channelID))
	require.True(t, f.recorder.has(events.EventRecordOrphaned))
}

func TestMemberLeaveUntrackedIsNoop(t *testing.T) {
	f := newFixture(t, config.RestoreConfig{}, "vip")
	require.NoError(t, f.workflow.HandleMemberLeave(context.Background(), "ghost"))
}

func TestPurgeOrphanHonorsRetention(t *testing.T) {
	f := newFixture(t, config.RestoreConfig{}, "vip")
	ctx := context.Background()
	f.joinAndStrip(t, "m1", "vip")
	f.fake.Leave("m1")
	require.NoError(t, f.workflow.HandleMemberLeave(ctx, "m1"))

	purged, err := f.workflow.PurgeOrphan(ctx, "m1", time.Hour)
	require.NoError(t, err)
	require.False(t, purged)
	_, ok := f.store.Get("m1")
	require.True(t, ok)

	purged, err = f.workflow.PurgeOrphan(ctx, "m1", 0)
	require.NoError(t, err)
	require.True(t, purged)
	_, ok = f.store.Get("m1")
	require.False(t, ok)
	require.False(t, f.repo.Has("m1"))
	require.True(t, f.recorder.has(events.EventOrphanPurged))
}

func TestExpireTicketRegressesToMonitored(t *testing.T) {
	f := newFixture(t, config.RestoreConfig{}, "vip")
	ctx := context.Background()
	f.joinAndStrip(t, "m1", "vip")
	channelID, err := f.workflow.StartVerification(ctx, "m1")
	require.NoError(t, err)

	// Not yet expired.
	require.NoError(t, f.workflow.ExpireTicket(ctx, "m1"))
	record, _ := f.store.Get("m1")
	require.Equal(t, domain.StateTicketOpen, record.State)

	// Age the ticket past its TTL.
	record.LastTransitionAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, f.store.Put(ctx, record))

	require.NoError(t, f.workflow.ExpireTicket(ctx, "m1"))
	record, _ = f.store.Get("m1")
	require.Equal(t, domain.StateMonitored, record.State)
	require.Nil(t, record.TicketChannelID)
	require.False(t, f.fake.HasChannel(channelID))
	require.True(t, f.recorder.has(events.EventTicketExpired))

	// The member can start over.
	next, err := f.workflow.StartVerification(ctx, "m1")
	require.NoError(t, err)
	require.NotEqual(t, channelID, next)
}

func TestMassVerifySkipsOrphans(t *testing.T) {
	f := newFixture(t, config.RestoreConfig{}, "vip")
	ctx := context.Background()
	f.joinAndStrip(t, "m1", "vip")
	f.joinAndStrip(t, "m2", "vip")
	f.joinAndStrip(t, "m3", "vip")

	f.fake.Leave("m3")
	require.NoError(t, f.workflow.HandleMemberLeave(ctx, "m3"))

	verified, err := f.workflow.MassVerify(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, verified)

	require.Equal(t, []string{"vip"}, f.fake.Roles("m1"))
	require.Equal(t, []string{"vip"}, f.fake.Roles("m2"))

	record, ok := f.store.Get("m3")
	require.True(t, ok)
	require.Equal(t, domain.StateOrphaned, record.State)
}

func TestListPending(t *testing.T) {
	f := newFixture(t, config.RestoreConfig{}, "vip")
	f.joinAndStrip(t, "m1", "vip")
	f.joinAndStrip(t, "m2", "vip")

	pending := f.workflow.ListPending()
	require.Len(t, pending, 2)
}
