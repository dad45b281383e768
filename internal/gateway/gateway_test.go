package gateway

import (
	"context"
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
	"github.com/spec-kit/verification-gate/internal/workflow"
	apperrors "github.com/spec-kit/verification-gate/pkg/util"
)

type fixture struct {
	gateway *Gateway
	store   *state.Store
	fake    *platformtest.Fake
}

func newFixture(t *testing.T, queueSize, workers int) *fixture {
	t.Helper()
	restore := config.RestoreConfig{
		MaxAttempts:         2,
		InitialIntervalMS:   1,
		MaxIntervalMS:       2,
		PlatformCallsPerSec: 100000,
	}

	logger := zap.NewNop()
	store := state.NewStore(repositorytest.NewRecordRepo(), logger)
	fake := platformtest.New()
	caller := platform.NewCaller(restore)
	dispatcher := events.NewInMemoryDispatcher()
	tickets := ticket.NewController(config.TicketConfig{TTLHours: 1}, fake, caller, logger)

	g := guard.NewRoleGuard(config.GuardConfig{PrivilegedRoleIDs: []string{"vip"}}, guard.Dependencies{
		Store:      store,
		Client:     fake,
		Caller:     caller,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	wf := workflow.NewWorkflow(restore, workflow.Dependencies{
		Store:      store,
		Client:     fake,
		Caller:     caller,
		Tickets:    tickets,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	return &fixture{
		gateway: New(g, wf, logger, queueSize, workers),
		store:   store,
		fake:    fake,
	}
}

func TestMemberJoinProcessedAsynchronously(t *testing.T) {
	f := newFixture(t, 16, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.gateway.Run(ctx)

	f.fake.Join("m1", "vip", "member")
	require.NoError(t, f.gateway.OnMemberJoin("m1", f.fake.Roles("m1")))

	require.Eventually(t, func() bool {
		record, ok := f.store.Get("m1")
		return ok && record.State == domain.StateMonitored
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"member"}, f.fake.Roles("m1"))
}

func TestTicketActionsDriveWorkflow(t *testing.T) {
	f := newFixture(t, 16, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.gateway.Run(ctx)

	f.fake.Join("m1", "vip")
	require.NoError(t, f.gateway.OnMemberJoin("m1", f.fake.Roles("m1")))
	require.Eventually(t, func() bool {
		record, ok := f.store.Get("m1")
		return ok && record.State == domain.StateMonitored
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.gateway.OnTicketAction("m1", ActionStart))
	require.Eventually(t, func() bool {
		record, ok := f.store.Get("m1")
		return ok && record.State == domain.StateTicketOpen
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.gateway.OnTicketAction("m1", ActionConfirmBooking))
	require.Eventually(t, func() bool {
		_, ok := f.store.Get("m1")
		return !ok
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"vip"}, f.fake.Roles("m1"))
}

func TestUnknownTicketActionRejected(t *testing.T) {
	f := newFixture(t, 16, 2)
	err := f.gateway.OnTicketAction("m1", "dance")
	require.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
}

func TestRunReturnsOnCancel(t *testing.T) {
	f := newFixture(t, 16, 2)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.gateway.Run(ctx)
		close(done)
	}()

	// Leave one task queued so stopping does not depend on an empty queue.
	require.NoError(t, f.gateway.OnMemberLeave("m1"))
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestFullQueueDropsInsteadOfBlocking(t *testing.T) {
	// No workers running, so the first event occupies the only slot.
	f := newFixture(t, 1, 1)

	require.NoError(t, f.gateway.OnMemberLeave("m1"))
	err := f.gateway.OnMemberLeave("m2")
	require.True(t, apperrors.IsCode(err, apperrors.CodeTransient))
}
