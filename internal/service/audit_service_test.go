package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/verification-gate/internal/config"
	"github.com/spec-kit/verification-gate/internal/events"
	"github.com/spec-kit/verification-gate/internal/platform/platformtest"
	"github.com/spec-kit/verification-gate/internal/repository/repositorytest"
)

func TestAuditTrailPersistsEvents(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	auditRepo := repositorytest.NewAuditRepo()
	fake := platformtest.New()

	audit := NewAuditService(config.GuardConfig{}, AuditDependencies{
		Dispatcher: dispatcher,
		AuditRepo:  auditRepo,
		Client:     fake,
		Logger:     zap.NewNop(),
	})
	audit.RegisterHandlers()

	ctx := context.Background()
	require.NoError(t, dispatcher.Publish(ctx, events.New(events.EventMemberStripped, "m1", events.ActorSystem,
		events.MemberStrippedPayload{StrippedRoles: []string{"vip"}})))
	require.NoError(t, dispatcher.Publish(ctx, events.New(events.EventRolesRestored, "m1", events.ActorMember,
		events.RolesRestoredPayload{RestoredRoles: []string{"vip"}})))

	entries := auditRepo.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, string(events.EventMemberStripped), entries[0].EventType)
	require.Equal(t, "m1", entries[0].MemberID)
	require.Equal(t, []any{"vip"}, entries[0].Payload["stripped_roles"])

	byMember, err := auditRepo.ListByMember(ctx, "m1", 0)
	require.NoError(t, err)
	require.Len(t, byMember, 2)
}

func TestRecentReturnsNewestFirstWithLimit(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	auditRepo := repositorytest.NewAuditRepo()

	audit := NewAuditService(config.GuardConfig{}, AuditDependencies{
		Dispatcher: dispatcher,
		AuditRepo:  auditRepo,
		Client:     platformtest.New(),
		Logger:     zap.NewNop(),
	})
	audit.RegisterHandlers()

	ctx := context.Background()
	require.NoError(t, dispatcher.Publish(ctx, events.New(events.EventMemberStripped, "m1", events.ActorSystem,
		events.MemberStrippedPayload{StrippedRoles: []string{"vip"}})))
	require.NoError(t, dispatcher.Publish(ctx, events.New(events.EventTicketOpened, "m1", events.ActorMember, nil)))
	require.NoError(t, dispatcher.Publish(ctx, events.New(events.EventBookingConfirmed, "m2", events.ActorMember, nil)))
	require.NoError(t, dispatcher.Publish(ctx, events.New(events.EventRolesRestored, "m1", events.ActorSystem,
		events.RolesRestoredPayload{RestoredRoles: []string{"vip"}})))

	recent, err := audit.Recent(ctx, "m1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, string(events.EventRolesRestored), recent[0].EventType)
	require.Equal(t, string(events.EventTicketOpened), recent[1].EventType)

	// No repo configured means no trail rather than an error.
	bare := NewAuditService(config.GuardConfig{}, AuditDependencies{
		Dispatcher: events.NewInMemoryDispatcher(),
		Client:     platformtest.New(),
		Logger:     zap.NewNop(),
	})
	recent, err = bare.Recent(ctx, "m1", 2)
	require.NoError(t, err)
	require.Empty(t, recent)
}

func TestAuditPostsToConfiguredChannel(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	fake := platformtest.New()

	// The audit channel must exist on the fake for messages to land.
	channelID, err := fake.CreateTicketChannel(context.Background(), "ops", "")
	require.NoError(t, err)

	audit := NewAuditService(config.GuardConfig{AuditChannelID: channelID}, AuditDependencies{
		Dispatcher: dispatcher,
		AuditRepo:  repositorytest.NewAuditRepo(),
		Client:     fake,
		Logger:     zap.NewNop(),
	})
	audit.RegisterHandlers()

	require.NoError(t, dispatcher.Publish(context.Background(),
		events.New(events.EventInterferenceDetected, "m1", events.ActorSystem, nil)))

	channels := fake.ChannelsFor("ops")
	require.Len(t, channels, 1)
	require.Len(t, channels[0].Messages, 1)
	require.Contains(t, channels[0].Messages[0], "interference_detected")
	require.Contains(t, channels[0].Messages[0], "m1")
}
