package ticket

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/verification-gate/internal/config"
	"github.com/spec-kit/verification-gate/internal/domain"
	"github.com/spec-kit/verification-gate/internal/platform"
	"github.com/spec-kit/verification-gate/internal/platform/platformtest"
)

func newController(fake *platformtest.Fake, ttlHours int) *Controller {
	caller := platform.NewCaller(config.RestoreConfig{
		MaxAttempts:         2,
		InitialIntervalMS:   1,
		MaxIntervalMS:       2,
		PlatformCallsPerSec: 100000,
	})
	return NewController(config.TicketConfig{
		BookingLink: "https://example.com/book",
		CategoryID:  "cat-1",
		TTLHours:    ttlHours,
	}, fake, caller, zap.NewNop())
}

func TestOpenCreatesChannelWithWelcome(t *testing.T) {
	fake := platformtest.New()
	c := newController(fake, 24)
	record := &domain.VerificationRecord{MemberID: "m1", State: domain.StateMonitored}

	channelID, alreadyOpen, err := c.Open(context.Background(), record)
	require.NoError(t, err)
	require.False(t, alreadyOpen)
	require.True(t, fake.HasChannel(channelID))

	channels := fake.ChannelsFor("m1")
	require.Len(t, channels, 1)
	require.Len(t, channels[0].Messages, 1)
	require.True(t, strings.Contains(channels[0].Messages[0], "https://example.com/book"))
}

func TestOpenIsIdempotentPerRecord(t *testing.T) {
	fake := platformtest.New()
	c := newController(fake, 24)
	existing := "chan-7"
	record := &domain.VerificationRecord{
		MemberID:        "m1",
		State:           domain.StateTicketOpen,
		TicketChannelID: &existing,
	}

	channelID, alreadyOpen, err := c.Open(context.Background(), record)
	require.NoError(t, err)
	require.True(t, alreadyOpen)
	require.Equal(t, existing, channelID)
	require.Empty(t, fake.ChannelsFor("m1"))
}

func TestOpenRetriesTransientCreateFailure(t *testing.T) {
	fake := platformtest.New()
	fake.FailCreate = 1
	c := newController(fake, 24)
	record := &domain.VerificationRecord{MemberID: "m1", State: domain.StateMonitored}

	channelID, _, err := c.Open(context.Background(), record)
	require.NoError(t, err)
	require.True(t, fake.HasChannel(channelID))
}

func TestCloseDeletesChannel(t *testing.T) {
	fake := platformtest.New()
	c := newController(fake, 24)
	record := &domain.VerificationRecord{MemberID: "m1", State: domain.StateMonitored}
	channelID, _, err := c.Open(context.Background(), record)
	require.NoError(t, err)

	c.Close(context.Background(), "m1", channelID)
	require.False(t, fake.HasChannel(channelID))
}

func TestCloseWithEmptyChannelIsNoop(t *testing.T) {
	fake := platformtest.New()
	c := newController(fake, 24)
	c.Close(context.Background(), "m1", "")
}

func TestCloseRetriesInBackground(t *testing.T) {
	fake := platformtest.New()
	c := newController(fake, 24)
	record := &domain.VerificationRecord{MemberID: "m1", State: domain.StateMonitored}
	channelID, _, err := c.Open(context.Background(), record)
	require.NoError(t, err)

	// Exhaust the foreground attempts; the background retry succeeds.
	fake.FailDelete = 2
	c.Close(context.Background(), "m1", channelID)

	require.Eventually(t, func() bool {
		return !fake.HasChannel(channelID)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExpired(t *testing.T) {
	fake := platformtest.New()
	c := newController(fake, 1)
	now := time.Now().UTC()
	channelID := "chan-1"

	fresh := &domain.VerificationRecord{
		MemberID:         "m1",
		State:            domain.StateTicketOpen,
		TicketChannelID:  &channelID,
		LastTransitionAt: now.Add(-30 * time.Minute),
	}
	require.False(t, c.Expired(fresh, now))

	stale := &domain.VerificationRecord{
		MemberID:         "m1",
		State:            domain.StateTicketOpen,
		TicketChannelID:  &channelID,
		LastTransitionAt: now.Add(-2 * time.Hour),
	}
	require.True(t, c.Expired(stale, now))

	// Only open tickets expire.
	stale.State = domain.StateBookingConfirmed
	require.False(t, c.Expired(stale, now))
}
