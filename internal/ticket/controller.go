// Package ticket owns the one-to-one relation between a verification record
// and its private channel.
package ticket

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/verification-gate/internal/config"
	"github.com/spec-kit/verification-gate/internal/domain"
	"github.com/spec-kit/verification-gate/internal/platform"
)

// Controller creates and destroys verification ticket channels. Creation is
// idempotent per member; destruction never blocks a state transition.
type Controller struct {
	client platform.Client
	caller *platform.Caller
	logger *zap.Logger
	cfg    config.TicketConfig
}

// NewController creates the controller.
func NewController(cfg config.TicketConfig, client platform.Client, caller *platform.Caller, logger *zap.Logger) *Controller {
	return &Controller{client: client, caller: caller, logger: logger, cfg: cfg}
}

// Open ensures the member has exactly one open ticket channel. When the
// record already carries one, the existing channel ID is returned with
// alreadyOpen set and no error. Caller holds the member lock.
func (c *Controller) Open(ctx context.Context, record *domain.VerificationRecord) (channelID string, alreadyOpen bool, err error) {
	if record.HasTicket() {
		return *record.TicketChannelID, true, nil
	}

	err = c.caller.Do(ctx, "create_ticket_channel", func(ctx context.Context) error {
		var createErr error
		channelID, createErr = c.client.CreateTicketChannel(ctx, record.MemberID, c.cfg.CategoryID)
		return createErr
	})
	if err != nil {
		return "", false, err
	}

	expiry := time.Now().Add(c.cfg.TTL())
	if sendErr := c.client.SendChannelMessage(ctx, channelID, c.welcomeMessage(expiry)); sendErr != nil {
		// The channel works without the banner; verification proceeds.
		c.logger.Warn("ticket welcome message failed",
			zap.String("member_id", record.MemberID),
			zap.String("channel_id", channelID),
			zap.Error(sendErr))
	}

	c.logger.Info("verification ticket opened",
		zap.String("member_id", record.MemberID),
		zap.String("channel_id", channelID))
	return channelID, false, nil
}

// Close tears the channel down. A deletion failure is logged and retried in
// the background; it never fails the transition that triggered it.
func (c *Controller) Close(ctx context.Context, memberID, channelID string) {
	if channelID == "" {
		return
	}
	err := c.caller.Do(ctx, "delete_channel", func(ctx context.Context) error {
		return c.client.DeleteChannel(ctx, channelID)
	})
	if err == nil {
		c.logger.Info("verification ticket closed",
			zap.String("member_id", memberID),
			zap.String("channel_id", channelID))
		return
	}
	c.logger.Error("ticket channel deletion failed; retrying in background",
		zap.String("member_id", memberID),
		zap.String("channel_id", channelID),
		zap.Error(err))
	go c.retryClose(memberID, channelID)
}

// Expired reports whether an open ticket has outlived its TTL.
func (c *Controller) Expired(record *domain.VerificationRecord, now time.Time) bool {
	if record.State != domain.StateTicketOpen || !record.HasTicket() {
		return false
	}
	return now.Sub(record.LastTransitionAt) > c.cfg.TTL()
}

func (c *Controller) retryClose(memberID, channelID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	err := c.caller.Do(ctx, "delete_channel", func(ctx context.Context) error {
		return c.client.DeleteChannel(ctx, channelID)
	})
	if err != nil {
		c.logger.Error("background ticket deletion exhausted retries",
			zap.String("member_id", memberID),
			zap.String("channel_id", channelID),
			zap.Error(err))
		return
	}
	c.logger.Info("verification ticket closed after retry",
		zap.String("member_id", memberID),
		zap.String("channel_id", channelID))
}

func (c *Controller) welcomeMessage(expiry time.Time) string {
	return fmt.Sprintf(
		"Welcome to your verification ticket.\n"+
			"Step 1: book your onboarding call: %s\n"+
			"Step 2: confirm the booking here once it is done.\n"+
			"This ticket closes at %s.",
		c.cfg.BookingLink,
		expiry.UTC().Format(time.RFC1123),
	)
}
