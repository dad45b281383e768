package platform

import (
	"context"
	"errors"
)

// Sentinel errors adapters translate platform responses into. The retry
// layer classifies on these.
var (
	// ErrNotFound means the member or channel no longer exists.
	ErrNotFound = errors.New("platform: not found")
	// ErrPermissionDenied means the bot sits below the role in the
	// hierarchy or lacks a permission. Never retried.
	ErrPermissionDenied = errors.New("platform: permission denied")
	// ErrRateLimited means the platform asked us to slow down.
	ErrRateLimited = errors.New("platform: rate limited")
)

// Client is the chat-platform surface the core depends on. The concrete
// transport (gateway connection, REST adapter) lives outside this module;
// handlers wired to it must call into the core and return promptly.
type Client interface {
	// MemberRoles returns the live role IDs held by the member.
	MemberRoles(ctx context.Context, memberID string) ([]string, error)
	// ListMemberIDs returns the live roster.
	ListMemberIDs(ctx context.Context) ([]string, error)
	// AddRoles grants the given roles with an audit reason.
	AddRoles(ctx context.Context, memberID string, roleIDs []string, reason string) error
	// RemoveRoles revokes the given roles with an audit reason.
	RemoveRoles(ctx context.Context, memberID string, roleIDs []string, reason string) error
	// CreateTicketChannel creates the private per-member channel and
	// returns its ID.
	CreateTicketChannel(ctx context.Context, memberID, categoryID string) (string, error)
	// DeleteChannel removes a channel.
	DeleteChannel(ctx context.Context, channelID string) error
	// SendChannelMessage posts content into a channel.
	SendChannelMessage(ctx context.Context, channelID, content string) error
}
