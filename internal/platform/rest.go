package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/spec-kit/verification-gate/internal/config"
)

// RESTClient talks to the chat-platform bridge over its HTTP API. It only
// shapes requests and classifies responses; retry and pacing live in Caller.
type RESTClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewRESTClient builds a bridge client from config.
func NewRESTClient(cfg config.PlatformConfig) *RESTClient {
	return &RESTClient{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout()},
	}
}

type rolesResponse struct {
	RoleIDs []string `json:"role_ids"`
}

type membersResponse struct {
	MemberIDs []string `json:"member_ids"`
}

type channelResponse struct {
	ChannelID string `json:"channel_id"`
}

// MemberRoles returns the live role IDs held by the member.
func (c *RESTClient) MemberRoles(ctx context.Context, memberID string) ([]string, error) {
	var out rolesResponse
	if err := c.do(ctx, http.MethodGet, "/members/"+url.PathEscape(memberID)+"/roles", nil, &out); err != nil {
		return nil, err
	}
	return out.RoleIDs, nil
}

// ListMemberIDs returns the live roster.
func (c *RESTClient) ListMemberIDs(ctx context.Context) ([]string, error) {
	var out membersResponse
	if err := c.do(ctx, http.MethodGet, "/members", nil, &out); err != nil {
		return nil, err
	}
	return out.MemberIDs, nil
}

// AddRoles grants the given roles with an audit reason.
func (c *RESTClient) AddRoles(ctx context.Context, memberID string, roleIDs []string, reason string) error {
	body := map[string]any{"role_ids": roleIDs, "reason": reason}
	return c.do(ctx, http.MethodPost, "/members/"+url.PathEscape(memberID)+"/roles", body, nil)
}

// RemoveRoles revokes the given roles with an audit reason.
func (c *RESTClient) RemoveRoles(ctx context.Context, memberID string, roleIDs []string, reason string) error {
	body := map[string]any{"role_ids": roleIDs, "reason": reason}
	return c.do(ctx, http.MethodDelete, "/members/"+url.PathEscape(memberID)+"/roles", body, nil)
}

// CreateTicketChannel creates the private per-member channel and returns its ID.
func (c *RESTClient) CreateTicketChannel(ctx context.Context, memberID, categoryID string) (string, error) {
	body := map[string]any{"member_id": memberID, "category_id": categoryID}
	var out channelResponse
	if err := c.do(ctx, http.MethodPost, "/channels", body, &out); err != nil {
		return "", err
	}
	return out.ChannelID, nil
}

// DeleteChannel removes a channel.
func (c *RESTClient) DeleteChannel(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodDelete, "/channels/"+url.PathEscape(channelID), nil, nil)
}

// SendChannelMessage posts content into a channel.
func (c *RESTClient) SendChannelMessage(ctx context.Context, channelID, content string) error {
	body := map[string]any{"content": content}
	return c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/messages", body, nil)
}

func (c *RESTClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden || code == http.StatusUnauthorized:
		return ErrPermissionDenied
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return fmt.Errorf("unexpected status %d", code)
	}
}
