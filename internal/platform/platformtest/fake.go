// Package platformtest provides an in-memory platform.Client for tests.
package platformtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/spec-kit/verification-gate/internal/platform"
)

// Channel is a fake private channel.
type Channel struct {
	ID       string
	MemberID string
	Messages []string
}

// Fake implements platform.Client against in-memory state. Failure fields
// inject errors for the next N matching calls (negative means always).
type Fake struct {
	mu sync.Mutex

	roles    map[string][]string
	present  map[string]bool
	channels map[string]*Channel
	nextChan int

	FailAddRoles    int
	FailRemoveRoles int
	FailCreate      int
	FailDelete      int
	FailList        int
	InjectedErr     error

	RemoveReasons []string
	AddReasons    []string
}

// New returns an empty fake platform.
func New() *Fake {
	return &Fake{
		roles:    make(map[string][]string),
		present:  make(map[string]bool),
		channels: make(map[string]*Channel),
	}
}

// Join adds a member to the roster with the given live roles.
func (f *Fake) Join(memberID string, roleIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.present[memberID] = true
	f.roles[memberID] = append([]string{}, roleIDs...)
}

// Leave removes a member from the roster.
func (f *Fake) Leave(memberID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.present, memberID)
	delete(f.roles, memberID)
}

// Grant simulates an external actor (the subscription bot) adding roles.
func (f *Fake) Grant(memberID string, roleIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[memberID] = addAll(f.roles[memberID], roleIDs)
}

// Roles returns a copy of the member's live roles.
func (f *Fake) Roles(memberID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.roles[memberID]...)
}

// ChannelsFor returns the open channels created for a member.
func (f *Fake) ChannelsFor(memberID string) []*Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Channel
	for _, ch := range f.channels {
		if ch.MemberID == memberID {
			out = append(out, ch)
		}
	}
	return out
}

// HasChannel reports whether the channel still exists.
func (f *Fake) HasChannel(channelID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.channels[channelID]
	return ok
}

func (f *Fake) MemberRoles(ctx context.Context, memberID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.present[memberID] {
		return nil, platform.ErrNotFound
	}
	return append([]string{}, f.roles[memberID]...), nil
}

func (f *Fake) ListMemberIDs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.consume(&f.FailList); err != nil {
		return nil, err
	}
	var out []string
	for id := range f.present {
		out = append(out, id)
	}
	return out, nil
}

func (f *Fake) AddRoles(ctx context.Context, memberID string, roleIDs []string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.consume(&f.FailAddRoles); err != nil {
		return err
	}
	if !f.present[memberID] {
		return platform.ErrNotFound
	}
	f.roles[memberID] = addAll(f.roles[memberID], roleIDs)
	f.AddReasons = append(f.AddReasons, reason)
	return nil
}

func (f *Fake) RemoveRoles(ctx context.Context, memberID string, roleIDs []string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.consume(&f.FailRemoveRoles); err != nil {
		return err
	}
	if !f.present[memberID] {
		return platform.ErrNotFound
	}
	drop := make(map[string]bool, len(roleIDs))
	for _, id := range roleIDs {
		drop[id] = true
	}
	var kept []string
	for _, id := range f.roles[memberID] {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	f.roles[memberID] = kept
	f.RemoveReasons = append(f.RemoveReasons, reason)
	return nil
}

func (f *Fake) CreateTicketChannel(ctx context.Context, memberID, categoryID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.consume(&f.FailCreate); err != nil {
		return "", err
	}
	f.nextChan++
	id := fmt.Sprintf("chan-%d", f.nextChan)
	f.channels[id] = &Channel{ID: id, MemberID: memberID}
	return id, nil
}

func (f *Fake) DeleteChannel(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.consume(&f.FailDelete); err != nil {
		return err
	}
	if _, ok := f.channels[channelID]; !ok {
		return platform.ErrNotFound
	}
	delete(f.channels, channelID)
	return nil
}

func (f *Fake) SendChannelMessage(ctx context.Context, channelID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.channels[channelID]; ok {
		ch.Messages = append(ch.Messages, content)
	}
	return nil
}

func (f *Fake) consume(counter *int) error {
	if *counter == 0 {
		return nil
	}
	if *counter > 0 {
		*counter--
	}
	if f.InjectedErr != nil {
		return f.InjectedErr
	}
	return platform.ErrRateLimited
}

func addAll(current, extra []string) []string {
	have := make(map[string]bool, len(current))
	for _, id := range current {
		have[id] = true
	}
	for _, id := range extra {
		if !have[id] {
			current = append(current, id)
			have[id] = true
		}
	}
	return current
}
