package domain

import "time"

// VerificationState enumerates lifecycle states for a tracked member.
type VerificationState string

const (
	StateStripped         VerificationState = "STRIPPED"
	StateMonitored        VerificationState = "MONITORED"
	StateTicketOpen       VerificationState = "TICKET_OPEN"
	StateBookingConfirmed VerificationState = "BOOKING_CONFIRMED"
	StateRestoring        VerificationState = "RESTORING"
	StateVerified         VerificationState = "VERIFIED"
	StateOrphaned         VerificationState = "ORPHANED"
)

// Protected reports whether the guard must keep the member's stored roles
// revoked while the record is in this state.
func (s VerificationState) Protected() bool {
	switch s {
	case StateStripped, StateMonitored, StateTicketOpen, StateBookingConfirmed:
		return true
	}
	return false
}

// Terminal reports whether the state ends the organic lifecycle.
func (s VerificationState) Terminal() bool {
	return s == StateVerified
}

// VerificationRecord is the aggregate for one member's verification, keyed by
// the member identity. StoredRoles is captured once at the strip and granted
// back verbatim at restoration.
type VerificationRecord struct {
	MemberID          string
	StoredRoles       []string
	State             VerificationState
	TicketChannelID   *string
	JoinedAt          time.Time
	LastTransitionAt  time.Time
	OrphanedAt        *time.Time
	InterferenceCount int
	ForceVerified     bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// transitionGraph lists the organic transitions. ForceVerify and the orphan
// path are handled separately in CanTransition.
var transitionGraph = map[VerificationState][]VerificationState{
	StateStripped:         {StateMonitored},
	StateMonitored:        {StateTicketOpen},
	StateTicketOpen:       {StateBookingConfirmed, StateMonitored},
	StateBookingConfirmed: {StateRestoring},
	StateRestoring:        {StateVerified},
}

// CanTransition reports whether moving from the record's current state to
// next is allowed. Any non-terminal state may be orphaned (member departed)
// or force-jumped to RESTORING by an administrator.
func (r *VerificationRecord) CanTransition(next VerificationState, forced bool) bool {
	if r.State.Terminal() {
		return false
	}
	if next == StateOrphaned {
		return true
	}
	if forced && next == StateRestoring {
		return true
	}
	for _, allowed := range transitionGraph[r.State] {
		if allowed == next {
			return true
		}
	}
	// Rejoin inside the retention window reattaches an orphaned record.
	return r.State == StateOrphaned && next == StateStripped
}

// Transition applies the state change and stamps the transition time.
func (r *VerificationRecord) Transition(next VerificationState, at time.Time) {
	r.State = next
	r.LastTransitionAt = at
	if next == StateOrphaned {
		r.OrphanedAt = &at
	} else {
		r.OrphanedAt = nil
	}
}

// HasTicket reports whether an open ticket channel is attached.
func (r *VerificationRecord) HasTicket() bool {
	return r.TicketChannelID != nil && *r.TicketChannelID != ""
}
