package events

import "time"

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventMemberStripped       EventType = "member_stripped"
	EventInterferenceDetected EventType = "interference_detected"
	EventTicketOpened         EventType = "ticket_opened"
	EventTicketExpired        EventType = "ticket_expired"
	EventBookingConfirmed     EventType = "booking_confirmed"
	EventRolesRestored        EventType = "roles_restored"
	EventRestorationHeld      EventType = "restoration_held"
	EventRecordOrphaned       EventType = "record_orphaned"
	EventOrphanPurged         EventType = "orphan_purged"
	EventForceVerified        EventType = "force_verified"
)

// Actor identifies who caused the event.
type Actor string

const (
	ActorSystem Actor = "system"
	ActorMember Actor = "member"
	ActorAdmin  Actor = "admin"
)

// Event represents a domain event emitted by the guard and workflow.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	MemberID  string      `json:"member_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// MemberStrippedPayload payload.
type MemberStrippedPayload struct {
	StrippedRoles []string `json:"stripped_roles"`
}

// InterferencePayload payload.
type InterferencePayload struct {
	RevokedRoles      []string `json:"revoked_roles"`
	InterferenceCount int      `json:"interference_count"`
	Source            string   `json:"source"`
}

// TicketPayload payload.
type TicketPayload struct {
	ChannelID string `json:"channel_id"`
}

// BookingConfirmedPayload payload. The confirmation is a member claim; no
// provider-side proof is recorded.
type BookingConfirmedPayload struct {
	ChannelID string `json:"channel_id"`
	Claimed   bool   `json:"claimed"`
}

// RolesRestoredPayload payload.
type RolesRestoredPayload struct {
	RestoredRoles []string `json:"restored_roles"`
	Forced        bool     `json:"forced"`
}

// RestorationHeldPayload payload.
type RestorationHeldPayload struct {
	Reason string `json:"reason"`
}

// OrphanPayload payload.
type OrphanPayload struct {
	PriorState string `json:"prior_state"`
}
