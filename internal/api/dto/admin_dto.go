package dto

import "time"

// LoginRequest carries the admin password.
type LoginRequest struct {
	Password string `json:"password"`
}

// LoginResponse returns the signed admin token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PendingRecord is the admin view of one tracked member.
type PendingRecord struct {
	MemberID          string    `json:"member_id"`
	State             string    `json:"state"`
	StoredRoles       []string  `json:"stored_roles"`
	TicketChannelID   string    `json:"ticket_channel_id,omitempty"`
	JoinedAt          time.Time `json:"joined_at"`
	LastTransitionAt  time.Time `json:"last_transition_at"`
	InterferenceCount int       `json:"interference_count"`
}

// DebugRolesResponse compares live against stored roles for a member.
type DebugRolesResponse struct {
	MemberID          string   `json:"member_id"`
	LiveRoles         []string `json:"live_roles"`
	StoredRoles       []string `json:"stored_roles"`
	PrivilegedHeld    []string `json:"privileged_held"`
	State             string   `json:"state,omitempty"`
	Tracked           bool     `json:"tracked"`
	InterferenceCount int      `json:"interference_count"`
}

// AuditEventRecord is one row of a member's audit trail.
type AuditEventRecord struct {
	ID         string         `json:"id"`
	EventType  string         `json:"event_type"`
	Actor      string         `json:"actor"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// CleanupResponse reports how many orphaned records were purged.
type CleanupResponse struct {
	Purged int `json:"purged"`
}

// MassVerifyResponse reports how many members were force verified.
type MassVerifyResponse struct {
	Verified int `json:"verified"`
}
