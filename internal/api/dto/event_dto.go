package dto

// MemberJoinEvent is pushed by the bridge when a member joins.
type MemberJoinEvent struct {
	MemberID string   `json:"member_id"`
	RoleIDs  []string `json:"role_ids"`
}

// RoleChangeEvent is pushed when a member's role set changes.
type RoleChangeEvent struct {
	MemberID string   `json:"member_id"`
	Before   []string `json:"before"`
	After    []string `json:"after"`
}

// MemberLeaveEvent is pushed when a member departs.
type MemberLeaveEvent struct {
	MemberID string `json:"member_id"`
}

// TicketActionEvent is pushed when a member interacts with their
// verification UI.
type TicketActionEvent struct {
	MemberID string `json:"member_id"`
	Action   string `json:"action"`
}
