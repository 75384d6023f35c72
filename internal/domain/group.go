package domain

import "time"

// Group is a named set of users used for permission resolution.
type Group struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata"`
	MemberCount int            `json:"member_count"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Membership links a user to a group.
type Membership struct {
	GroupID   string    `json:"group_id"`
	GroupName string    `json:"group_name,omitempty"`
	UserEmail string    `json:"user_email"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`
}
