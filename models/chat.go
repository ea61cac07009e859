package models

import (
	"time"
)

// Channel types. A contextual channel is keyed by the external object it is
// attached to and is deduplicated on that key.
const (
	ChannelTypeDirect     = "direct"
	ChannelTypeGroup      = "group"
	ChannelTypeContextual = "contextual"
)

// Participant roles. Guest is reserved for external invitees.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleGuest  = "guest"
)

type Channel struct {
	ID                string    `json:"id"`
	TenantID          string    `json:"tenant_id"`
	ChannelType       string    `json:"channel_type"`
	Name              *string   `json:"name"`
	HostApplicationID *string   `json:"host_application_id,omitempty"`
	ContextObjectType *string   `json:"context_object_type,omitempty"`
	ContextObjectID   *string   `json:"context_object_id,omitempty"`
	CreatedBy         string    `json:"created_by"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`

	Participants []Participant `json:"participants,omitempty"`
}

type Participant struct {
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	TenantID  string    `json:"tenant_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type Message struct {
	ID        string            `json:"id"`
	ChannelID string            `json:"channel_id"`
	UserID    string            `json:"user_id"`
	TenantID  string            `json:"tenant_id"`
	Content   string            `json:"content"`
	ParentID  *string           `json:"parent_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

type ReadStatus struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	TenantID  string    `json:"tenant_id"`
	ReadAt    time.Time `json:"read_at"`
}
