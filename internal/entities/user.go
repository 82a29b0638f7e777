package entities

import "time"

const (
	RoleAgent       = "agent"
	RoleTenantAdmin = "tenant_admin"
	RoleSuperAdmin  = "super_admin"
	RoleService     = "service"
)

// Profile is the viewer record an authenticated user id maps to. A nil
// TenantID binds the viewer to the global inbox.
type Profile struct {
	UserID      string  `json:"user_id"`
	TenantID    *string `json:"tenant_id"`
	Role        string  `json:"role"`
	DisplayName string  `json:"display_name,omitempty"`
}

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)

// PresenceEntry is ephemeral and lives only while the viewer is connected.
type PresenceEntry struct {
	UserID    string         `json:"user_id"`
	TenantID  *string        `json:"tenant_id"`
	Status    PresenceStatus `json:"status"`
	Page      string         `json:"page,omitempty"`
	Typing    string         `json:"typing_session_id,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// KnowledgeChunk is a retrieval result from a tenant knowledge base.
type KnowledgeChunk struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Similarity float32 `json:"similarity"`
}
