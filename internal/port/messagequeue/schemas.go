package messagequeue

import "encoding/json"

// TenantEventPayload is the schema for tenants.* messages.
type TenantEventPayload struct {
	ID        string          `json:"id"`
	TenantID  int64           `json:"tenant_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// SessionsRefreshPayload is the schema for sessions.refresh messages.
type SessionsRefreshPayload struct {
	TenantID int64 `json:"tenant_id"`
}
