// Package event defines the audit trail of tenant lifecycle changes.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of tenant event.
type Type string

const (
	TypeTenantCreated      Type = "tenant.created"
	TypeTenantFailed       Type = "tenant.provisioning_failed"
	TypeTenantPaused       Type = "tenant.paused"
	TypeTenantResumed      Type = "tenant.resumed"
	TypeTenantDeleted      Type = "tenant.deleted"
	TypeNATChanged         Type = "tenant.nat_changed"
	TypeSubnetAdded        Type = "tenant.subnet_added"
	TypeSubnetRemoved      Type = "tenant.subnet_removed"
	TypeCertificateIssued  Type = "user.certificate_issued"
	TypeCertificateRevoked Type = "user.certificate_revoked"
	TypeSessionsUpdated    Type = "sessions.updated"
)

// TenantEvent is one immutable entry in a tenant's history. Deleting the
// tenant deletes its events with it, so TypeTenantDeleted and TypeTenantFailed
// (whose row is rolled back) are only ever published, never listed.
type TenantEvent struct {
	ID        string          `json:"id"`
	TenantID  int64           `json:"tenant_id"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Persisted reports whether events of type t are written to the event table.
// Session snapshots change every refresh and are only broadcast.
func (t Type) Persisted() bool {
	switch t {
	case TypeSessionsUpdated, TypeTenantDeleted, TypeTenantFailed:
		return false
	default:
		return true
	}
}
