// Package session defines live VPN connection snapshots and the parser for
// the server's status feed.
package session

import "time"

// Session is one active client connection as of the last reconciliation.
// A tenant's sessions are a snapshot: every reconciliation replaces them.
type Session struct {
	ID             int64      `json:"id"`
	TenantID       int64      `json:"tenant_id"`
	UserID         *int64     `json:"user_id"`
	CommonName     string     `json:"common_name"`
	RealAddress    string     `json:"real_address"`
	VirtualAddress string     `json:"virtual_address,omitempty"`
	BytesReceived  int64      `json:"bytes_received"`
	BytesSent      int64      `json:"bytes_sent"`
	Since          *time.Time `json:"since"`
	GeoCountry     string     `json:"geo_country,omitempty"`
	GeoCity        string     `json:"geo_city,omitempty"`
	LastSeen       time.Time  `json:"last_seen"`
}

// RemoteIP returns the host part of RealAddress: everything before the
// first colon.
func (s *Session) RemoteIP() string {
	return hostPart(s.RealAddress)
}
