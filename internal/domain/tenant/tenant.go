// Package tenant defines the tenant domain model: one isolated OpenVPN
// server instance with its own network, volume and certificate authority.
package tenant

import (
	"fmt"
	"regexp"
	"time"

	"github.com/Strob0t/VPNForge/internal/domain"
)

// Status is the persisted lifecycle state of a tenant. Provisioning is a
// transient in-process state and never stored.
type Status string

const (
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
)

// DefaultStatusPath is where the server writes its status feed inside the container.
const DefaultStatusPath = "/tmp/openvpn-status.log"

// Tenant represents an isolated VPN server instance.
type Tenant struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	PublicIP    string    `json:"public_ip"`
	ListenPort  int       `json:"listen_port"`
	SubnetCIDR  string    `json:"subnet_cidr"`
	NATEnabled  bool      `json:"nat_enabled"`
	Status      Status    `json:"status"`
	ContainerID string    `json:"container_id,omitempty"`
	VolumeID    string    `json:"volume_id,omitempty"`
	NetworkID   string    `json:"network_id,omitempty"`
	StatusPath  string    `json:"status_path,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Provisioned reports whether all resource handles have been attached.
func (t *Tenant) Provisioned() bool {
	return t.ContainerID != "" && t.VolumeID != "" && t.NetworkID != ""
}

// StatusFile returns the tenant's status feed path, falling back to def
// and then to DefaultStatusPath.
func (t *Tenant) StatusFile(def string) string {
	switch {
	case t.StatusPath != "":
		return t.StatusPath
	case def != "":
		return def
	default:
		return DefaultStatusPath
	}
}

// Network is an additional subnet routed through a tenant's server.
type Network struct {
	ID         int64     `json:"id"`
	TenantID   int64     `json:"tenant_id"`
	SubnetCIDR string    `json:"subnet_cidr"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateRequest holds the caller-supplied fields for a new tenant.
type CreateRequest struct {
	Name       string `json:"name"`
	NATEnabled bool   `json:"nat_enabled"`
}

var nameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 _.-]{0,63}$`)

// Validate checks the request fields.
func (r *CreateRequest) Validate() error {
	if r.Name == "" {
		return domain.Validationf("tenant name is required")
	}
	if !nameRegex.MatchString(r.Name) {
		return domain.Validationf("invalid tenant name %q: 1-64 letters, digits, spaces, '_', '.' or '-'", r.Name)
	}
	return nil
}

// Reservation is the row inserted before any container resource exists.
// ListenPort and SubnetCIDR are unique across tenants, so a lost allocation
// race fails here rather than after resources are created.
type Reservation struct {
	Name       string
	PublicIP   string
	ListenPort int
	SubnetCIDR string
	NATEnabled bool
}

// Resources holds the container engine handles of a provisioned tenant.
type Resources struct {
	Container string
	Volume    string
	Network   string
}

// ResourceNames derives the deterministic container, volume and network
// names for tenant id under the given prefix.
func ResourceNames(prefix string, id int64) Resources {
	if prefix == "" {
		prefix = "vpnforge"
	}
	return Resources{
		Container: fmt.Sprintf("%s-ovpn-%d", prefix, id),
		Volume:    fmt.Sprintf("%s-data-%d", prefix, id),
		Network:   fmt.Sprintf("%s-net-%d", prefix, id),
	}
}
