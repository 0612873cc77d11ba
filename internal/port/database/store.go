// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/Strob0t/VPNForge/internal/domain/event"
	"github.com/Strob0t/VPNForge/internal/domain/session"
	"github.com/Strob0t/VPNForge/internal/domain/tenant"
	"github.com/Strob0t/VPNForge/internal/domain/user"
)

// Store is the port interface for database operations.
//
// Tenant listen ports and subnets are unique across tenants and additional
// networks. A write that would break that returns domain.ErrResourceConflict;
// a duplicate tenant name returns domain.ErrConflict.
type Store interface {
	// Tenants
	ReserveTenant(ctx context.Context, r tenant.Reservation) (*tenant.Tenant, error)
	AttachTenantResources(ctx context.Context, id int64, res tenant.Resources) error
	GetTenant(ctx context.Context, id int64) (*tenant.Tenant, error)
	ListTenants(ctx context.Context) ([]tenant.Tenant, error)
	UpdateTenantStatus(ctx context.Context, id int64, status tenant.Status) error
	UpdateTenantNAT(ctx context.Context, id int64, enabled bool) error
	DeleteTenant(ctx context.Context, id int64) error

	// Allocation records
	ListReservedPorts(ctx context.Context) ([]int, error)
	ListAllocatedSubnets(ctx context.Context) ([]string, error)

	// Additional networks
	AddTenantNetwork(ctx context.Context, tenantID int64, cidr string) (created bool, err error)
	ListTenantNetworks(ctx context.Context, tenantID int64) ([]tenant.Network, error)
	RemoveTenantNetwork(ctx context.Context, tenantID int64, cidr string) error

	// VPN users
	UpsertVPNUser(ctx context.Context, tenantID int64, username, email string) (*user.User, error)
	GetVPNUser(ctx context.Context, tenantID int64, username string) (*user.User, error)
	ListVPNUsers(ctx context.Context, tenantID int64) ([]user.User, error)
	SetVPNUserStatus(ctx context.Context, tenantID int64, username string, status user.Status) error
	SetVPNUserEmail(ctx context.Context, tenantID int64, username, email string) error

	// Sessions
	ReplaceSessions(ctx context.Context, tenantID int64, sessions []session.Session) error
	ListSessions(ctx context.Context, tenantID int64) ([]session.Session, error)
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Events
	AppendTenantEvent(ctx context.Context, ev *event.TenantEvent) error
	ListTenantEvents(ctx context.Context, tenantID int64, limit int) ([]event.TenantEvent, error)
}
