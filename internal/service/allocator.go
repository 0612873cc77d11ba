package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/VPNForge/internal/config"
	"github.com/Strob0t/VPNForge/internal/domain"
	"github.com/Strob0t/VPNForge/internal/domain/allocation"
	"github.com/Strob0t/VPNForge/internal/domain/tenant"
	"github.com/Strob0t/VPNForge/internal/port/database"
)

// PublicIPSource reports the address clients use to reach this host.
type PublicIPSource interface {
	Detect(ctx context.Context) string
}

// Allocator hands out listen ports and subnets for new tenants and reserves
// them in the store. The store's uniqueness constraints are the final
// arbiter; a lost race is retried with fresh allocation records.
type Allocator struct {
	store    database.Store
	cfg      config.Allocation
	probe    allocation.PortProbe
	publicIP PublicIPSource
}

// NewAllocator creates an Allocator. probe may be nil to skip the host bind
// check; publicIP may be nil to advertise 0.0.0.0.
func NewAllocator(store database.Store, cfg config.Allocation, probe allocation.PortProbe, publicIP PublicIPSource) *Allocator {
	return &Allocator{store: store, cfg: cfg, probe: probe, publicIP: publicIP}
}

// AllocatePort returns the next free listen port.
func (a *Allocator) AllocatePort(ctx context.Context) (int, error) {
	reserved, err := a.store.ListReservedPorts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list reserved ports: %w", err)
	}
	return allocation.NextPort(reserved, a.cfg.PortFirst, a.cfg.PortMax, a.probe)
}

// AllocateSubnet returns the next free /26 subnet.
func (a *Allocator) AllocateSubnet(ctx context.Context) (string, error) {
	taken, err := a.store.ListAllocatedSubnets(ctx)
	if err != nil {
		return "", fmt.Errorf("list allocated subnets: %w", err)
	}
	return allocation.NextSubnet(taken)
}

// PublicIP returns the advertised server address.
func (a *Allocator) PublicIP(ctx context.Context) string {
	if a.publicIP == nil {
		return "0.0.0.0"
	}
	return a.publicIP.Detect(ctx)
}

// Reserve allocates a port and subnet and inserts the tenant row holding
// them. domain.ErrResourceConflict from the store is retried up to the
// configured number of attempts before it is returned.
func (a *Allocator) Reserve(ctx context.Context, req tenant.CreateRequest) (*tenant.Tenant, error) {
	attempts := max(a.cfg.ReserveAttempts, 1)
	ip := a.PublicIP(ctx)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		port, err := a.AllocatePort(ctx)
		if err != nil {
			return nil, err
		}
		subnet, err := a.AllocateSubnet(ctx)
		if err != nil {
			return nil, err
		}

		t, err := a.store.ReserveTenant(ctx, tenant.Reservation{
			Name:       req.Name,
			PublicIP:   ip,
			ListenPort: port,
			SubnetCIDR: subnet,
			NATEnabled: req.NATEnabled,
		})
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, domain.ErrResourceConflict) {
			return nil, err
		}
		lastErr = err
		slog.Debug("allocation race lost, retrying", "attempt", attempt, "port", port, "subnet", subnet)
	}
	return nil, lastErr
}
