package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/VPNForge/internal/domain"
	"github.com/Strob0t/VPNForge/internal/domain/tenant"
)

// AddTenantNetwork inserts an additional subnet for the tenant. Re-adding a
// subnet the tenant already owns returns created=false; a subnet held by
// another tenant returns domain.ErrResourceConflict.
func (s *Store) AddTenantNetwork(ctx context.Context, tenantID int64, cidr string) (bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tenant_networks (tenant_id, subnet_cidr) VALUES ($1, $2)
		 ON CONFLICT (subnet_cidr) DO NOTHING
		 RETURNING id`, tenantID, cidr).Scan(&id)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("add network %s to tenant %d: %w", cidr, tenantID, constraintErr(err))
	}

	var owner int64
	err = s.pool.QueryRow(ctx,
		`SELECT tenant_id FROM tenant_networks WHERE subnet_cidr = $1`, cidr).Scan(&owner)
	if err != nil {
		return false, notFoundWrap(err, domain.ErrResourceConflict, "lookup owner of %s", cidr)
	}
	if owner != tenantID {
		return false, fmt.Errorf("subnet %s belongs to tenant %d: %w", cidr, owner, domain.ErrResourceConflict)
	}
	return false, nil
}

func (s *Store) ListTenantNetworks(ctx context.Context, tenantID int64) ([]tenant.Network, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, subnet_cidr, created_at
		 FROM tenant_networks WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list networks of tenant %d: %w", tenantID, err)
	}
	defer rows.Close()

	var nets []tenant.Network
	for rows.Next() {
		var n tenant.Network
		if err := rows.Scan(&n.ID, &n.TenantID, &n.SubnetCIDR, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan network: %w", err)
		}
		nets = append(nets, n)
	}
	return orEmpty(nets), rows.Err()
}

func (s *Store) RemoveTenantNetwork(ctx context.Context, tenantID int64, cidr string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tenant_networks WHERE tenant_id = $1 AND subnet_cidr = $2`, tenantID, cidr)
	return execExpectOne(tag, err, domain.ErrNotFound, "remove network %s from tenant %d", cidr, tenantID)
}
