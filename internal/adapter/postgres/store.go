package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/VPNForge/internal/domain"
	"github.com/Strob0t/VPNForge/internal/domain/tenant"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants ---

const tenantColumns = `id, name, public_ip, listen_port, subnet_cidr, nat_enabled, status,
	COALESCE(container_id, ''), COALESCE(volume_id, ''), COALESCE(network_id, ''),
	status_path, created_at, updated_at`

func scanTenant(row scannable) (tenant.Tenant, error) {
	var t tenant.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.PublicIP, &t.ListenPort, &t.SubnetCIDR, &t.NATEnabled, &t.Status,
		&t.ContainerID, &t.VolumeID, &t.NetworkID, &t.StatusPath, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (s *Store) ReserveTenant(ctx context.Context, r tenant.Reservation) (*tenant.Tenant, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO tenants (name, public_ip, listen_port, subnet_cidr, nat_enabled, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+tenantColumns,
		r.Name, r.PublicIP, r.ListenPort, r.SubnetCIDR, r.NATEnabled, string(tenant.StatusRunning))

	t, err := scanTenant(row)
	if err != nil {
		return nil, fmt.Errorf("reserve tenant %q: %w", r.Name, constraintErr(err))
	}
	return &t, nil
}

func (s *Store) AttachTenantResources(ctx context.Context, id int64, res tenant.Resources) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET container_id = $2, volume_id = $3, network_id = $4, updated_at = now()
		 WHERE id = $1`,
		id, nullIfEmpty(res.Container), nullIfEmpty(res.Volume), nullIfEmpty(res.Network))
	return execExpectOne(tag, err, domain.ErrTenantNotFound, "attach resources to tenant %d", id)
}

func (s *Store) GetTenant(ctx context.Context, id int64) (*tenant.Tenant, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	t, err := scanTenant(row)
	if err != nil {
		return nil, notFoundWrap(err, domain.ErrTenantNotFound, "get tenant %d", id)
	}
	return &t, nil
}

func (s *Store) ListTenants(ctx context.Context) ([]tenant.Tenant, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []tenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return orEmpty(tenants), rows.Err()
}

func (s *Store) UpdateTenantStatus(ctx context.Context, id int64, status tenant.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	return execExpectOne(tag, err, domain.ErrTenantNotFound, "update tenant %d status", id)
}

func (s *Store) UpdateTenantNAT(ctx context.Context, id int64, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET nat_enabled = $2, updated_at = now() WHERE id = $1`, id, enabled)
	return execExpectOne(tag, err, domain.ErrTenantNotFound, "update tenant %d nat", id)
}

// DeleteTenant removes the tenant row; networks, users, sessions and events
// cascade. A missing row is not an error.
func (s *Store) DeleteTenant(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete tenant %d: %w", id, err)
	}
	return nil
}

// --- Allocation records ---

func (s *Store) ListReservedPorts(ctx context.Context) ([]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT listen_port FROM tenants ORDER BY listen_port`)
	if err != nil {
		return nil, fmt.Errorf("list reserved ports: %w", err)
	}
	defer rows.Close()

	var ports []int
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan port: %w", err)
		}
		ports = append(ports, p)
	}
	return ports, rows.Err()
}

// ListAllocatedSubnets returns every primary and additional subnet.
func (s *Store) ListAllocatedSubnets(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT subnet_cidr FROM tenants
		 UNION ALL
		 SELECT subnet_cidr FROM tenant_networks`)
	if err != nil {
		return nil, fmt.Errorf("list allocated subnets: %w", err)
	}
	defer rows.Close()

	var subnets []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan subnet: %w", err)
		}
		subnets = append(subnets, c)
	}
	return subnets, rows.Err()
}
