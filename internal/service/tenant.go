package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	vfotel "github.com/Strob0t/VPNForge/internal/adapter/otel"
	"github.com/Strob0t/VPNForge/internal/config"
	"github.com/Strob0t/VPNForge/internal/domain"
	"github.com/Strob0t/VPNForge/internal/domain/allocation"
	"github.com/Strob0t/VPNForge/internal/domain/event"
	"github.com/Strob0t/VPNForge/internal/domain/tenant"
	"github.com/Strob0t/VPNForge/internal/port/containerruntime"
	"github.com/Strob0t/VPNForge/internal/port/database"
)

// SessionObserver receives per-tenant session counts.
type SessionObserver interface {
	ObserveSessions(tenantID int64, active int)
	ForgetTenant(tenantID int64)
}

// TenantService provisions, pauses, resumes and deletes tenant VPN servers
// and manages their NAT rules and additional subnets.
type TenantService struct {
	store    database.Store
	runtime  containerruntime.Runtime
	alloc    *Allocator
	docker   config.Docker
	ovpn     config.OpenVPN
	locks    *TenantLocks
	events   *EventService
	metrics  *vfotel.Metrics
	observer SessionObserver
}

// NewTenantService creates a TenantService.
func NewTenantService(store database.Store, rt containerruntime.Runtime, alloc *Allocator, docker config.Docker, ovpn config.OpenVPN) *TenantService {
	return &TenantService{
		store:   store,
		runtime: rt,
		alloc:   alloc,
		docker:  docker,
		ovpn:    ovpn,
		locks:   NewTenantLocks(),
	}
}

// SetLocks shares a per-tenant lock table with other services.
func (s *TenantService) SetLocks(l *TenantLocks) { s.locks = l }

// SetEvents sets the optional event recorder.
func (s *TenantService) SetEvents(e *EventService) { s.events = e }

// SetMetrics sets the optional OpenTelemetry instruments.
func (s *TenantService) SetMetrics(m *vfotel.Metrics) { s.metrics = m }

// SetSessionObserver sets the optional observer told about deleted tenants.
func (s *TenantService) SetSessionObserver(o SessionObserver) { s.observer = o }

// Get returns a tenant by id.
func (s *TenantService) Get(ctx context.Context, id int64) (*tenant.Tenant, error) {
	return s.store.GetTenant(ctx, id)
}

// List returns all tenants.
func (s *TenantService) List(ctx context.Context) ([]tenant.Tenant, error) {
	return s.store.ListTenants(ctx)
}

// Create provisions a new tenant: it reserves a port and subnet, creates the
// volume and network, generates the server configuration and PKI, starts
// the server container and waits for it to run. Any failure after the
// reservation rolls back everything created so far and returns a
// *domain.ProvisioningError.
func (s *TenantService) Create(ctx context.Context, req tenant.CreateRequest) (t *tenant.Tenant, err error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, span := vfotel.StartTenantSpan(ctx, "create", 0)
	defer func() { vfotel.EndSpan(span, err) }()
	start := time.Now()

	t, err = s.alloc.Reserve(ctx, req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("tenant.id", t.ID))

	unlock, err := s.locks.Lock(ctx, t.ID)
	if err != nil {
		s.rollback(ctx, t, tenant.ResourceNames(s.docker.ResourcePrefix, t.ID))
		return nil, err
	}
	defer unlock()

	names := tenant.ResourceNames(s.docker.ResourcePrefix, t.ID)
	handles, err := s.provision(ctx, t, names)
	if err != nil {
		var pe *domain.ProvisioningError
		if !errors.As(err, &pe) {
			pe = &domain.ProvisioningError{Step: "provision", Err: err}
		}
		pe.Rollback = s.rollback(ctx, t, names)
		slog.Error("tenant provisioning failed",
			"tenant_id", t.ID, "name", t.Name, "step", pe.Step, "error", pe.Err,
			"rollback_warnings", len(pe.Rollback))
		if s.metrics != nil {
			s.metrics.ProvisioningFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("step", pe.Step)))
		}
		s.events.Record(ctx, t.ID, event.TypeTenantFailed, map[string]any{
			"name": t.Name, "step": pe.Step, "error": pe.Err.Error(),
		})
		return nil, pe
	}

	t.ContainerID = handles.Container
	t.VolumeID = handles.Volume
	t.NetworkID = handles.Network

	if s.metrics != nil {
		s.metrics.TenantsCreated.Add(ctx, 1)
		s.metrics.ProvisionDuration.Record(ctx, time.Since(start).Seconds())
	}
	slog.Info("tenant provisioned",
		"tenant_id", t.ID, "name", t.Name, "port", t.ListenPort, "subnet", t.SubnetCIDR,
		"duration", time.Since(start))
	s.events.Record(ctx, t.ID, event.TypeTenantCreated, t)
	return t, nil
}

// provision runs every step after the reservation. Errors are
// *domain.ProvisioningError naming the failed step.
func (s *TenantService) provision(ctx context.Context, t *tenant.Tenant, names tenant.Resources) (tenant.Resources, error) {
	var handles tenant.Resources
	fail := func(step string, err error) error {
		return &domain.ProvisioningError{Step: step, Err: err}
	}

	volID, err := s.runtime.CreateVolume(ctx, names.Volume)
	if err != nil {
		return handles, fail("create volume", err)
	}
	handles.Volume = volID

	netID, err := s.runtime.CreateNetwork(ctx, names.Network)
	if err != nil {
		return handles, fail("create network", err)
	}
	handles.Network = netID

	image := s.docker.Image
	genconf := genConfigCmd(s.ovpn, t.PublicIP, t.ListenPort, t.SubnetCIDR)
	if _, err := s.runtime.RunOnce(ctx, oneShot(image, names.Volume, genconf), nil); err != nil {
		return handles, fail("generate config", err)
	}
	if _, err := s.runtime.RunOnce(ctx, oneShot(image, names.Volume, initPKICmd(), "EASYRSA_REQ_CN="+names.Container), nil); err != nil {
		return handles, fail("init pki", err)
	}
	for _, line := range serverDirectives(s.ovpn, t.StatusFile(s.ovpn.StatusPath)) {
		if _, err := s.runtime.RunOnce(ctx, oneShot(image, names.Volume, appendLineCmd(line, ovpnServerConf)), nil); err != nil {
			return handles, fail("configure server", err)
		}
	}

	id, err := s.runtime.RunContainer(ctx, serverSpec(image, names, t.ListenPort, s.ovpn.ContainerPort))
	if err != nil {
		return handles, &domain.ProvisioningError{Step: "start container", Logs: s.captureLogs(ctx, names.Container), Err: err}
	}
	handles.Container = id

	if err := s.waitRunning(ctx, names.Container); err != nil {
		return handles, &domain.ProvisioningError{Step: "wait for container", Logs: s.captureLogs(ctx, names.Container), Err: err}
	}

	if t.NATEnabled {
		if err := s.applyNAT(ctx, names.Container, t.SubnetCIDR); err != nil {
			return handles, fail("apply nat", err)
		}
	}

	if err := s.store.AttachTenantResources(ctx, t.ID, handles); err != nil {
		return handles, fail("attach resources", err)
	}
	return handles, nil
}

// rollback removes the container, volume, network and tenant row created
// for t. It runs even when ctx was cancelled, and reports what it could
// not remove.
func (s *TenantService) rollback(ctx context.Context, t *tenant.Tenant, names tenant.Resources) domain.Diagnostics {
	ctx = context.WithoutCancel(ctx)
	var diag domain.Diagnostics
	diag.Add("remove container", s.runtime.RemoveContainer(ctx, names.Container))
	diag.Add("remove volume", s.runtime.RemoveVolume(ctx, names.Volume))
	diag.Add("remove network", s.runtime.RemoveNetwork(ctx, names.Network))
	if err := s.store.DeleteTenant(ctx, t.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		diag.Add("delete tenant row", err)
	}
	diag.Log(ctx, "rollback step failed", "tenant_id", t.ID)
	s.countWarnings(ctx, diag)
	return diag
}

// captureLogs returns the tail of a container's output, or "" if unavailable.
func (s *TenantService) captureLogs(ctx context.Context, name string) string {
	logs, err := s.runtime.Logs(context.WithoutCancel(ctx), name, s.docker.LogTail)
	if err != nil {
		slog.Debug("capture container logs", "container", name, "error", err)
		return ""
	}
	return logs
}

// waitRunning polls the container state with bounded exponential backoff
// until it is running. An exited or missing container fails immediately.
func (s *TenantService) waitRunning(ctx context.Context, name string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.docker.StartInterval
	if b.InitialInterval <= 0 {
		b.InitialInterval = 500 * time.Millisecond
	}
	b.MaxInterval = 8 * b.InitialInterval
	attempts := max(s.docker.StartAttempts, 1)

	_, err := backoff.Retry(ctx, func() (containerruntime.State, error) {
		state, err := s.runtime.ContainerState(ctx, name)
		if err != nil {
			if domain.IsRetryable(err) {
				return state, err
			}
			return state, backoff.Permanent(err)
		}
		switch state {
		case containerruntime.StateRunning:
			return state, nil
		case containerruntime.StateMissing:
			return state, backoff.Permanent(fmt.Errorf("container %s: %w", name, containerruntime.ErrNoSuchContainer))
		case containerruntime.StateExited, containerruntime.StateDead:
			return state, backoff.Permanent(fmt.Errorf("container %s is %s", name, state))
		default:
			return state, fmt.Errorf("container %s is %s", name, state)
		}
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(attempts)))
	return err
}

// resources returns the engine handles of t, falling back to derived names
// for handles that were never attached.
func (s *TenantService) resources(t *tenant.Tenant) tenant.Resources {
	r := tenant.ResourceNames(s.docker.ResourcePrefix, t.ID)
	if t.ContainerID != "" {
		r.Container = t.ContainerID
	}
	if t.VolumeID != "" {
		r.Volume = t.VolumeID
	}
	if t.NetworkID != "" {
		r.Network = t.NetworkID
	}
	return r
}

// lockTenant takes the tenant lock and loads the tenant.
func (s *TenantService) lockTenant(ctx context.Context, id int64) (*tenant.Tenant, func(), error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	t, err := s.store.GetTenant(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return t, unlock, nil
}

// Pause stops the tenant's server container, if it exists, and marks the
// tenant paused. Pausing a paused tenant is a no-op.
func (s *TenantService) Pause(ctx context.Context, id int64) (_ *tenant.Tenant, err error) {
	ctx, span := vfotel.StartTenantSpan(ctx, "pause", id)
	defer func() { vfotel.EndSpan(span, err) }()

	t, unlock, err := s.lockTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if t.ContainerID != "" {
		if err := s.runtime.StopContainer(ctx, t.ContainerID); err != nil && !errors.Is(err, containerruntime.ErrNoSuchContainer) {
			return nil, err
		}
	}
	if t.Status == tenant.StatusPaused {
		return t, nil
	}
	if err := s.store.UpdateTenantStatus(ctx, id, tenant.StatusPaused); err != nil {
		return nil, err
	}
	t.Status = tenant.StatusPaused

	slog.Info("tenant paused", "tenant_id", id)
	s.events.Record(ctx, id, event.TypeTenantPaused, nil)
	return t, nil
}

// Resume starts the tenant's server container, waits for it to run,
// re-applies NAT rules when enabled and marks the tenant running.
func (s *TenantService) Resume(ctx context.Context, id int64) (_ *tenant.Tenant, err error) {
	ctx, span := vfotel.StartTenantSpan(ctx, "resume", id)
	defer func() { vfotel.EndSpan(span, err) }()

	t, unlock, err := s.lockTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if t.ContainerID == "" {
		return nil, fmt.Errorf("resume tenant %d: %w", id, domain.ErrContainerNotConfigured)
	}
	if err := s.runtime.StartContainer(ctx, t.ContainerID); err != nil {
		return nil, err
	}
	if err := s.waitRunning(ctx, t.ContainerID); err != nil {
		return nil, err
	}
	if t.NATEnabled {
		if err := s.applyNATAll(ctx, t); err != nil {
			return nil, err
		}
	}

	wasPaused := t.Status != tenant.StatusRunning
	if wasPaused {
		if err := s.store.UpdateTenantStatus(ctx, id, tenant.StatusRunning); err != nil {
			return nil, err
		}
		t.Status = tenant.StatusRunning
		slog.Info("tenant resumed", "tenant_id", id)
		s.events.Record(ctx, id, event.TypeTenantResumed, nil)
	}
	return t, nil
}

// Delete removes a tenant's container, volume, network and row. Removal of
// each engine resource is best-effort and reported in the returned
// diagnostics; deleting a nonexistent tenant succeeds.
func (s *TenantService) Delete(ctx context.Context, id int64) (_ domain.Diagnostics, err error) {
	ctx, span := vfotel.StartTenantSpan(ctx, "delete", id)
	defer func() { vfotel.EndSpan(span, err) }()

	t, unlock, err := s.lockTenant(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer unlock()

	res := s.resources(t)
	var diag domain.Diagnostics
	diag.Add("remove container", s.runtime.RemoveContainer(ctx, res.Container))
	diag.Add("remove volume", s.runtime.RemoveVolume(ctx, res.Volume))
	diag.Add("remove network", s.runtime.RemoveNetwork(ctx, res.Network))

	if err := s.store.DeleteTenant(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return diag, err
	}

	diag.Log(ctx, "tenant cleanup step failed", "tenant_id", id)
	s.countWarnings(ctx, diag)
	if s.observer != nil {
		s.observer.ForgetTenant(id)
	}
	slog.Info("tenant deleted", "tenant_id", id, "warnings", len(diag))
	s.events.Record(ctx, id, event.TypeTenantDeleted, map[string]any{"name": t.Name, "warnings": diag})
	return diag, nil
}

// ToggleNat persists the NAT flag. Enabling applies MASQUERADE rules for the
// primary and every additional subnet when the server is running; disabling
// removes them best-effort.
func (s *TenantService) ToggleNat(ctx context.Context, id int64, enabled bool) (_ *tenant.Tenant, _ domain.Diagnostics, err error) {
	ctx, span := vfotel.StartTenantSpan(ctx, "toggle_nat", id)
	defer func() { vfotel.EndSpan(span, err) }()

	t, unlock, err := s.lockTenant(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	if err := s.store.UpdateTenantNAT(ctx, id, enabled); err != nil {
		return nil, nil, err
	}
	t.NATEnabled = enabled

	var diag domain.Diagnostics
	running, err := s.running(ctx, t)
	if err != nil {
		return nil, nil, err
	}
	if running {
		if enabled {
			if err := s.applyNATAll(ctx, t); err != nil {
				return nil, nil, err
			}
		} else {
			subnets, err := s.subnetsOf(ctx, t)
			if err != nil {
				return nil, nil, err
			}
			for _, cidr := range subnets {
				diag.Add("remove nat "+cidr, s.removeNAT(ctx, t.ContainerID, cidr))
			}
		}
	}

	diag.Log(ctx, "nat cleanup step failed", "tenant_id", id)
	s.countWarnings(ctx, diag)
	slog.Info("tenant nat changed", "tenant_id", id, "enabled", enabled, "applied", running)
	s.events.Record(ctx, id, event.TypeNATChanged, map[string]any{"enabled": enabled})
	return t, diag, nil
}

// AddSubnet routes an additional subnet through the tenant's server and
// applies NAT for it when enabled. Adding a subnet the tenant already has
// is a no-op reported as created=false.
func (s *TenantService) AddSubnet(ctx context.Context, id int64, cidr string) (created bool, err error) {
	cidr, err = allocation.NormalizeSubnet(cidr)
	if err != nil {
		return false, err
	}

	ctx, span := vfotel.StartTenantSpan(ctx, "add_subnet", id)
	defer func() { vfotel.EndSpan(span, err) }()

	t, unlock, err := s.lockTenant(ctx, id)
	if err != nil {
		return false, err
	}
	defer unlock()

	if cidr == t.SubnetCIDR {
		return false, nil
	}
	own, err := s.subnetsOf(ctx, t)
	if err != nil {
		return false, err
	}
	for _, c := range own {
		if c == cidr {
			return false, nil
		}
	}
	taken, err := s.store.ListAllocatedSubnets(ctx)
	if err != nil {
		return false, fmt.Errorf("list allocated subnets: %w", err)
	}
	if other := allocation.Overlapping(cidr, taken); other != "" {
		return false, fmt.Errorf("subnet %s overlaps %s: %w", cidr, other, domain.ErrResourceConflict)
	}

	created, err = s.store.AddTenantNetwork(ctx, id, cidr)
	if err != nil || !created {
		return false, err
	}

	if t.NATEnabled {
		running, err := s.running(ctx, t)
		if err == nil && running {
			err = s.applyNAT(ctx, t.ContainerID, cidr)
		}
		if err != nil {
			if rmErr := s.store.RemoveTenantNetwork(context.WithoutCancel(ctx), id, cidr); rmErr != nil {
				slog.Warn("undo subnet after nat failure", "tenant_id", id, "subnet", cidr, "error", rmErr)
			}
			return false, err
		}
	}

	slog.Info("tenant subnet added", "tenant_id", id, "subnet", cidr)
	s.events.Record(ctx, id, event.TypeSubnetAdded, map[string]string{"subnet": cidr})
	return true, nil
}

// RemoveSubnet drops an additional subnet and removes its NAT rule
// best-effort.
func (s *TenantService) RemoveSubnet(ctx context.Context, id int64, cidr string) (_ domain.Diagnostics, err error) {
	cidr, err = allocation.NormalizeSubnet(cidr)
	if err != nil {
		return nil, err
	}

	ctx, span := vfotel.StartTenantSpan(ctx, "remove_subnet", id)
	defer func() { vfotel.EndSpan(span, err) }()

	t, unlock, err := s.lockTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if cidr == t.SubnetCIDR {
		return nil, domain.Validationf("subnet %s is the tenant's primary subnet", cidr)
	}
	if err := s.store.RemoveTenantNetwork(ctx, id, cidr); err != nil {
		return nil, err
	}

	var diag domain.Diagnostics
	if t.NATEnabled {
		running, err := s.running(ctx, t)
		diag.Add("container state", err)
		if running {
			diag.Add("remove nat "+cidr, s.removeNAT(ctx, t.ContainerID, cidr))
		}
	}

	diag.Log(ctx, "subnet cleanup step failed", "tenant_id", id)
	s.countWarnings(ctx, diag)
	slog.Info("tenant subnet removed", "tenant_id", id, "subnet", cidr)
	s.events.Record(ctx, id, event.TypeSubnetRemoved, map[string]string{"subnet": cidr})
	return diag, nil
}

// ListSubnets returns the tenant's additional subnets.
func (s *TenantService) ListSubnets(ctx context.Context, id int64) ([]tenant.Network, error) {
	if _, err := s.store.GetTenant(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListTenantNetworks(ctx, id)
}

// subnetsOf returns the primary subnet followed by all additional subnets.
func (s *TenantService) subnetsOf(ctx context.Context, t *tenant.Tenant) ([]string, error) {
	nets, err := s.store.ListTenantNetworks(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(nets)+1)
	out = append(out, t.SubnetCIDR)
	for _, n := range nets {
		out = append(out, n.SubnetCIDR)
	}
	return out, nil
}

// running reports whether the tenant's server container is running.
func (s *TenantService) running(ctx context.Context, t *tenant.Tenant) (bool, error) {
	if t.ContainerID == "" {
		return false, nil
	}
	state, err := s.runtime.ContainerState(ctx, t.ContainerID)
	if err != nil {
		return false, err
	}
	return state == containerruntime.StateRunning, nil
}

func (s *TenantService) applyNATAll(ctx context.Context, t *tenant.Tenant) error {
	subnets, err := s.subnetsOf(ctx, t)
	if err != nil {
		return err
	}
	for _, cidr := range subnets {
		if err := s.applyNAT(ctx, t.ContainerID, cidr); err != nil {
			return err
		}
	}
	return nil
}

// applyNAT adds the MASQUERADE rule for cidr unless it is already present.
func (s *TenantService) applyNAT(ctx context.Context, container, cidr string) error {
	iface := s.ovpn.NATInterface
	check, err := s.runtime.Exec(ctx, container, natRuleCmd(natCheck, cidr, iface), nil)
	if err != nil {
		return err
	}
	if check.ExitCode == 0 {
		return nil
	}
	cmd := natRuleCmd(natAppend, cidr, iface)
	res, err := s.runtime.Exec(ctx, container, cmd, nil)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &domain.InfrastructureError{
			Command:  cmd,
			Output:   res.Stderr,
			ExitCode: res.ExitCode,
			Err:      fmt.Errorf("exit status %d", res.ExitCode),
		}
	}
	return nil
}

// removeNAT deletes the MASQUERADE rule for cidr. A missing rule is not an
// error.
func (s *TenantService) removeNAT(ctx context.Context, container, cidr string) error {
	_, err := s.runtime.Exec(ctx, container, natRuleCmd(natDelete, cidr, s.ovpn.NATInterface), nil)
	return err
}

func (s *TenantService) countWarnings(ctx context.Context, diag domain.Diagnostics) {
	if s.metrics == nil || diag.Empty() {
		return
	}
	s.metrics.Warnings.Add(ctx, int64(len(diag)), metric.WithAttributes(attribute.String("source", "tenant")))
}
