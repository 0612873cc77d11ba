package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/VPNForge/internal/domain"
	"github.com/Strob0t/VPNForge/internal/domain/event"
	"github.com/Strob0t/VPNForge/internal/domain/session"
	"github.com/Strob0t/VPNForge/internal/domain/tenant"
	"github.com/Strob0t/VPNForge/internal/domain/user"
	"github.com/Strob0t/VPNForge/internal/port/containerruntime"
	"github.com/Strob0t/VPNForge/internal/port/database"
	"github.com/Strob0t/VPNForge/internal/port/geoip"
	"github.com/Strob0t/VPNForge/internal/port/messagequeue"
)

// Ensure fakes implement their ports at compile time.
var (
	_ database.Store           = (*fakeStore)(nil)
	_ containerruntime.Runtime = (*fakeRuntime)(nil)
	_ geoip.Resolver           = (*fakeGeo)(nil)
	_ messagequeue.Queue       = (*fakeQueue)(nil)
)

// fakeStore is an in-memory database.Store enforcing the same uniqueness
// and cascade rules as the postgres schema.
type fakeStore struct {
	mu       sync.Mutex
	nextID   int64
	tenants  map[int64]*tenant.Tenant
	networks map[int64][]tenant.Network
	users    map[int64][]user.User
	sessions map[int64][]session.Session
	events   map[int64][]event.TenantEvent

	// Error hooks: set these to inject failures.
	reserveConflicts int // number of ReserveTenant calls failing with ErrResourceConflict
	replaceErr       error
	listUsersErr     error
	attachErr        error
	reserveCalls     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tenants:  make(map[int64]*tenant.Tenant),
		networks: make(map[int64][]tenant.Network),
		users:    make(map[int64][]user.User),
		sessions: make(map[int64][]session.Session),
		events:   make(map[int64][]event.TenantEvent),
	}
}

func (f *fakeStore) subnetTaken(cidr string) bool {
	for _, t := range f.tenants {
		if t.SubnetCIDR == cidr {
			return true
		}
	}
	for _, nets := range f.networks {
		for _, n := range nets {
			if n.SubnetCIDR == cidr {
				return true
			}
		}
	}
	return false
}

func (f *fakeStore) ReserveTenant(_ context.Context, r tenant.Reservation) (*tenant.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserveCalls++
	if f.reserveConflicts > 0 {
		f.reserveConflicts--
		return nil, fmt.Errorf("reserve tenant: %w", domain.ErrResourceConflict)
	}
	for _, t := range f.tenants {
		if t.Name == r.Name {
			return nil, fmt.Errorf("reserve tenant %q: %w", r.Name, domain.ErrConflict)
		}
		if t.ListenPort == r.ListenPort {
			return nil, fmt.Errorf("reserve tenant port %d: %w", r.ListenPort, domain.ErrResourceConflict)
		}
	}
	if f.subnetTaken(r.SubnetCIDR) {
		return nil, fmt.Errorf("reserve tenant subnet %s: %w", r.SubnetCIDR, domain.ErrResourceConflict)
	}
	f.nextID++
	now := time.Now()
	t := &tenant.Tenant{
		ID:         f.nextID,
		Name:       r.Name,
		PublicIP:   r.PublicIP,
		ListenPort: r.ListenPort,
		SubnetCIDR: r.SubnetCIDR,
		NATEnabled: r.NATEnabled,
		Status:     tenant.StatusRunning,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	f.tenants[t.ID] = t
	cp := *t
	return &cp, nil
}

func (f *fakeStore) AttachTenantResources(_ context.Context, id int64, res tenant.Resources) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return f.attachErr
	}
	t, ok := f.tenants[id]
	if !ok {
		return domain.ErrTenantNotFound
	}
	t.ContainerID, t.VolumeID, t.NetworkID = res.Container, res.Volume, res.Network
	return nil
}

func (f *fakeStore) GetTenant(_ context.Context, id int64) (*tenant.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return nil, fmt.Errorf("get tenant %d: %w", id, domain.ErrTenantNotFound)
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) ListTenants(_ context.Context) ([]tenant.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]tenant.Tenant, 0, len(f.tenants))
	for _, t := range f.tenants {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) UpdateTenantStatus(_ context.Context, id int64, status tenant.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return domain.ErrTenantNotFound
	}
	t.Status = status
	return nil
}

func (f *fakeStore) UpdateTenantNAT(_ context.Context, id int64, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return domain.ErrTenantNotFound
	}
	t.NATEnabled = enabled
	return nil
}

func (f *fakeStore) DeleteTenant(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tenants[id]; !ok {
		return domain.ErrTenantNotFound
	}
	delete(f.tenants, id)
	delete(f.networks, id)
	delete(f.users, id)
	delete(f.sessions, id)
	delete(f.events, id)
	return nil
}

func (f *fakeStore) ListReservedPorts(_ context.Context) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for _, t := range f.tenants {
		out = append(out, t.ListenPort)
	}
	return out, nil
}

func (f *fakeStore) ListAllocatedSubnets(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, t := range f.tenants {
		out = append(out, t.SubnetCIDR)
	}
	for _, nets := range f.networks {
		for _, n := range nets {
			out = append(out, n.SubnetCIDR)
		}
	}
	return out, nil
}

func (f *fakeStore) AddTenantNetwork(_ context.Context, tenantID int64, cidr string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tenants[tenantID]; !ok {
		return false, domain.ErrTenantNotFound
	}
	for _, n := range f.networks[tenantID] {
		if n.SubnetCIDR == cidr {
			return false, nil
		}
	}
	if f.subnetTaken(cidr) {
		return false, domain.ErrResourceConflict
	}
	f.networks[tenantID] = append(f.networks[tenantID], tenant.Network{
		ID: int64(len(f.networks[tenantID]) + 1), TenantID: tenantID, SubnetCIDR: cidr, CreatedAt: time.Now(),
	})
	return true, nil
}

func (f *fakeStore) ListTenantNetworks(_ context.Context, tenantID int64) ([]tenant.Network, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.networks[tenantID]), nil
}

func (f *fakeStore) RemoveTenantNetwork(_ context.Context, tenantID int64, cidr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	nets := f.networks[tenantID]
	for i, n := range nets {
		if n.SubnetCIDR == cidr {
			f.networks[tenantID] = slices.Delete(nets, i, i+1)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeStore) UpsertVPNUser(_ context.Context, tenantID int64, username, email string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tenants[tenantID]; !ok {
		return nil, domain.ErrTenantNotFound
	}
	users := f.users[tenantID]
	for i := range users {
		if users[i].Username == username {
			users[i].Status = user.StatusActive
			if email != "" {
				users[i].Email = email
			}
			cp := users[i]
			return &cp, nil
		}
	}
	u := user.User{
		ID: int64(len(users) + 1), TenantID: tenantID, Username: username, Email: email, Status: user.StatusActive,
	}
	f.users[tenantID] = append(users, u)
	return &u, nil
}

func (f *fakeStore) GetVPNUser(_ context.Context, tenantID int64, username string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users[tenantID] {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) ListVPNUsers(_ context.Context, tenantID int64) ([]user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listUsersErr != nil {
		return nil, f.listUsersErr
	}
	return slices.Clone(f.users[tenantID]), nil
}

func (f *fakeStore) SetVPNUserStatus(_ context.Context, tenantID int64, username string, status user.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := f.users[tenantID]
	for i := range users {
		if users[i].Username == username {
			users[i].Status = status
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeStore) SetVPNUserEmail(_ context.Context, tenantID int64, username, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := f.users[tenantID]
	for i := range users {
		if users[i].Username == username {
			users[i].Email = email
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeStore) ReplaceSessions(_ context.Context, tenantID int64, sessions []session.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return f.replaceErr
	}
	if _, ok := f.tenants[tenantID]; !ok {
		return domain.ErrTenantNotFound
	}
	f.sessions[tenantID] = slices.Clone(sessions)
	return nil
}

func (f *fakeStore) ListSessions(_ context.Context, tenantID int64) ([]session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sessions[tenantID]), nil
}

func (f *fakeStore) DeleteSessionsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, list := range f.sessions {
		kept := list[:0]
		for _, s := range list {
			if s.LastSeen.Before(cutoff) {
				n++
				continue
			}
			kept = append(kept, s)
		}
		f.sessions[id] = kept
	}
	return n, nil
}

func (f *fakeStore) AppendTenantEvent(_ context.Context, ev *event.TenantEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tenants[ev.TenantID]; !ok {
		return domain.ErrTenantNotFound
	}
	f.events[ev.TenantID] = append(f.events[ev.TenantID], *ev)
	return nil
}

func (f *fakeStore) ListTenantEvents(_ context.Context, tenantID int64, limit int) ([]event.TenantEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	evs := slices.Clone(f.events[tenantID])
	slices.Reverse(evs)
	if limit > 0 && len(evs) > limit {
		evs = evs[:limit]
	}
	return evs, nil
}

// rowCount returns the number of rows referencing tenantID across all tables.
func (f *fakeStore) rowCount(tenantID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.networks[tenantID]) + len(f.users[tenantID]) + len(f.sessions[tenantID]) + len(f.events[tenantID])
	if _, ok := f.tenants[tenantID]; ok {
		n++
	}
	return n
}

// fakeRuntime simulates the container engine and the OpenVPN image's
// commands against an in-memory PKI.
type fakeRuntime struct {
	mu         sync.Mutex
	containers map[string]containerruntime.State
	volumes    map[string]bool
	networks   map[string]bool
	files      map[string]string          // container + path -> content
	pki        map[string]map[string]bool // volume -> issued client names
	nat        map[string]bool            // container + cidr
	runOnce    [][]string
	secrets    []map[string]string
	execs      [][]string

	// Behavior hooks.
	startState      containerruntime.State // state after RunContainer; default running
	runContainerErr error
	runOnceErr      func(cmd []string) error
	removeVolumeErr error
	readFileErr     error
	readFileDelay   time.Duration
	logs            string

	reading, maxReading int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		containers: make(map[string]containerruntime.State),
		volumes:    make(map[string]bool),
		networks:   make(map[string]bool),
		files:      make(map[string]string),
		pki:        make(map[string]map[string]bool),
		nat:        make(map[string]bool),
		startState: containerruntime.StateRunning,
	}
}

func (r *fakeRuntime) infraErr(cmd []string, code int, out string) error {
	return &domain.InfrastructureError{Command: cmd, Output: out, ExitCode: code, Err: fmt.Errorf("exit status %d", code)}
}

func (r *fakeRuntime) ContainerState(_ context.Context, name string) (containerruntime.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.containers[name], nil
}

func (r *fakeRuntime) RunContainer(_ context.Context, spec containerruntime.ContainerSpec) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runContainerErr != nil {
		return "", r.runContainerErr
	}
	r.containers[spec.Name] = r.startState
	return spec.Name, nil
}

func (r *fakeRuntime) RunOnce(_ context.Context, spec containerruntime.ContainerSpec, secretEnv map[string]string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runOnce = append(r.runOnce, spec.Cmd)
	r.secrets = append(r.secrets, secretEnv)
	if r.runOnceErr != nil {
		if err := r.runOnceErr(spec.Cmd); err != nil {
			return "", err
		}
	}
	if !r.volumes[spec.Volume] {
		return "", r.infraErr(spec.Cmd, 125, "no such volume")
	}

	issued := r.pki[spec.Volume]
	if issued == nil {
		issued = make(map[string]bool)
		r.pki[spec.Volume] = issued
	}
	cmd := spec.Cmd
	switch {
	case cmd[0] == "easyrsa" && slices.Contains(cmd, "build-client-full"):
		name := cmd[slices.Index(cmd, "build-client-full")+1]
		if issued[name] {
			return "", r.infraErr(cmd, 1, "Request file already exists")
		}
		issued[name] = true
	case cmd[0] == "ovpn_revokeclient":
		delete(issued, cmd[1])
	case cmd[0] == "ovpn_getclient":
		if !issued[cmd[1]] {
			return "Unable to find \"" + cmd[1] + "\"\n", r.infraErr(cmd, 1, "Unable to find")
		}
		return "client\nnobind\n<cert>\n-----BEGIN CERTIFICATE-----\nMIIB" + cmd[1] + "\n-----END CERTIFICATE-----\n</cert>\n", nil
	}
	return "", nil
}

func (r *fakeRuntime) StartContainer(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.containers[name]; !ok {
		return containerruntime.ErrNoSuchContainer
	}
	r.containers[name] = containerruntime.StateRunning
	return nil
}

func (r *fakeRuntime) StopContainer(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.containers[name]; !ok {
		return containerruntime.ErrNoSuchContainer
	}
	r.containers[name] = containerruntime.StateExited
	for k := range r.nat {
		if strings.HasPrefix(k, name+"|") {
			delete(r.nat, k)
		}
	}
	return nil
}

func (r *fakeRuntime) RemoveContainer(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.containers, name)
	return nil
}

func (r *fakeRuntime) Logs(_ context.Context, _ string, _ int) (string, error) {
	return r.logs, nil
}

func (r *fakeRuntime) Exec(_ context.Context, name string, cmd []string, _ map[string]string) (containerruntime.ExecResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.execs = append(r.execs, cmd)
	if r.containers[name] != containerruntime.StateRunning {
		return containerruntime.ExecResult{}, containerruntime.ErrNoSuchContainer
	}
	if cmd[0] != "iptables" {
		return containerruntime.ExecResult{}, nil
	}
	key := name + "|" + cmd[slices.Index(cmd, "-s")+1]
	switch cmd[3] {
	case natCheck:
		if r.nat[key] {
			return containerruntime.ExecResult{}, nil
		}
		return containerruntime.ExecResult{ExitCode: 1}, nil
	case natAppend:
		r.nat[key] = true
	case natDelete:
		if !r.nat[key] {
			return containerruntime.ExecResult{ExitCode: 1, Stderr: "Bad rule"}, nil
		}
		delete(r.nat, key)
	}
	return containerruntime.ExecResult{}, nil
}

func (r *fakeRuntime) ReadFile(_ context.Context, name, path string) ([]byte, bool, error) {
	r.mu.Lock()
	r.reading++
	r.maxReading = max(r.maxReading, r.reading)
	delay := r.readFileDelay
	r.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.reading--
	if r.readFileErr != nil {
		return nil, false, r.readFileErr
	}
	content, ok := r.files[name+path]
	return []byte(content), ok, nil
}

func (r *fakeRuntime) CreateNetwork(_ context.Context, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.networks[name] = true
	return name, nil
}

func (r *fakeRuntime) RemoveNetwork(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.networks, name)
	return nil
}

func (r *fakeRuntime) CreateVolume(_ context.Context, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.volumes[name] = true
	return name, nil
}

func (r *fakeRuntime) RemoveVolume(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removeVolumeErr != nil {
		return r.removeVolumeErr
	}
	delete(r.volumes, name)
	delete(r.pki, name)
	return nil
}

func (r *fakeRuntime) VolumeExists(_ context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.volumes[name], nil
}

func (r *fakeRuntime) setFile(container, path, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[container+path] = content
}

func (r *fakeRuntime) ran(prefix string) [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]string
	for _, cmd := range r.runOnce {
		if cmd[0] == prefix {
			out = append(out, cmd)
		}
	}
	return out
}

func (r *fakeRuntime) natRule(container, cidr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nat[container+"|"+cidr]
}

func (r *fakeRuntime) empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.containers) == 0 && len(r.volumes) == 0 && len(r.networks) == 0
}

// fakeGeo resolves from a fixed table; listed addresses fail.
type fakeGeo struct {
	locations map[string]geoip.Location
	failing   map[string]bool
}

func (g *fakeGeo) Lookup(_ context.Context, ip string) (geoip.Location, error) {
	if g.failing[ip] {
		return geoip.Location{}, errors.New("lookup timed out")
	}
	return g.locations[ip], nil
}

// fakeQueue records publishes and exposes registered handlers.
type fakeQueue struct {
	mu         sync.Mutex
	published  map[string][][]byte
	handlers   map[string]messagequeue.Handler
	publishErr error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{published: make(map[string][][]byte), handlers: make(map[string]messagequeue.Handler)}
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published[subject] = append(q.published[subject], data)
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = h
	return func() {}, nil
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

// fakeBroadcaster records broadcast event types.
type fakeBroadcaster struct {
	mu    sync.Mutex
	types []string
}

func (b *fakeBroadcaster) BroadcastEvent(_ context.Context, eventType string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.types = append(b.types, eventType)
}
