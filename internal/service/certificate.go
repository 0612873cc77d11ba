package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	vfotel "github.com/Strob0t/VPNForge/internal/adapter/otel"
	"github.com/Strob0t/VPNForge/internal/config"
	"github.com/Strob0t/VPNForge/internal/domain"
	"github.com/Strob0t/VPNForge/internal/domain/event"
	"github.com/Strob0t/VPNForge/internal/domain/tenant"
	"github.com/Strob0t/VPNForge/internal/domain/user"
	"github.com/Strob0t/VPNForge/internal/port/containerruntime"
	"github.com/Strob0t/VPNForge/internal/port/database"
)

// CertificateService issues, revokes and exports client certificates from
// a tenant's PKI. PKI commands for one tenant run one at a time.
type CertificateService struct {
	store   database.Store
	runtime containerruntime.Runtime
	docker  config.Docker
	locks   *TenantLocks
	events  *EventService
}

// NewCertificateService creates a CertificateService.
func NewCertificateService(store database.Store, rt containerruntime.Runtime, docker config.Docker) *CertificateService {
	return &CertificateService{store: store, runtime: rt, docker: docker, locks: NewTenantLocks()}
}

// SetLocks shares a per-tenant lock table with other services.
func (s *CertificateService) SetLocks(l *TenantLocks) { s.locks = l }

// SetEvents sets the optional event recorder.
func (s *CertificateService) SetEvents(e *EventService) { s.events = e }

// pki locks the tenant and returns its data volume. A tenant without a
// data volume is reported as not found.
func (s *CertificateService) pki(ctx context.Context, tenantID int64) (string, func(), error) {
	t, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return "", nil, err
	}
	volume := t.VolumeID
	if volume == "" {
		volume = tenant.ResourceNames(s.docker.ResourcePrefix, t.ID).Volume
	}

	unlock, err := s.locks.Lock(ctx, tenantID)
	if err != nil {
		return "", nil, err
	}
	ok, err := s.runtime.VolumeExists(ctx, volume)
	if err != nil {
		unlock()
		return "", nil, err
	}
	if !ok {
		unlock()
		return "", nil, fmt.Errorf("tenant %d data volume %s missing: %w", tenantID, volume, domain.ErrTenantNotFound)
	}
	return volume, unlock, nil
}

// Issue builds a client certificate and records the user as active.
// Issuing for a user that already holds an active certificate regenerates
// it: the old certificate is revoked and its key material removed before
// the new one is built, so previously exported profiles stop working.
func (s *CertificateService) Issue(ctx context.Context, tenantID int64, req *user.IssueRequest) (_ *user.User, err error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, span := vfotel.StartCertificateSpan(ctx, "issue", tenantID, req.Username)
	defer func() { vfotel.EndSpan(span, err) }()

	volume, unlock, err := s.pki(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := s.store.GetVPNUser(ctx, tenantID, req.Username)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	reissue := err == nil && existing.Status == user.StatusActive
	if reissue {
		if _, err := s.runtime.RunOnce(ctx, oneShot(s.docker.Image, volume, revokeClientCmd(req.Username)), nil); err != nil {
			return nil, fmt.Errorf("replace certificate for %q: %w", req.Username, err)
		}
	}

	var secrets map[string]string
	if !req.NoPassphrase {
		secrets = map[string]string{envEasyRSAPassOut: req.Passphrase}
	}
	spec := oneShot(s.docker.Image, volume, buildClientCmd(req.Username, !req.NoPassphrase))
	if _, err := s.runtime.RunOnce(ctx, spec, secrets); err != nil {
		return nil, fmt.Errorf("issue certificate for %q: %w", req.Username, err)
	}

	u, err := s.store.UpsertVPNUser(ctx, tenantID, req.Username, req.Email)
	if err != nil {
		return nil, err
	}

	slog.Info("certificate issued", "tenant_id", tenantID, "username", req.Username, "reissue", reissue)
	s.events.Record(ctx, tenantID, event.TypeCertificateIssued, map[string]any{"username": req.Username, "reissue": reissue})
	return u, nil
}

// Revoke revokes a user's certificate, regenerates the CRL and marks the
// user revoked. Revoking a revoked user is a no-op.
func (s *CertificateService) Revoke(ctx context.Context, tenantID int64, username string) (_ *user.User, err error) {
	if err := user.ValidateUsername(username); err != nil {
		return nil, err
	}

	ctx, span := vfotel.StartCertificateSpan(ctx, "revoke", tenantID, username)
	defer func() { vfotel.EndSpan(span, err) }()

	volume, unlock, err := s.pki(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	u, err := s.store.GetVPNUser(ctx, tenantID, username)
	if err != nil {
		return nil, err
	}
	if u.Status == user.StatusRevoked {
		return u, nil
	}

	if _, err := s.runtime.RunOnce(ctx, oneShot(s.docker.Image, volume, revokeClientCmd(username)), nil); err != nil {
		return nil, fmt.Errorf("revoke certificate for %q: %w", username, err)
	}
	if err := s.store.SetVPNUserStatus(ctx, tenantID, username, user.StatusRevoked); err != nil {
		return nil, err
	}
	u.Status = user.StatusRevoked

	slog.Info("certificate revoked", "tenant_id", tenantID, "username", username)
	s.events.Record(ctx, tenantID, event.TypeCertificateRevoked, map[string]string{"username": username})
	return u, nil
}

// Export returns the inline client profile for username. It fails with
// domain.ErrExportFailed when the user is revoked or the PKI holds no
// certificate for it.
func (s *CertificateService) Export(ctx context.Context, tenantID int64, username string) (_ string, err error) {
	if err := user.ValidateUsername(username); err != nil {
		return "", err
	}

	ctx, span := vfotel.StartCertificateSpan(ctx, "export", tenantID, username)
	defer func() { vfotel.EndSpan(span, err) }()

	volume, unlock, err := s.pki(ctx, tenantID)
	if err != nil {
		return "", err
	}
	defer unlock()

	u, err := s.store.GetVPNUser(ctx, tenantID, username)
	switch {
	case err == nil && u.Status == user.StatusRevoked:
		return "", fmt.Errorf("certificate for %q is revoked: %w", username, domain.ErrExportFailed)
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return "", err
	}

	profile, err := s.runtime.RunOnce(ctx, oneShot(s.docker.Image, volume, getClientCmd(username)), nil)
	if err != nil {
		var infra *domain.InfrastructureError
		if errors.As(err, &infra) && !infra.Timeout && infra.ExitCode > 0 {
			return "", fmt.Errorf("export %q: %w", username, errors.Join(domain.ErrExportFailed, err))
		}
		return "", err
	}
	if !hasCertificate(profile) {
		return "", fmt.Errorf("no certificate for %q: %w", username, domain.ErrExportFailed)
	}
	return profile, nil
}

// ListUsers returns the tenant's VPN users.
func (s *CertificateService) ListUsers(ctx context.Context, tenantID int64) ([]user.User, error) {
	if _, err := s.store.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	return s.store.ListVPNUsers(ctx, tenantID)
}

// SetUserEmail updates a user's contact address.
func (s *CertificateService) SetUserEmail(ctx context.Context, tenantID int64, username, email string) (*user.User, error) {
	if err := user.ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := user.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := s.store.SetVPNUserEmail(ctx, tenantID, username, email); err != nil {
		return nil, err
	}
	return s.store.GetVPNUser(ctx, tenantID, username)
}
