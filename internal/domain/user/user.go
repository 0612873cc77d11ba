// Package user defines the VPN user model: a certificate identity issued by
// a tenant's PKI.
package user

import (
	"net/mail"
	"regexp"
	"time"

	"github.com/Strob0t/VPNForge/internal/domain"
)

// Status is the certificate state of a VPN user.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// User is a certificate identity within a tenant. The username is the
// certificate common name and is unique per tenant.
type User struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IssueRequest is the input for issuing a client certificate.
type IssueRequest struct {
	Username     string `json:"username"`
	Email        string `json:"email,omitempty"`
	NoPassphrase bool   `json:"no_passphrase"`
	Passphrase   string `json:"passphrase,omitempty"` //nolint:gosec // request field, not a hardcoded secret
}

var usernameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@-]{0,63}$`)

// ValidateUsername checks that name is usable as a certificate common name
// and as a file name inside the PKI directory.
func ValidateUsername(name string) error {
	if !usernameRegex.MatchString(name) {
		return domain.Validationf("invalid username %q: 1-64 letters, digits, '.', '_', '@' or '-'", name)
	}
	return nil
}

// ValidateEmail checks an optional email address.
func ValidateEmail(email string) error {
	if email == "" {
		return nil
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.Validationf("invalid email %q", email)
	}
	return nil
}

// Validate checks the IssueRequest fields.
func (r *IssueRequest) Validate() error {
	if err := ValidateUsername(r.Username); err != nil {
		return err
	}
	if err := ValidateEmail(r.Email); err != nil {
		return err
	}
	if !r.NoPassphrase && len(r.Passphrase) < 4 {
		return domain.Validationf("passphrase must be at least 4 characters unless no_passphrase is set")
	}
	return nil
}
