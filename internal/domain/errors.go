// Package domain provides shared domain-level sentinel errors and the
// typed errors surfaced by the tenant orchestrator.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a uniqueness or concurrent modification conflict.
var ErrConflict = errors.New("conflict")

// ErrValidation indicates invalid caller input.
var ErrValidation = errors.New("validation failed")

// ErrResourceExhausted indicates no allocatable port or subnet remains.
var ErrResourceExhausted = errors.New("resource exhausted")

// ErrResourceConflict indicates an allocation race was lost; the whole
// create operation may be retried.
var ErrResourceConflict = errors.New("resource conflict")

// ErrTenantNotFound indicates the referenced tenant does not exist.
var ErrTenantNotFound = fmt.Errorf("tenant %w", ErrNotFound)

// ErrContainerNotConfigured indicates the tenant row has no resource handles yet.
var ErrContainerNotConfigured = errors.New("container not configured")

// ErrProvisioningFailed indicates a provisioning step failed after allocation.
var ErrProvisioningFailed = errors.New("provisioning failed")

// ErrExportFailed indicates there is no valid certificate to export.
var ErrExportFailed = errors.New("export failed")

// ErrInfrastructure indicates a failed external process call.
var ErrInfrastructure = errors.New("infrastructure error")

// ErrCircuitOpen is returned when calls to the container engine are being
// rejected after repeated failures.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Validationf returns an error wrapping ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// InfrastructureError describes a failed container engine invocation.
type InfrastructureError struct {
	Command  []string
	Output   string
	ExitCode int
	Timeout  bool
	Err      error
}

func (e *InfrastructureError) Error() string {
	var b strings.Builder
	b.WriteString(strings.Join(e.Command, " "))
	if e.Timeout {
		b.WriteString(": timed out")
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		b.WriteString(": ")
		b.WriteString(out)
	}
	return b.String()
}

// Unwrap exposes both ErrInfrastructure and the underlying cause.
func (e *InfrastructureError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInfrastructure}
	}
	return []error{ErrInfrastructure, e.Err}
}

// ProvisioningError is returned by tenant creation when a step after
// resource allocation fails. Rollback carries non-fatal failures from the
// cleanup that followed; Logs holds captured container output when available.
type ProvisioningError struct {
	Step     string
	Logs     string
	Rollback Diagnostics
	Err      error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning failed at %s: %v", e.Step, e.Err)
}

// Unwrap exposes both ErrProvisioningFailed and the underlying cause.
func (e *ProvisioningError) Unwrap() []error {
	return []error{ErrProvisioningFailed, e.Err}
}

// IsRetryable reports whether err is a transient failure the caller may retry:
// a lost allocation race, a timed out engine call, or an open circuit.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrResourceConflict) || errors.Is(err, ErrCircuitOpen) {
		return true
	}
	var infra *InfrastructureError
	return errors.As(err, &infra) && infra.Timeout
}
