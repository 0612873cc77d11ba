package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestTenantNotFoundIsNotFound(t *testing.T) {
	err := fmt.Errorf("get tenant 4: %w", ErrTenantNotFound)
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("expected ErrTenantNotFound to match ErrNotFound")
	}
}

func TestInfrastructureError(t *testing.T) {
	cause := errors.New("exit status 1")
	err := error(&InfrastructureError{
		Command: []string{"docker", "start", "vpnforge-ovpn-3"},
		Output:  "Error: No such container\n",
		Err:     cause,
	})

	if !errors.Is(err, ErrInfrastructure) {
		t.Error("expected ErrInfrastructure")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable")
	}
	msg := err.Error()
	if !strings.Contains(msg, "docker start vpnforge-ovpn-3") || !strings.Contains(msg, "No such container") {
		t.Errorf("expected command and output in message, got %q", msg)
	}
	if IsRetryable(err) {
		t.Error("non-timeout failure should not be retryable")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"resource conflict", fmt.Errorf("reserve: %w", ErrResourceConflict), true},
		{"circuit open", ErrCircuitOpen, true},
		{"timeout", &InfrastructureError{Command: []string{"docker", "ps"}, Timeout: true}, true},
		{"exhausted", ErrResourceExhausted, false},
		{"not found", ErrTenantNotFound, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProvisioningErrorUnwrap(t *testing.T) {
	infra := &InfrastructureError{Command: []string{"docker", "run"}, Err: errors.New("boom")}
	err := error(&ProvisioningError{Step: "start container", Logs: "TUN/TAP missing", Err: infra})

	if !errors.Is(err, ErrProvisioningFailed) {
		t.Error("expected ErrProvisioningFailed")
	}
	if !errors.Is(err, ErrInfrastructure) {
		t.Error("expected wrapped infrastructure error")
	}
	var pe *ProvisioningError
	if !errors.As(err, &pe) || pe.Logs != "TUN/TAP missing" {
		t.Error("expected logs to be carried")
	}
}

func TestValidationf(t *testing.T) {
	err := Validationf("name %q too long", "x")
	if !errors.Is(err, ErrValidation) {
		t.Fatal("expected ErrValidation")
	}
	if !strings.HasSuffix(err.Error(), `name "x" too long`) {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestDiagnostics(t *testing.T) {
	var d Diagnostics
	d.Add("remove volume", nil)
	if !d.Empty() {
		t.Fatal("nil error must not be recorded")
	}
	d.Add("remove volume", errors.New("volume in use"))
	d.Add("remove network", errors.New("network has endpoints"))
	if len(d) != 2 {
		t.Fatalf("expected 2 warnings, got %d", len(d))
	}
	if d[0].Step != "remove volume" || d[0].Message != "volume in use" {
		t.Errorf("unexpected warning %+v", d[0])
	}
	d.Log(context.Background(), "rollback step failed", "tenant_id", 1)
}
