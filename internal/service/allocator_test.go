package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Strob0t/VPNForge/internal/config"
	"github.com/Strob0t/VPNForge/internal/domain"
	"github.com/Strob0t/VPNForge/internal/domain/tenant"
)

func TestAllocator_PortStartsAfterHighestReserved(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	for i, port := range []int{1194, 1196} {
		if _, err := store.ReserveTenant(ctx, tenant.Reservation{
			Name: string(rune('a' + i)), ListenPort: port, SubnetCIDR: "10.10." + string(rune('0'+i)) + ".0/26",
		}); err != nil {
			t.Fatal(err)
		}
	}

	alloc := NewAllocator(store, testAllocation(), nil, nil)
	port, err := alloc.AllocatePort(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if port != 1197 {
		t.Fatalf("expected 1197, got %d", port)
	}

	subnet, err := alloc.AllocateSubnet(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if subnet != "10.10.2.0/26" {
		t.Fatalf("expected 10.10.2.0/26, got %s", subnet)
	}
}

func TestAllocator_ProbeSkipsBoundPorts(t *testing.T) {
	alloc := NewAllocator(newFakeStore(), testAllocation(), func(p int) bool { return p != 1194 }, nil)
	port, err := alloc.AllocatePort(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if port != 1195 {
		t.Fatalf("expected 1195, got %d", port)
	}
}

func TestAllocator_Exhausted(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	if _, err := store.ReserveTenant(ctx, tenant.Reservation{Name: "a", ListenPort: 1194, SubnetCIDR: "10.10.0.0/26"}); err != nil {
		t.Fatal(err)
	}
	alloc := NewAllocator(store, config.Allocation{PortFirst: 1194, PortMax: 1194, ReserveAttempts: 1}, nil, nil)

	_, err := alloc.Reserve(ctx, tenant.CreateRequest{Name: "b"})
	if !errors.Is(err, domain.ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted, got %v", err)
	}
	if domain.IsRetryable(err) {
		t.Error("exhaustion is not retryable")
	}
}

func TestAllocator_PublicIPFallback(t *testing.T) {
	alloc := NewAllocator(newFakeStore(), testAllocation(), nil, nil)
	if ip := alloc.PublicIP(context.Background()); ip != "0.0.0.0" {
		t.Fatalf("expected 0.0.0.0 without a detector, got %s", ip)
	}
	alloc = NewAllocator(newFakeStore(), testAllocation(), nil, staticIP("198.51.100.7"))
	if ip := alloc.PublicIP(context.Background()); ip != "198.51.100.7" {
		t.Fatalf("expected detected address, got %s", ip)
	}
}
