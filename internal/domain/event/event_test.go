package event

import "testing"

func TestPersisted(t *testing.T) {
	tests := []struct {
		typ  Type
		want bool
	}{
		{TypeTenantCreated, true},
		{TypeTenantPaused, true},
		{TypeNATChanged, true},
		{TypeCertificateRevoked, true},
		{TypeSessionsUpdated, false},
		{TypeTenantDeleted, false},
		{TypeTenantFailed, false},
	}
	for _, tt := range tests {
		if got := tt.typ.Persisted(); got != tt.want {
			t.Errorf("%s: Persisted() = %v, want %v", tt.typ, got, tt.want)
		}
	}
}
