package secrets_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Strob0t/VPNForge/internal/secrets"
)

func TestNewVault_InitialLoad(t *testing.T) {
	v, err := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{"KEY_A": "val_a"}, nil
	})
	if err != nil {
		t.Fatalf("NewVault failed: %v", err)
	}
	if got := v.Get("KEY_A"); got != "val_a" {
		t.Fatalf("expected 'val_a', got %q", got)
	}
	if got := v.Get("MISSING"); got != "" {
		t.Fatalf("expected empty string for missing key, got %q", got)
	}
}

func TestNewVault_LoaderError(t *testing.T) {
	_, err := secrets.NewVault(func() (map[string]string, error) {
		return nil, errors.New("permission denied")
	})
	if err == nil {
		t.Fatal("expected error from failing loader")
	}
}

func TestVault_ReloadRunsHooks(t *testing.T) {
	calls := 0
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		calls++
		if calls == 1 {
			return map[string]string{secrets.APIKeyHash: "old"}, nil
		}
		return map[string]string{secrets.APIKeyHash: "new"}, nil
	})

	var seen string
	v.OnReload(func(v *secrets.Vault) { seen = v.Get(secrets.APIKeyHash) })

	if err := v.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if seen != "new" {
		t.Fatalf("expected hook to observe 'new', got %q", seen)
	}
}

func TestVault_ReloadErrorPreservesValues(t *testing.T) {
	fail := false
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		if fail {
			return nil, errors.New("file vanished")
		}
		return map[string]string{"K": "kept"}, nil
	})
	hooked := false
	v.OnReload(func(*secrets.Vault) { hooked = true })

	fail = true
	if err := v.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if v.Get("K") != "kept" || hooked {
		t.Fatal("failed reload must keep values and skip hooks")
	}
}

func TestVault_ConcurrentAccess(t *testing.T) {
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{"K": "v"}, nil
	})
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(2)
		go func() { defer wg.Done(); _ = v.Get("K") }()
		go func() { defer wg.Done(); _ = v.Reload() }()
	}
	wg.Wait()
}

func TestEnvLoader(t *testing.T) {
	t.Setenv("VF_TEST_SECRET", "mysecret")
	vals, err := secrets.EnvLoader("VF_TEST_SECRET", "VF_MISSING_SECRET")()
	if err != nil {
		t.Fatalf("EnvLoader failed: %v", err)
	}
	if vals["VF_TEST_SECRET"] != "mysecret" {
		t.Fatalf("expected 'mysecret', got %q", vals["VF_TEST_SECRET"])
	}
	if _, ok := vals["VF_MISSING_SECRET"]; ok {
		t.Fatal("expected missing env var to be omitted")
	}
}

func TestEnvLoaderFilePrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hash")
	if err := os.WriteFile(path, []byte("$2a$10$fromfile\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VF_HASH", "fromenv")
	t.Setenv("VF_HASH_FILE", path)

	vals, err := secrets.EnvLoader("VF_HASH")()
	if err != nil {
		t.Fatal(err)
	}
	if vals["VF_HASH"] != "$2a$10$fromfile" {
		t.Fatalf("expected file value, got %q", vals["VF_HASH"])
	}

	t.Setenv("VF_HASH_FILE", filepath.Join(t.TempDir(), "missing"))
	if _, err := secrets.EnvLoader("VF_HASH")(); err == nil {
		t.Fatal("expected error for unreadable secret file")
	}
}
