// Package secrets holds operator secrets that can be rotated without a
// restart, such as the admin API key hash.
package secrets

import (
	"fmt"
	"sync"
)

// APIKeyHash is the key under which the bcrypt hash of the admin API key is stored.
const APIKeyHash = "VPNFORGE_API_KEY_HASH"

// Loader retrieves secrets from a source.
type Loader func() (map[string]string, error)

// Vault holds secret values in memory and supports atomic reloading.
type Vault struct {
	mu       sync.RWMutex
	values   map[string]string
	loader   Loader
	onReload []func(*Vault)
}

// NewVault creates a Vault, calling the loader once to populate initial values.
func NewVault(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return &Vault{values: vals, loader: loader}, nil
}

// Get returns the secret for key, or an empty string if not found.
func (v *Vault) Get(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[key]
}

// OnReload registers fn to run after every successful Reload.
func (v *Vault) OnReload(fn func(*Vault)) {
	v.mu.Lock()
	v.onReload = append(v.onReload, fn)
	v.mu.Unlock()
}

// Reload calls the loader and swaps in the new values atomically.
// If the loader returns an error, existing values are preserved.
func (v *Vault) Reload() error {
	newVals, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}
	v.mu.Lock()
	v.values = newVals
	hooks := append(([]func(*Vault))(nil), v.onReload...)
	v.mu.Unlock()

	for _, fn := range hooks {
		fn(v)
	}
	return nil
}
