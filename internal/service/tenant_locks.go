package service

import (
	"context"
	"sync"
)

// TenantLocks serializes work per tenant id. Mutating tenant operations and
// session reconciliation for the same tenant never overlap; different
// tenants proceed in parallel. Entries are dropped once unused.
type TenantLocks struct {
	mu    sync.Mutex
	locks map[int64]*tenantLock
}

type tenantLock struct {
	ch   chan struct{}
	refs int
}

// NewTenantLocks creates an empty TenantLocks.
func NewTenantLocks() *TenantLocks {
	return &TenantLocks{locks: make(map[int64]*tenantLock)}
}

// Lock blocks until the lock for id is held or ctx ends. The returned
// function releases it and must be called exactly once.
func (l *TenantLocks) Lock(ctx context.Context, id int64) (unlock func(), err error) {
	l.mu.Lock()
	tl, ok := l.locks[id]
	if !ok {
		tl = &tenantLock{ch: make(chan struct{}, 1)}
		l.locks[id] = tl
	}
	tl.refs++
	l.mu.Unlock()

	select {
	case tl.ch <- struct{}{}:
		return func() {
			<-tl.ch
			l.release(id, tl)
		}, nil
	case <-ctx.Done():
		l.release(id, tl)
		return nil, ctx.Err()
	}
}

func (l *TenantLocks) release(id int64, tl *tenantLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tl.refs--
	if tl.refs == 0 {
		delete(l.locks, id)
	}
}

func (l *TenantLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
