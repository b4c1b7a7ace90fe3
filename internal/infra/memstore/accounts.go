package memstore

import (
	"context"
	"fmt"
	"sync"

	"bonsaipay/internal/domain"
)

// Accounts is the no-database account registry. Records live for the
// lifetime of the process.
type Accounts struct {
	mu      sync.RWMutex
	records map[string]domain.AccountRecord
}

func NewAccounts() *Accounts {
	return &Accounts{records: make(map[string]domain.AccountRecord)}
}

func (a *Accounts) Get(ctx context.Context, identity string) (domain.AccountRecord, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.records[identity]
	return rec, ok, nil
}

func (a *Accounts) Put(ctx context.Context, rec domain.AccountRecord) error {
	if rec.Identity == "" || !rec.Status.Valid() {
		return fmt.Errorf("%w: incomplete account record", domain.ErrInvalidRequest)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if prev, ok := a.records[rec.Identity]; ok {
		if prev.Address != rec.Address {
			return fmt.Errorf("%w: %s already bound to %s", domain.ErrAddressConflict, rec.Identity, prev.Address.Hex())
		}
		rec.CreatedAt = prev.CreatedAt
	}
	a.records[rec.Identity] = rec
	return nil
}

func (a *Accounts) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.records)
}

var _ domain.AccountStore = (*Accounts)(nil)
