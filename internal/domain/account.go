package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type AccountStatus string

// An account moves deployed -> funded -> ready. Only ready accounts are
// returned without chain work.
const (
	AccountStatusDeployed AccountStatus = "deployed"
	AccountStatusFunded   AccountStatus = "funded"
	AccountStatusReady    AccountStatus = "ready"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusDeployed, AccountStatusFunded, AccountStatusReady:
		return true
	}
	return false
}

// AccountRecord binds an identity to its account contract. At most one
// address is ever recorded for an identity.
type AccountRecord struct {
	Identity     string
	Address      common.Address
	Status       AccountStatus
	OwnerClaimID common.Hash
	DeployTx     common.Hash
	FundTx       common.Hash
	OwnerTx      common.Hash
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (r AccountRecord) Ready() bool {
	return r.Status == AccountStatusReady
}

// AccountStore persists account records. Put replaces the record for
// rec.Identity but must never change an already stored address.
type AccountStore interface {
	Get(ctx context.Context, identity string) (AccountRecord, bool, error)
	Put(ctx context.Context, rec AccountRecord) error
}
