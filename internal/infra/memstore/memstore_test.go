package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bonsaipay/internal/domain"
)

func TestAccountsRejectAddressRebind(t *testing.T) {
	ctx := context.Background()
	store := NewAccounts()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := domain.AccountRecord{
		Identity:  "id-1",
		Address:   common.HexToAddress("0x01"),
		Status:    domain.AccountStatusDeployed,
		CreatedAt: created,
	}
	require.NoError(t, store.Put(ctx, rec))

	rec.Status = domain.AccountStatusReady
	rec.CreatedAt = time.Time{}
	require.NoError(t, store.Put(ctx, rec))

	got, ok, err := store.Get(ctx, "id-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.AccountStatusReady, got.Status)
	assert.Equal(t, created, got.CreatedAt)

	rec.Address = common.HexToAddress("0x02")
	assert.ErrorIs(t, store.Put(ctx, rec), domain.ErrAddressConflict)

	_, ok, err = store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAccountsRejectIncompleteRecord(t *testing.T) {
	store := NewAccounts()
	assert.ErrorIs(t, store.Put(context.Background(), domain.AccountRecord{Identity: "x"}), domain.ErrInvalidRequest)
	assert.Equal(t, 0, store.Len())
}

func TestSubmissionsListByIdentity(t *testing.T) {
	ctx := context.Background()
	log := NewSubmissions()
	require.NoError(t, log.Append(ctx, domain.SubmissionRecord{IdentityHash: "a", Action: domain.ActionDeploy}))
	require.NoError(t, log.Append(ctx, domain.SubmissionRecord{IdentityHash: "b", Action: domain.ActionClaim}))
	require.NoError(t, log.Append(ctx, domain.SubmissionRecord{IdentityHash: "a", Action: domain.ActionFund}))

	got, err := log.ListByIdentity(ctx, "a")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.ActionDeploy, got[0].Action)
	assert.Equal(t, domain.ActionFund, got[1].Action)
}
