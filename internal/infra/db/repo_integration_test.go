//go:build integration
// +build integration

package db

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"bonsaipay/internal/domain"
)

func TestAccountRepository_PutAdvancesStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()
	addr := common.HexToAddress("0x00000000000000000000000000000000000000a1")

	rec := domain.AccountRecord{
		Identity: "ident-1",
		Address:  addr,
		Status:   domain.AccountStatusDeployed,
		DeployTx: common.HexToHash("0x01"),
	}
	if err := repo.Put(ctx, rec); err != nil {
		t.Fatalf("put deployed: %v", err)
	}
	got, ok, err := repo.Get(ctx, "ident-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Status != domain.AccountStatusDeployed || got.Address != addr {
		t.Fatalf("unexpected record: %+v", got)
	}
	created := got.CreatedAt

	rec.Status = domain.AccountStatusReady
	rec.FundTx = common.HexToHash("0x02")
	rec.OwnerTx = common.HexToHash("0x03")
	rec.OwnerClaimID = common.HexToHash("0xff")
	rec.CreatedAt = time.Time{}
	rec.UpdatedAt = time.Time{}
	if err := repo.Put(ctx, rec); err != nil {
		t.Fatalf("put ready: %v", err)
	}
	got, _, err = repo.Get(ctx, "ident-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Ready() || got.OwnerClaimID != common.HexToHash("0xff") {
		t.Fatalf("unexpected record: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("created_at changed: %v -> %v", created, got.CreatedAt)
	}
}

func TestAccountRepository_AddressIsImmutable(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	rec := domain.AccountRecord{Identity: "ident-2", Address: common.HexToAddress("0xa2"), Status: domain.AccountStatusDeployed}
	if err := repo.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	rec.Address = common.HexToAddress("0xb2")
	if err := repo.Put(ctx, rec); !errors.Is(err, domain.ErrAddressConflict) {
		t.Fatalf("expected ErrAddressConflict, got %v", err)
	}
}

func TestSubmissionRepository_AppendAndList(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSubmissionRepository(db)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	for i, action := range []domain.Action{domain.ActionDeploy, domain.ActionFund, domain.ActionSetOwner} {
		if err := repo.Append(ctx, domain.SubmissionRecord{
			RequestID:    "req-1",
			IdentityHash: "ident-3",
			Action:       action,
			Target:       common.HexToAddress("0xa3"),
			TxHash:       common.BigToHash(common.Big1),
			Status:       domain.SubmissionStatusMined,
			CreatedAt:    base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("append %s: %v", action, err)
		}
	}
	list, err := repo.ListByIdentity(ctx, "ident-3")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(list))
	}
	if list[0].Action != domain.ActionDeploy || list[2].Action != domain.ActionSetOwner {
		t.Fatalf("unexpected order: %+v", list)
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("POSTGRES_DSN_TEST"))
	if dsn == "" {
		t.Skip("POSTGRES_DSN_TEST not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	lockTestDB(t, db)
	store := &Store{DB: db}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Exec("TRUNCATE accounts, submissions").Error; err != nil {
		t.Fatalf("reset db: %v", err)
	}
	return db
}

func lockTestDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	conn, err := sqlDB.Conn(context.Background())
	if err != nil {
		t.Fatalf("open db conn: %v", err)
	}
	if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_lock(987654321)"); err != nil {
		_ = conn.Close()
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock(987654321)")
		_ = conn.Close()
	})
}
