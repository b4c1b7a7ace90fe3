package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bonsaipay/internal/domain"
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Get(ctx context.Context, identity string) (domain.AccountRecord, bool, error) {
	if r.db == nil {
		return domain.AccountRecord{}, false, errDBUnavailable
	}
	var model AccountModel
	err := r.db.WithContext(ctx).First(&model, "identity_hash = ?", identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.AccountRecord{}, false, nil
	}
	if err != nil {
		return domain.AccountRecord{}, false, err
	}
	return accountFromModel(model), true, nil
}

// Put upserts the record for rec.Identity. The stored address is immutable;
// a differing address yields domain.ErrAddressConflict.
func (r *AccountRepository) Put(ctx context.Context, rec domain.AccountRecord) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if rec.Identity == "" || !rec.Status.Valid() {
		return fmt.Errorf("%w: incomplete account record", domain.ErrInvalidRequest)
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing AccountModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&existing, "identity_hash = ?", rec.Identity).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			model := accountToModel(rec)
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				return nil
			}
			// Lost an insert race; fall through to the update path.
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				First(&existing, "identity_hash = ?", rec.Identity).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		}
		if common.HexToAddress(existing.Address) != rec.Address {
			return fmt.Errorf("%w: %s already bound to %s", domain.ErrAddressConflict, rec.Identity, existing.Address)
		}
		return tx.Model(&AccountModel{}).
			Where("identity_hash = ?", rec.Identity).
			Updates(map[string]any{
				"status":         string(rec.Status),
				"owner_claim_id": hashBytes(rec.OwnerClaimID),
				"deploy_tx":      hashBytes(rec.DeployTx),
				"fund_tx":        hashBytes(rec.FundTx),
				"owner_tx":       hashBytes(rec.OwnerTx),
				"updated_at":     rec.UpdatedAt.UTC(),
			}).Error
	})
}

func (r *AccountRepository) Count(ctx context.Context) (int64, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	var n int64
	err := r.db.WithContext(ctx).Model(&AccountModel{}).Count(&n).Error
	return n, err
}

func accountToModel(rec domain.AccountRecord) AccountModel {
	return AccountModel{
		IdentityHash: rec.Identity,
		Address:      rec.Address.Hex(),
		Status:       string(rec.Status),
		OwnerClaimID: hashBytes(rec.OwnerClaimID),
		DeployTx:     hashBytes(rec.DeployTx),
		FundTx:       hashBytes(rec.FundTx),
		OwnerTx:      hashBytes(rec.OwnerTx),
		CreatedAt:    rec.CreatedAt.UTC(),
		UpdatedAt:    rec.UpdatedAt.UTC(),
	}
}

func accountFromModel(m AccountModel) domain.AccountRecord {
	return domain.AccountRecord{
		Identity:     m.IdentityHash,
		Address:      common.HexToAddress(m.Address),
		Status:       domain.AccountStatus(m.Status),
		OwnerClaimID: bytesHash(m.OwnerClaimID),
		DeployTx:     bytesHash(m.DeployTx),
		FundTx:       bytesHash(m.FundTx),
		OwnerTx:      bytesHash(m.OwnerTx),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

var _ domain.AccountStore = (*AccountRepository)(nil)
