package db

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"bonsaipay/internal/domain"
)

// SubmissionRepository is the append-only transaction log.
type SubmissionRepository struct {
	db *gorm.DB
}

func NewSubmissionRepository(db *gorm.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

func (r *SubmissionRepository) Append(ctx context.Context, rec domain.SubmissionRecord) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if rec.IdentityHash == "" || rec.Action == "" {
		return errors.New("identity_hash and action are required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	model := SubmissionModel{
		ID:           uuid.NewString(),
		RequestID:    rec.RequestID,
		IdentityHash: rec.IdentityHash,
		Action:       string(rec.Action),
		Target:       rec.Target.Hex(),
		ClaimID:      hashBytes(rec.ClaimID),
		TxHash:       hashBytes(rec.TxHash),
		Status:       rec.Status,
		ErrorCode:    rec.ErrorCode,
		CreatedAt:    rec.CreatedAt.UTC().Truncate(time.Microsecond),
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *SubmissionRepository) ListByIdentity(ctx context.Context, identityHash string) ([]domain.SubmissionRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []SubmissionModel
	if err := r.db.WithContext(ctx).
		Where("identity_hash = ?", identityHash).
		Order("created_at ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.SubmissionRecord, 0, len(models))
	for _, m := range models {
		out = append(out, domain.SubmissionRecord{
			RequestID:    m.RequestID,
			IdentityHash: m.IdentityHash,
			Action:       domain.Action(m.Action),
			Target:       common.HexToAddress(m.Target),
			ClaimID:      bytesHash(m.ClaimID),
			TxHash:       bytesHash(m.TxHash),
			Status:       m.Status,
			ErrorCode:    m.ErrorCode,
			CreatedAt:    m.CreatedAt,
		})
	}
	return out, nil
}

var _ domain.SubmissionLog = (*SubmissionRepository)(nil)
