package db

import "time"

type AccountModel struct {
	IdentityHash string    `gorm:"primaryKey;size:64"`
	Address      string    `gorm:"uniqueIndex;size:42;not null"`
	Status       string    `gorm:"not null"`
	OwnerClaimID []byte    `gorm:"type:bytea"`
	DeployTx     []byte    `gorm:"type:bytea"`
	FundTx       []byte    `gorm:"type:bytea"`
	OwnerTx      []byte    `gorm:"type:bytea"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (AccountModel) TableName() string { return "accounts" }

type SubmissionModel struct {
	ID           string    `gorm:"type:uuid;primaryKey"`
	RequestID    string    `gorm:"index;not null"`
	IdentityHash string    `gorm:"index;size:64;not null"`
	Action       string    `gorm:"not null"`
	Target       string    `gorm:"size:42;not null"`
	ClaimID      []byte    `gorm:"type:bytea"`
	TxHash       []byte    `gorm:"type:bytea"`
	Status       string    `gorm:"not null"`
	ErrorCode    string
	CreatedAt    time.Time `gorm:"index;not null"`
}

func (SubmissionModel) TableName() string { return "submissions" }
