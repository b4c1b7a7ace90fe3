package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	SubmissionStatusMined  = "mined"
	SubmissionStatusFailed = "failed"
)

// SubmissionRecord is an append-only entry for every transaction the
// service attempted on behalf of an identity.
type SubmissionRecord struct {
	RequestID    string
	IdentityHash string
	Action       Action
	Target       common.Address
	ClaimID      common.Hash
	TxHash       common.Hash
	Status       string
	ErrorCode    string
	CreatedAt    time.Time
}

type SubmissionLog interface {
	Append(ctx context.Context, rec SubmissionRecord) error
	ListByIdentity(ctx context.Context, identityHash string) ([]SubmissionRecord, error)
}
