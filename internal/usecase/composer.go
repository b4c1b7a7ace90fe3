package usecase

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"bonsaipay/internal/domain"
)

// SubmitRequest carries one action to the composer. Claim id, state digest
// and seal are read from Proof only.
type SubmitRequest struct {
	RequestID    string
	IdentityHash string
	Action       domain.Action
	Proof        domain.ProvenClaims
	Account      common.Address
	Destination  common.Address
	Value        *big.Int
	Calldata     []byte
}

// Composer selects the contract call for an action, binds the proof to it
// and submits it. Submissions are never retried here.
type Composer struct {
	Chain       domain.ChainClient
	Encoder     domain.CalldataEncoder
	Contract    common.Address
	Submissions domain.SubmissionLog
	Metrics     Metrics
	Clock       Clock
	Logger      *zap.Logger
}

func (c *Composer) Submit(ctx context.Context, req SubmitRequest) (domain.Receipt, error) {
	if !req.Action.Proves() {
		return domain.Receipt{}, fmt.Errorf("%w: %s is not a proof-bound action", domain.ErrInvalidRequest, req.Action)
	}
	if req.Proof.IsZero() {
		return domain.Receipt{}, fmt.Errorf("%w: submission without proof", domain.ErrInvalidRequest)
	}
	to, data, err := c.compose(req)
	if err != nil {
		return domain.Receipt{}, err
	}

	start := time.Now()
	// Value moved by execute comes out of the account contract, not the tx.
	receipt, err := c.Chain.Send(ctx, to, data, nil)
	if c.Metrics != nil {
		c.Metrics.StageObserved("submit", time.Since(start), err)
	}
	c.record(ctx, req, to, receipt, err)
	if err != nil {
		return receipt, &domain.SubmitError{Action: req.Action, TxHash: receipt.TxHash, Err: err}
	}
	c.logger().Info("transaction submitted",
		zap.String("request_id", req.RequestID),
		zap.String("action", string(req.Action)),
		zap.String("to", to.Hex()),
		zap.String("tx_hash", receipt.TxHash.Hex()),
		zap.Uint64("block", receipt.BlockNumber),
	)
	return receipt, nil
}

func (c *Composer) compose(req SubmitRequest) (common.Address, []byte, error) {
	proof := req.Proof
	var (
		to   common.Address
		data []byte
		err  error
	)
	switch req.Action {
	case domain.ActionClaim:
		to = c.Contract
		data, err = c.Encoder.Claim(proof.MsgSender(), proof.ClaimID(), proof.StateDigest(), proof.Seal())
	case domain.ActionExecuteCall:
		if req.Destination == (common.Address{}) {
			return common.Address{}, nil, fmt.Errorf("%w: execute_call needs a destination", domain.ErrInvalidRequest)
		}
		to = c.Contract
		data, err = c.Encoder.ExecuteCall(req.Destination, proof.ClaimID(), proof.StateDigest(), proof.Seal())
	case domain.ActionExecute:
		if req.Account == (common.Address{}) {
			return common.Address{}, nil, fmt.Errorf("%w: execute needs an account", domain.ErrAccountNotFound)
		}
		if req.Destination == (common.Address{}) {
			return common.Address{}, nil, fmt.Errorf("%w: execute needs a destination", domain.ErrInvalidRequest)
		}
		to = req.Account
		data, err = c.Encoder.Execute(req.Destination, req.Value, req.Calldata, proof.ClaimID(), proof.StateDigest(), proof.Seal())
	default:
		return common.Address{}, nil, fmt.Errorf("%w: unsupported action %q", domain.ErrInvalidRequest, req.Action)
	}
	if err != nil {
		return common.Address{}, nil, err
	}
	return to, data, nil
}

func (c *Composer) record(ctx context.Context, req SubmitRequest, to common.Address, receipt domain.Receipt, cause error) {
	if c.Submissions == nil {
		return
	}
	rec := domain.SubmissionRecord{
		RequestID:    req.RequestID,
		IdentityHash: req.IdentityHash,
		Action:       req.Action,
		Target:       to,
		ClaimID:      req.Proof.ClaimID(),
		TxHash:       receipt.TxHash,
		Status:       domain.SubmissionStatusMined,
		CreatedAt:    nowFrom(c.Clock),
	}
	if cause != nil {
		rec.Status = domain.SubmissionStatusFailed
		rec.ErrorCode = domain.ErrorCode(&domain.SubmitError{Err: cause})
	}
	if err := c.Submissions.Append(ctx, rec); err != nil {
		c.logger().Warn("submission log append failed", zap.String("request_id", req.RequestID), zap.Error(err))
	}
}

func (c *Composer) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
