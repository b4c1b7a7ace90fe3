package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Receipt is the mined result of a submitted transaction.
type Receipt struct {
	TxHash          common.Hash
	BlockNumber     uint64
	GasUsed         uint64
	ContractAddress common.Address
}

// ChainClient signs and submits transactions from the service wallet and
// waits for them to be mined. A reverted transaction is an error.
type ChainClient interface {
	Deploy(ctx context.Context, bytecode []byte) (Receipt, error)
	Send(ctx context.Context, to common.Address, data []byte, value *big.Int) (Receipt, error)
}

// CalldataEncoder encodes the contract calls used by the pipeline.
type CalldataEncoder interface {
	Claim(to common.Address, claimID, stateDigest common.Hash, seal []byte) ([]byte, error)
	ExecuteCall(to common.Address, claimID, stateDigest common.Hash, seal []byte) ([]byte, error)
	Execute(dest common.Address, value *big.Int, data []byte, claimID, stateDigest common.Hash, seal []byte) ([]byte, error)
	SetOwner(owner common.Hash) ([]byte, error)
}
