package ethabi

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const bonsaiPayABI = `[
  {"type":"function","name":"claim","stateMutability":"nonpayable","inputs":[
    {"name":"to","type":"address"},
    {"name":"claim_id","type":"bytes32"},
    {"name":"post_state_digest","type":"bytes32"},
    {"name":"seal","type":"bytes"}],"outputs":[]},
  {"type":"function","name":"executeCall","stateMutability":"nonpayable","inputs":[
    {"name":"_to","type":"address"},
    {"name":"claim_id","type":"bytes32"},
    {"name":"post_state_digest","type":"bytes32"},
    {"name":"seal","type":"bytes"}],"outputs":[]}
]`

const accountABI = `[
  {"type":"function","name":"execute","stateMutability":"nonpayable","inputs":[
    {"name":"dest","type":"address"},
    {"name":"value","type":"uint256"},
    {"name":"func","type":"bytes"},
    {"name":"claim_id","type":"bytes32"},
    {"name":"post_state_digest","type":"bytes32"},
    {"name":"seal","type":"bytes"}],"outputs":[]},
  {"type":"function","name":"setOwner","stateMutability":"nonpayable","inputs":[
    {"name":"_owner","type":"bytes32"}],"outputs":[]}
]`

// Encoder builds calldata for the payment contract and the per-identity
// account contract.
type Encoder struct {
	payment abi.ABI
	account abi.ABI
}

func NewEncoder() (*Encoder, error) {
	payment, err := abi.JSON(strings.NewReader(bonsaiPayABI))
	if err != nil {
		return nil, fmt.Errorf("parse payment abi: %w", err)
	}
	account, err := abi.JSON(strings.NewReader(accountABI))
	if err != nil {
		return nil, fmt.Errorf("parse account abi: %w", err)
	}
	return &Encoder{payment: payment, account: account}, nil
}

func (e *Encoder) Claim(to common.Address, claimID, stateDigest common.Hash, seal []byte) ([]byte, error) {
	return e.pack(e.payment, "claim", to, [32]byte(claimID), [32]byte(stateDigest), nonNil(seal))
}

func (e *Encoder) ExecuteCall(to common.Address, claimID, stateDigest common.Hash, seal []byte) ([]byte, error) {
	return e.pack(e.payment, "executeCall", to, [32]byte(claimID), [32]byte(stateDigest), nonNil(seal))
}

func (e *Encoder) Execute(dest common.Address, value *big.Int, data []byte, claimID, stateDigest common.Hash, seal []byte) ([]byte, error) {
	if value == nil {
		value = new(big.Int)
	}
	return e.pack(e.account, "execute", dest, value, nonNil(data), [32]byte(claimID), [32]byte(stateDigest), nonNil(seal))
}

func (e *Encoder) SetOwner(owner common.Hash) ([]byte, error) {
	return e.pack(e.account, "setOwner", [32]byte(owner))
}

func (e *Encoder) pack(contract abi.ABI, method string, args ...any) ([]byte, error) {
	out, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	return out, nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
