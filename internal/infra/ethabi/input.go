// Package ethabi holds the Solidity ABI encodings shared by the prover input,
// the proof journal and the contract calls.
package ethabi

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"bonsaipay/internal/domain"
)

var (
	inputArgs  abi.Arguments
	claimsArgs abi.Arguments
	sealArgs   abi.Arguments
)

func init() {
	inputTuple := mustType("tuple", []abi.ArgumentMarshaling{
		{Name: "identity_provider", Type: "uint256"},
		{Name: "jwt", Type: "string"},
	})
	inputArgs = abi.Arguments{{Name: "input", Type: inputTuple}}

	claimsArgs = abi.Arguments{
		{Name: "msg_sender", Type: mustType("address", nil)},
		{Name: "claim_id", Type: mustType("bytes32", nil)},
	}

	sealArgs = abi.Arguments{
		{Name: "a", Type: mustType("uint256[2]", nil)},
		{Name: "b", Type: mustType("uint256[2][2]", nil)},
		{Name: "c", Type: mustType("uint256[2]", nil)},
	}
}

func mustType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(fmt.Sprintf("ethabi: bad type %s: %v", t, err))
	}
	return typ
}

type programInput struct {
	IdentityProvider *big.Int `abi:"identity_provider"`
	Jwt              string   `abi:"jwt"`
}

// EncodeInput produces abi.encode(Input{identity_provider, jwt}), the exact
// bytes the guest program decodes.
func EncodeInput(identityProvider uint64, jwt string) ([]byte, error) {
	if jwt == "" {
		return nil, domain.ErrEmptyToken
	}
	out, err := inputArgs.Pack(programInput{
		IdentityProvider: new(big.Int).SetUint64(identityProvider),
		Jwt:              jwt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}
	return out, nil
}

const claimsLen = 64

// DecodeClaims decodes a journal committed as abi.encode(ClaimsData). Extra
// bytes or a dirty address word are rejected.
func DecodeClaims(journal []byte) (domain.Claims, error) {
	if len(journal) != claimsLen {
		return domain.Claims{}, fmt.Errorf("%w: journal is %d bytes, want %d", domain.ErrJournalMalformed, len(journal), claimsLen)
	}
	for _, b := range journal[:12] {
		if b != 0 {
			return domain.Claims{}, fmt.Errorf("%w: address word has non-zero padding", domain.ErrJournalMalformed)
		}
	}
	values, err := claimsArgs.Unpack(journal)
	if err != nil {
		return domain.Claims{}, fmt.Errorf("%w: %v", domain.ErrJournalMalformed, err)
	}
	if len(values) != 2 {
		return domain.Claims{}, fmt.Errorf("%w: unexpected field count %d", domain.ErrJournalMalformed, len(values))
	}
	sender, ok := values[0].(common.Address)
	if !ok {
		return domain.Claims{}, errors.Join(domain.ErrJournalMalformed, errors.New("msg_sender is not an address"))
	}
	claimID, ok := values[1].([32]byte)
	if !ok {
		return domain.Claims{}, errors.Join(domain.ErrJournalMalformed, errors.New("claim_id is not bytes32"))
	}
	return domain.Claims{MsgSender: sender, ClaimID: common.Hash(claimID)}, nil
}

// EncodeClaims is the inverse of DecodeClaims. The service never produces
// journals itself; this is used by fakes and the CLI.
func EncodeClaims(c domain.Claims) ([]byte, error) {
	return claimsArgs.Pack(c.MsgSender, [32]byte(c.ClaimID))
}

// EncodeGroth16Seal packs the snark points the way the on-chain verifier
// expects them: abi.encode(uint256[2] a, uint256[2][2] b, uint256[2] c).
func EncodeGroth16Seal(a [2]*big.Int, b [2][2]*big.Int, c [2]*big.Int) ([]byte, error) {
	for _, v := range []*big.Int{a[0], a[1], b[0][0], b[0][1], b[1][0], b[1][1], c[0], c[1]} {
		if v == nil || v.Sign() < 0 || v.BitLen() > 256 {
			return nil, errors.New("encode seal: point out of range")
		}
	}
	out, err := sealArgs.Pack(a, b, c)
	if err != nil {
		return nil, fmt.Errorf("encode seal: %w", err)
	}
	return out, nil
}
