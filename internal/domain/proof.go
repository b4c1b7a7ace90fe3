package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// IdentityProviderGoogle is the program input value selecting Google as the
// token issuer. It is the only provider the proving program supports.
const IdentityProviderGoogle uint64 = 0

// ProofArtifact is the output of one proving session. Nothing in it is
// trusted until the chain accepts a transaction carrying it.
type ProofArtifact struct {
	Journal     []byte
	StateDigest common.Hash
	Seal        []byte
}

func (a ProofArtifact) clone() ProofArtifact {
	return ProofArtifact{
		Journal:     cloneBytes(a.Journal),
		StateDigest: a.StateDigest,
		Seal:        cloneBytes(a.Seal),
	}
}

// Claims are the structured public outputs committed by the program.
type Claims struct {
	MsgSender common.Address
	ClaimID   common.Hash
}

type JournalDecoder func(journal []byte) (Claims, error)

// ProvenClaims pairs claims with the artifact they were decoded from. It can
// only be built by ExtractClaims, so claim id, state digest and seal always
// come from the same proving call.
type ProvenClaims struct {
	artifact ProofArtifact
	claims   Claims
}

func ExtractClaims(artifact ProofArtifact, decode JournalDecoder) (ProvenClaims, error) {
	claims, err := decode(artifact.Journal)
	if err != nil {
		if errors.Is(err, ErrJournalMalformed) {
			return ProvenClaims{}, err
		}
		return ProvenClaims{}, fmt.Errorf("%w: %v", ErrJournalMalformed, err)
	}
	return ProvenClaims{artifact: artifact.clone(), claims: claims}, nil
}

func (p ProvenClaims) Claims() Claims {
	return p.claims
}

func (p ProvenClaims) ClaimID() common.Hash {
	return p.claims.ClaimID
}

func (p ProvenClaims) MsgSender() common.Address {
	return p.claims.MsgSender
}

func (p ProvenClaims) StateDigest() common.Hash {
	return p.artifact.StateDigest
}

func (p ProvenClaims) Seal() []byte {
	return cloneBytes(p.artifact.Seal)
}

func (p ProvenClaims) IsZero() bool {
	return p.artifact.Journal == nil && p.claims == (Claims{})
}

// Prover drives an external proving engine. Calls are slow and may block.
type Prover interface {
	Prove(ctx context.Context, programID string, input []byte) (ProofArtifact, error)
}

// InputEncoder produces the deterministic program input for a token.
type InputEncoder func(identityProvider uint64, jwt string) ([]byte, error)

func cloneBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
