package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"
)

// Identity is a principal whose ID token has been verified. It is keyed by
// the token's email claim and never mutated after verification.
type Identity struct {
	Email   string
	Subject string
	Issuer  string
}

// Key is the registry and lock key for the identity. Records are stored
// under the email hash so stores never hold raw emails.
func (i Identity) Key() string {
	return i.Hash()
}

// Hash is the identity form used in logs, metrics and events.
func (i Identity) Hash() string {
	return HashIdentity(i.Email)
}

// ClaimID is the digest binding the identity to on-chain owner assertions.
func (i Identity) ClaimID() common.Hash {
	return ClaimID(i.Email)
}

// ClaimID returns sha256(email), the value the proving program commits to
// in its journal for the same email claim.
func ClaimID(email string) common.Hash {
	return common.Hash(sha256.Sum256([]byte(email)))
}

func HashIdentity(email string) string {
	if email == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:])
}

type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}
