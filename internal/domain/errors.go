package domain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrEmptyToken       = errors.New("empty token")
	ErrInvalidToken     = errors.New("invalid token")
	ErrProofFailed      = errors.New("proof failed")
	ErrJournalMalformed = errors.New("journal malformed")
	ErrClaimMismatch    = errors.New("claim id does not match identity")
	ErrDeployFailed     = errors.New("deploy failed")
	ErrChainRejected    = errors.New("chain rejected transaction")
	ErrAccountNotFound  = errors.New("account not found")
	ErrPolicyDenied     = errors.New("policy denied")
	ErrOverloaded       = errors.New("overloaded")
	ErrTimeout          = errors.New("request timed out")
	ErrAbandoned        = errors.New("request abandoned")
	ErrInvalidRequest   = errors.New("invalid request")

	// ErrAddressConflict is returned by account stores asked to rebind an
	// identity to a different address.
	ErrAddressConflict = errors.New("account address conflict")
)

// ProofError wraps a failure from the proving service. Status is the last
// session or snark status seen, if any.
type ProofError struct {
	Stage  string
	Status string
	Err    error
}

func (e *ProofError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("proof %s: status %s: %v", e.Stage, e.Status, e.Err)
	}
	return fmt.Sprintf("proof %s: %v", e.Stage, e.Err)
}

func (e *ProofError) Unwrap() []error { return []error{ErrProofFailed, e.Err} }

type DeployStage string

const (
	DeployStageDeploy   DeployStage = "deploy"
	DeployStageFund     DeployStage = "fund"
	DeployStageSetOwner DeployStage = "set_owner"
)

// DeployError reports which provisioning stage failed. Address is set once
// the contract exists on chain.
type DeployError struct {
	Stage   DeployStage
	Address common.Address
	Err     error
}

func (e *DeployError) Error() string {
	if e.Address != (common.Address{}) {
		return fmt.Sprintf("deploy %s (%s): %v", e.Stage, e.Address.Hex(), e.Err)
	}
	return fmt.Sprintf("deploy %s: %v", e.Stage, e.Err)
}

func (e *DeployError) Unwrap() []error { return []error{ErrDeployFailed, e.Err} }

type SubmitError struct {
	Action Action
	TxHash common.Hash
	Err    error
}

func (e *SubmitError) Error() string {
	if e.TxHash != (common.Hash{}) {
		return fmt.Sprintf("submit %s tx %s: %v", e.Action, e.TxHash.Hex(), e.Err)
	}
	return fmt.Sprintf("submit %s: %v", e.Action, e.Err)
}

func (e *SubmitError) Unwrap() []error { return []error{ErrChainRejected, e.Err} }

// ErrorCode maps an error to the stable code used in responses, logs and events.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyToken):
		return "empty_token"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrPolicyDenied):
		return "policy_denied"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrOverloaded):
		return "overloaded"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrAbandoned):
		return "abandoned"
	case errors.Is(err, ErrClaimMismatch):
		return "claim_mismatch"
	case errors.Is(err, ErrJournalMalformed):
		return "journal_malformed"
	case errors.Is(err, ErrProofFailed):
		return "proof_failed"
	case errors.Is(err, ErrDeployFailed):
		return "deploy_failed"
	case errors.Is(err, ErrChainRejected):
		return "chain_rejected"
	default:
		return "internal_error"
	}
}
