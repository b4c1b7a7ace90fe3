package usecase

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"bonsaipay/internal/domain"
)

// Pipeline wires the request flows: verify the token, gate it with policy,
// then run proving and chain work on the coordinator.
//
// The pipeline submits; it does not authorize. Decoded journal claims are
// only checked against the verified identity so obviously mismatched proofs
// fail early. The contracts verify the seal and are the real trust boundary.
type Pipeline struct {
	Verifier       domain.IdentityVerifier
	Policy         domain.PolicyEvaluator
	AllowedDomains []string
	Prover         domain.Prover
	ImageID        string
	EncodeInput    domain.InputEncoder
	DecodeJournal  domain.JournalDecoder
	Registry       *Registry
	Composer       *Composer
	Coordinator    *Coordinator
	ExecuteValue   *big.Int
	ProverTimeout  time.Duration
	Metrics        Metrics
	Logger         *zap.Logger
}

// ExecuteParams are the caller supplied inputs to Execute. A nil
// Destination sends to the proof's msg_sender; a supplied one, zero address
// included, is passed to policy as is.
type ExecuteParams struct {
	Destination *common.Address
	Value       *big.Int
	Calldata    []byte
}

// Deploy provisions the identity's account, or returns the existing one.
func (p *Pipeline) Deploy(ctx context.Context, token string) (domain.ActionResult, error) {
	req := p.Coordinator.Begin(domain.ActionDeploy)
	identity, err := p.admit(ctx, req, token, "", "")
	if err != nil {
		return domain.ActionResult{}, err
	}
	return p.Coordinator.Dispatch(ctx, req, func(ctx context.Context) (domain.ActionResult, error) {
		rec, err := p.Registry.EnsureDeployed(ctx, identity, identity.ClaimID())
		if err != nil {
			return domain.ActionResult{}, err
		}
		return domain.ActionResult{Action: domain.ActionDeploy, Account: &rec, ClaimID: rec.OwnerClaimID}, nil
	})
}

// Execute proves the token and calls execute on the identity's account
// contract, provisioning the account first if needed.
func (p *Pipeline) Execute(ctx context.Context, token string, params ExecuteParams) (domain.ActionResult, error) {
	req := p.Coordinator.Begin(domain.ActionExecute)
	value := params.Value
	if value == nil {
		value = p.executeValue()
	}
	identity, err := p.admit(ctx, req, token, addressOrEmpty(params.Destination), value.String())
	if err != nil {
		return domain.ActionResult{}, err
	}
	if params.Destination != nil && *params.Destination == (common.Address{}) {
		return domain.ActionResult{}, p.Coordinator.Reject(ctx, req, fmt.Errorf("%w: destination must not be the zero address", domain.ErrInvalidRequest))
	}
	return p.Coordinator.Dispatch(ctx, req, func(ctx context.Context) (domain.ActionResult, error) {
		proof, err := p.prove(ctx, req, identity, token)
		if err != nil {
			return domain.ActionResult{}, err
		}
		rec, err := p.Registry.EnsureDeployed(ctx, identity, proof.ClaimID())
		if err != nil {
			return domain.ActionResult{}, err
		}
		dest := proof.MsgSender()
		if params.Destination != nil {
			dest = *params.Destination
		}
		receipt, err := p.Composer.Submit(ctx, SubmitRequest{
			RequestID:    req.ID,
			IdentityHash: req.IdentityHash,
			Action:       domain.ActionExecute,
			Proof:        proof,
			Account:      rec.Address,
			Destination:  dest,
			Value:        value,
			Calldata:     params.Calldata,
		})
		if err != nil {
			return domain.ActionResult{}, err
		}
		return domain.ActionResult{Action: domain.ActionExecute, Account: &rec, Receipt: &receipt, ClaimID: proof.ClaimID()}, nil
	})
}

// Claim proves the token and claims funds held for the identity to the
// proof's msg_sender.
func (p *Pipeline) Claim(ctx context.Context, token string) (domain.ActionResult, error) {
	req := p.Coordinator.Begin(domain.ActionClaim)
	identity, err := p.admit(ctx, req, token, "", "")
	if err != nil {
		return domain.ActionResult{}, err
	}
	return p.Coordinator.Dispatch(ctx, req, func(ctx context.Context) (domain.ActionResult, error) {
		proof, err := p.prove(ctx, req, identity, token)
		if err != nil {
			return domain.ActionResult{}, err
		}
		receipt, err := p.Composer.Submit(ctx, SubmitRequest{
			RequestID:    req.ID,
			IdentityHash: req.IdentityHash,
			Action:       domain.ActionClaim,
			Proof:        proof,
		})
		if err != nil {
			return domain.ActionResult{}, err
		}
		return domain.ActionResult{Action: domain.ActionClaim, Receipt: &receipt, ClaimID: proof.ClaimID()}, nil
	})
}

// ExecuteCall proves the token and asks the payment contract to execute on
// behalf of the identity toward dest.
func (p *Pipeline) ExecuteCall(ctx context.Context, token string, dest common.Address) (domain.ActionResult, error) {
	req := p.Coordinator.Begin(domain.ActionExecuteCall)
	identity, err := p.admit(ctx, req, token, dest.Hex(), "")
	if err != nil {
		return domain.ActionResult{}, err
	}
	if dest == (common.Address{}) {
		return domain.ActionResult{}, p.Coordinator.Reject(ctx, req, fmt.Errorf("%w: destination address is required", domain.ErrInvalidRequest))
	}
	return p.Coordinator.Dispatch(ctx, req, func(ctx context.Context) (domain.ActionResult, error) {
		proof, err := p.prove(ctx, req, identity, token)
		if err != nil {
			return domain.ActionResult{}, err
		}
		receipt, err := p.Composer.Submit(ctx, SubmitRequest{
			RequestID:    req.ID,
			IdentityHash: req.IdentityHash,
			Action:       domain.ActionExecuteCall,
			Proof:        proof,
			Destination:  dest,
		})
		if err != nil {
			return domain.ActionResult{}, err
		}
		return domain.ActionResult{Action: domain.ActionExecuteCall, Receipt: &receipt, ClaimID: proof.ClaimID()}, nil
	})
}

// Account returns the registered account for the token's identity. It does
// no chain work and never occupies a worker.
func (p *Pipeline) Account(ctx context.Context, token string) (domain.AccountRecord, error) {
	identity, err := p.Verifier.Verify(ctx, token)
	if err != nil {
		return domain.AccountRecord{}, err
	}
	return p.Registry.Require(ctx, identity)
}

// admit runs the cheap checks on the accepting goroutine. Any failure here
// ends the request before a worker is involved.
func (p *Pipeline) admit(ctx context.Context, req *domain.Request, token, destination, valueWei string) (domain.Identity, error) {
	identity, err := p.Verifier.Verify(ctx, token)
	if err != nil {
		return domain.Identity{}, p.Coordinator.Reject(ctx, req, err)
	}
	req.IdentityHash = identity.Hash()
	if err := p.authorize(ctx, req.Action, identity, destination, valueWei); err != nil {
		return domain.Identity{}, p.Coordinator.Reject(ctx, req, err)
	}
	return identity, nil
}

func (p *Pipeline) authorize(ctx context.Context, action domain.Action, identity domain.Identity, destination, valueWei string) error {
	if p.Policy == nil {
		return nil
	}
	input := domain.PolicyInput{
		Action:         action,
		IdentityHash:   identity.Hash(),
		EmailDomain:    emailDomain(identity.Email),
		Issuer:         identity.Issuer,
		Destination:    destination,
		ValueWei:       valueWei,
		AllowedDomains: p.AllowedDomains,
	}
	eval, err := p.Policy.Evaluate(ctx, input)
	if err != nil {
		return fmt.Errorf("policy evaluation: %w", err)
	}
	if !eval.Result.Allow {
		reason := "denied"
		if len(eval.Result.Deny) > 0 {
			reason = eval.Result.Deny[0].Code
		}
		return fmt.Errorf("%w: %s", domain.ErrPolicyDenied, reason)
	}
	return nil
}

// prove runs the proof bridge and decodes the journal. The returned claims
// are tied to the artifact they came from.
func (p *Pipeline) prove(ctx context.Context, req *domain.Request, identity domain.Identity, token string) (domain.ProvenClaims, error) {
	input, err := p.EncodeInput(domain.IdentityProviderGoogle, token)
	if err != nil {
		return domain.ProvenClaims{}, &domain.ProofError{Stage: "input", Err: err}
	}
	if p.ProverTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.ProverTimeout)
		defer cancel()
	}
	start := time.Now()
	artifact, err := p.Prover.Prove(ctx, p.ImageID, input)
	p.metrics().StageObserved("prove", time.Since(start), err)
	if err != nil {
		return domain.ProvenClaims{}, err
	}
	proof, err := domain.ExtractClaims(artifact, p.DecodeJournal)
	if err != nil {
		return domain.ProvenClaims{}, err
	}
	if proof.ClaimID() != identity.ClaimID() {
		return domain.ProvenClaims{}, fmt.Errorf("%w: journal claim %s", domain.ErrClaimMismatch, proof.ClaimID().Hex())
	}
	p.logger().Debug("proof decoded",
		zap.String("request_id", req.ID),
		zap.String("identity_hash", req.IdentityHash),
		zap.String("msg_sender", proof.MsgSender().Hex()),
		zap.String("post_state_digest", proof.StateDigest().Hex()),
	)
	return proof, nil
}

func (p *Pipeline) executeValue() *big.Int {
	if p.ExecuteValue == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(p.ExecuteValue)
}

func (p *Pipeline) metrics() Metrics {
	if p.Metrics == nil {
		return nopMetrics{}
	}
	return p.Metrics
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func emailDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

func addressOrEmpty(addr *common.Address) string {
	if addr == nil {
		return ""
	}
	return addr.Hex()
}
