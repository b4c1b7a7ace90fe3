package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"bonsaipay/internal/domain"
)

// Registry owns the identity to account binding. Provisioning for one
// identity is serialized by a per-identity lock; different identities never
// wait on each other.
//
// Provisioning is deploy, fund, set owner. The record is persisted after
// each step, so a request that finds a record short of ready resumes from
// the recorded stage instead of deploying a second contract. A contract
// whose record could not be written is recovered from the in-process
// pending set or the submission log before anything is deployed again.
type Registry struct {
	Store       domain.AccountStore
	Chain       domain.ChainClient
	Encoder     domain.CalldataEncoder
	Submissions domain.SubmissionLog
	Bytecode    []byte
	Funding     *big.Int
	Locks       *KeyedLocker
	Events      *EventEmitter
	Metrics     Metrics
	Clock       Clock
	Logger      *zap.Logger

	pendingMu sync.Mutex
	pending   map[string]domain.AccountRecord
}

func NewRegistry(store domain.AccountStore, chain domain.ChainClient, encoder domain.CalldataEncoder, bytecode []byte, funding *big.Int) *Registry {
	return &Registry{
		Store:    store,
		Chain:    chain,
		Encoder:  encoder,
		Bytecode: bytecode,
		Funding:  funding,
		Locks:    NewKeyedLocker(),
	}
}

// Lookup reads the record without taking the identity lock.
func (r *Registry) Lookup(ctx context.Context, identity domain.Identity) (domain.AccountRecord, bool, error) {
	return r.Store.Get(ctx, identity.Key())
}

func (r *Registry) Require(ctx context.Context, identity domain.Identity) (domain.AccountRecord, error) {
	rec, ok, err := r.Lookup(ctx, identity)
	if err != nil {
		return domain.AccountRecord{}, err
	}
	if !ok {
		return domain.AccountRecord{}, domain.ErrAccountNotFound
	}
	return rec, nil
}

// EnsureDeployed returns the identity's ready account, provisioning or
// finishing it first when needed. The account_deployed event is emitted
// after the identity lock is released.
func (r *Registry) EnsureDeployed(ctx context.Context, identity domain.Identity, owner common.Hash) (domain.AccountRecord, error) {
	key := identity.Key()
	if rec, ok, err := r.Store.Get(ctx, key); err != nil {
		return domain.AccountRecord{}, err
	} else if ok && rec.Ready() {
		return rec, nil
	}

	rec, provisioned, err := r.provision(ctx, key, owner)
	if err != nil {
		return domain.AccountRecord{}, err
	}
	if provisioned && r.Events != nil {
		r.Events.EmitAccountDeployed(ctx, rec)
	}
	return rec, nil
}

// provision runs under the identity lock. provisioned is false when another
// request finished the account while this one waited.
func (r *Registry) provision(ctx context.Context, key string, owner common.Hash) (rec domain.AccountRecord, provisioned bool, err error) {
	unlock, err := r.Locks.Lock(ctx, key)
	if err != nil {
		return domain.AccountRecord{}, false, err
	}
	defer unlock()

	rec, ok, err := r.Store.Get(ctx, key)
	if err != nil {
		return domain.AccountRecord{}, false, err
	}
	if ok && rec.Ready() {
		return rec, false, nil
	}
	logger := r.logger().With(zap.String("identity_hash", key))

	if !ok {
		if rec, ok, err = r.recoverDeployed(ctx, key); err != nil {
			return domain.AccountRecord{}, false, err
		}
		if ok {
			if rec, err = r.persistNew(ctx, rec); err != nil {
				return domain.AccountRecord{}, false, &domain.DeployError{Stage: domain.DeployStageDeploy, Address: rec.Address, Err: err}
			}
			r.clearPending(key)
			logger.Info("recovered unrecorded account", zap.String("account", rec.Address.Hex()))
		}
	}
	if !ok {
		rec, err = r.deploy(ctx, key, owner)
		if err != nil {
			return domain.AccountRecord{}, false, err
		}
		logger.Info("account deployed", zap.String("account", rec.Address.Hex()), zap.String("tx_hash", rec.DeployTx.Hex()))
	} else {
		logger.Info("resuming account provisioning", zap.String("account", rec.Address.Hex()), zap.String("status", string(rec.Status)))
	}

	if rec.Status == domain.AccountStatusDeployed {
		if rec, err = r.fund(ctx, rec); err != nil {
			logger.Warn("account funding failed", zap.String("account", rec.Address.Hex()), zap.Error(err))
			return domain.AccountRecord{}, false, err
		}
	}
	if rec.Status == domain.AccountStatusFunded {
		if rec, err = r.setOwner(ctx, rec); err != nil {
			logger.Warn("account set owner failed", zap.String("account", rec.Address.Hex()), zap.Error(err))
			return domain.AccountRecord{}, false, err
		}
	}
	if !rec.Ready() {
		return domain.AccountRecord{}, false, fmt.Errorf("account %s left in unexpected status %q", rec.Address.Hex(), rec.Status)
	}
	logger.Info("account ready", zap.String("account", rec.Address.Hex()))
	return rec, true, nil
}

func (r *Registry) deploy(ctx context.Context, key string, owner common.Hash) (domain.AccountRecord, error) {
	start := time.Now()
	receipt, err := r.Chain.Deploy(ctx, r.Bytecode)
	r.metrics().StageObserved("deploy", time.Since(start), err)
	r.appendSubmission(ctx, key, domain.ActionDeploy, receipt.ContractAddress, receipt, owner, err)
	if err != nil {
		return domain.AccountRecord{}, &domain.DeployError{Stage: domain.DeployStageDeploy, Err: err}
	}
	now := nowFrom(r.Clock)
	rec := domain.AccountRecord{
		Identity:     key,
		Address:      receipt.ContractAddress,
		Status:       domain.AccountStatusDeployed,
		OwnerClaimID: owner,
		DeployTx:     receipt.TxHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	// Persist before anything else so the address is never lost.
	stored, err := r.persistNew(ctx, rec)
	if err != nil {
		r.setPending(key, rec)
		return domain.AccountRecord{}, &domain.DeployError{Stage: domain.DeployStageDeploy, Address: rec.Address, Err: err}
	}
	r.metrics().AccountProvisioned(stored.Status)
	return stored, nil
}

// persistNew writes a freshly deployed record. When another writer, such as
// a second replica, bound the identity first, its record wins and the
// contract in rec is left orphaned.
func (r *Registry) persistNew(ctx context.Context, rec domain.AccountRecord) (domain.AccountRecord, error) {
	err := r.Store.Put(ctx, rec)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, domain.ErrAddressConflict) {
		return rec, err
	}
	stored, ok, getErr := r.Store.Get(ctx, rec.Identity)
	if getErr != nil || !ok {
		return rec, err
	}
	r.logger().Warn("identity already bound, adopting stored account",
		zap.String("identity_hash", rec.Identity),
		zap.String("account", stored.Address.Hex()),
		zap.String("orphaned_account", rec.Address.Hex()),
	)
	return stored, nil
}

func (r *Registry) fund(ctx context.Context, rec domain.AccountRecord) (domain.AccountRecord, error) {
	start := time.Now()
	receipt, err := r.Chain.Send(ctx, rec.Address, nil, r.funding())
	r.metrics().StageObserved("fund", time.Since(start), err)
	r.appendSubmission(ctx, rec.Identity, domain.ActionFund, rec.Address, receipt, rec.OwnerClaimID, err)
	if err != nil {
		return rec, &domain.DeployError{Stage: domain.DeployStageFund, Address: rec.Address, Err: err}
	}
	rec.Status = domain.AccountStatusFunded
	rec.FundTx = receipt.TxHash
	return r.advance(ctx, rec, domain.DeployStageFund)
}

func (r *Registry) setOwner(ctx context.Context, rec domain.AccountRecord) (domain.AccountRecord, error) {
	data, err := r.Encoder.SetOwner(rec.OwnerClaimID)
	if err != nil {
		return rec, &domain.DeployError{Stage: domain.DeployStageSetOwner, Address: rec.Address, Err: err}
	}
	start := time.Now()
	receipt, err := r.Chain.Send(ctx, rec.Address, data, nil)
	r.metrics().StageObserved("set_owner", time.Since(start), err)
	r.appendSubmission(ctx, rec.Identity, domain.ActionSetOwner, rec.Address, receipt, rec.OwnerClaimID, err)
	if err != nil {
		return rec, &domain.DeployError{Stage: domain.DeployStageSetOwner, Address: rec.Address, Err: err}
	}
	rec.Status = domain.AccountStatusReady
	rec.OwnerTx = receipt.TxHash
	return r.advance(ctx, rec, domain.DeployStageSetOwner)
}

func (r *Registry) advance(ctx context.Context, rec domain.AccountRecord, stage domain.DeployStage) (domain.AccountRecord, error) {
	rec.UpdatedAt = nowFrom(r.Clock)
	if err := r.Store.Put(ctx, rec); err != nil {
		return rec, &domain.DeployError{Stage: stage, Address: rec.Address, Err: err}
	}
	r.metrics().AccountProvisioned(rec.Status)
	return rec, nil
}

func (r *Registry) appendSubmission(ctx context.Context, key string, action domain.Action, target common.Address, receipt domain.Receipt, claimID common.Hash, cause error) {
	if r.Submissions == nil {
		return
	}
	rec := domain.SubmissionRecord{
		IdentityHash: key,
		Action:       action,
		Target:       target,
		ClaimID:      claimID,
		TxHash:       receipt.TxHash,
		Status:       domain.SubmissionStatusMined,
		CreatedAt:    nowFrom(r.Clock),
	}
	if cause != nil {
		rec.Status = domain.SubmissionStatusFailed
		rec.ErrorCode = domain.ErrorCode(&domain.DeployError{Err: cause})
	}
	if err := r.Submissions.Append(ctx, rec); err != nil {
		r.logger().Warn("submission log append failed", zap.String("identity_hash", key), zap.Error(err))
	}
}

// recoverDeployed finds a contract deployed for key whose record was never
// written.
func (r *Registry) recoverDeployed(ctx context.Context, key string) (domain.AccountRecord, bool, error) {
	r.pendingMu.Lock()
	rec, ok := r.pending[key]
	r.pendingMu.Unlock()
	if ok {
		return rec, true, nil
	}
	if r.Submissions == nil {
		return domain.AccountRecord{}, false, nil
	}
	subs, err := r.Submissions.ListByIdentity(ctx, key)
	if err != nil {
		return domain.AccountRecord{}, false, fmt.Errorf("read submission log: %w", err)
	}
	for i := len(subs) - 1; i >= 0; i-- {
		s := subs[i]
		if s.Action != domain.ActionDeploy || s.Status != domain.SubmissionStatusMined || s.Target == (common.Address{}) {
			continue
		}
		return domain.AccountRecord{
			Identity:     key,
			Address:      s.Target,
			Status:       domain.AccountStatusDeployed,
			OwnerClaimID: s.ClaimID,
			DeployTx:     s.TxHash,
			CreatedAt:    s.CreatedAt,
			UpdatedAt:    nowFrom(r.Clock),
		}, true, nil
	}
	return domain.AccountRecord{}, false, nil
}

func (r *Registry) setPending(key string, rec domain.AccountRecord) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	if r.pending == nil {
		r.pending = map[string]domain.AccountRecord{}
	}
	r.pending[key] = rec
}

func (r *Registry) clearPending(key string) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	delete(r.pending, key)
}

func (r *Registry) funding() *big.Int {
	if r.Funding == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(r.Funding)
}

func (r *Registry) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Registry) metrics() Metrics {
	if r.Metrics == nil {
		return nopMetrics{}
	}
	return r.Metrics
}
