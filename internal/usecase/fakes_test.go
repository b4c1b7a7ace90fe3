package usecase

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"bonsaipay/internal/domain"
	"bonsaipay/internal/infra/ethabi"
)

type fakeVerifier struct {
	identities map[string]domain.Identity
}

func (v fakeVerifier) Verify(_ context.Context, token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, domain.ErrEmptyToken
	}
	id, ok := v.identities[token]
	if !ok {
		return domain.Identity{}, domain.ErrInvalidToken
	}
	return id, nil
}

type sentTx struct {
	to    common.Address
	data  []byte
	value *big.Int
}

// fakeChain records calls. Hooks run before the call returns, so tests can
// block or fail individual steps.
type fakeChain struct {
	mu       sync.Mutex
	deploys  int
	sends    []sentTx
	next     uint64
	onDeploy func(ctx context.Context) error
	onSend   func(ctx context.Context, to common.Address, data []byte, value *big.Int) error
}

func (c *fakeChain) Deploy(ctx context.Context, bytecode []byte) (domain.Receipt, error) {
	if c.onDeploy != nil {
		if err := c.onDeploy(ctx); err != nil {
			return domain.Receipt{}, err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deploys++
	c.next++
	addr := crypto.CreateAddress(common.HexToAddress("0xfeed"), c.next)
	return domain.Receipt{TxHash: common.BigToHash(new(big.Int).SetUint64(c.next)), ContractAddress: addr}, nil
}

func (c *fakeChain) Send(ctx context.Context, to common.Address, data []byte, value *big.Int) (domain.Receipt, error) {
	if c.onSend != nil {
		if err := c.onSend(ctx, to, data, value); err != nil {
			return domain.Receipt{}, err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, sentTx{to: to, data: append([]byte(nil), data...), value: value})
	c.next++
	return domain.Receipt{TxHash: common.BigToHash(new(big.Int).SetUint64(c.next)), BlockNumber: c.next}, nil
}

func (c *fakeChain) deployCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deploys
}

func (c *fakeChain) sent() []sentTx {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentTx(nil), c.sends...)
}

func (c *fakeChain) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deploys + len(c.sends)
}

// fakeProver returns a fresh artifact per call whose journal commits to the
// email inside the token, mimicking the guest program. Every call gets a
// distinct digest and seal so stitched triples are detectable.
type fakeProver struct {
	calls     atomic.Int32
	sender    common.Address
	claimFor  func(input []byte) common.Hash
	err       error
	journal   []byte
	lastInput []byte
	mu        sync.Mutex
}

func (p *fakeProver) Prove(_ context.Context, _ string, input []byte) (domain.ProofArtifact, error) {
	n := p.calls.Add(1)
	if p.err != nil {
		return domain.ProofArtifact{}, p.err
	}
	p.mu.Lock()
	p.lastInput = input
	p.mu.Unlock()
	journal := p.journal
	if journal == nil {
		var err error
		journal, err = ethabi.EncodeClaims(domain.Claims{MsgSender: p.sender, ClaimID: p.claimFor(input)})
		if err != nil {
			return domain.ProofArtifact{}, err
		}
	}
	return domain.ProofArtifact{
		Journal:     journal,
		StateDigest: common.BigToHash(big.NewInt(int64(1000 + n))),
		Seal:        []byte{byte(n), 0xaa, 0xbb},
	}, nil
}

var errBoom = errors.New("boom")
