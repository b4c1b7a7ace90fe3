// Package chain is the single signing client the service uses to deploy
// account contracts and submit transactions.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"bonsaipay/internal/domain"
)

var (
	ErrReverted       = errors.New("transaction reverted")
	ErrReceiptTimeout = errors.New("timed out waiting for receipt")
)

const (
	defaultPollInterval   = time.Second
	defaultReceiptTimeout = 2 * time.Minute
	gasMarginPercent      = 20
)

// Backend is the part of ethclient.Client the signer needs.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type Options struct {
	PollInterval   time.Duration
	ReceiptTimeout time.Duration
}

type Client struct {
	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	signer  types.Signer
	opts    Options
	logger  *zap.Logger

	mu        sync.Mutex
	nonce     uint64
	nonceInit bool
}

// Dial connects to rpcURL and returns a client signing with privateKeyHex.
func Dial(ctx context.Context, rpcURL string, chainID uint64, privateKeyHex string, opts Options, logger *zap.Logger) (*Client, func(), error) {
	rpc, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rpc: %w", err)
	}
	client, err := NewClient(rpc, chainID, privateKeyHex, opts, logger)
	if err != nil {
		rpc.Close()
		return nil, nil, err
	}
	return client, rpc.Close, nil
}

func NewClient(backend Backend, chainID uint64, privateKeyHex string, opts Options, logger *zap.Logger) (*Client, error) {
	if backend == nil {
		return nil, errors.New("chain backend is required")
	}
	if chainID == 0 {
		return nil, errors.New("chain id is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse wallet key: %w", err)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = defaultReceiptTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	id := new(big.Int).SetUint64(chainID)
	return &Client{
		backend: backend,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: id,
		signer:  types.LatestSignerForChainID(id),
		opts:    opts,
		logger:  logger,
	}, nil
}

func (c *Client) From() common.Address {
	return c.from
}

// Deploy sends a contract creation transaction and waits for the address.
func (c *Client) Deploy(ctx context.Context, bytecode []byte) (domain.Receipt, error) {
	if len(bytecode) == 0 {
		return domain.Receipt{}, errors.New("empty contract bytecode")
	}
	receipt, err := c.transact(ctx, nil, bytecode, nil)
	if err != nil {
		return receipt, err
	}
	if receipt.ContractAddress == (common.Address{}) {
		return receipt, errors.New("deploy receipt has no contract address")
	}
	return receipt, nil
}

func (c *Client) Send(ctx context.Context, to common.Address, data []byte, value *big.Int) (domain.Receipt, error) {
	return c.transact(ctx, &to, data, value)
}

func (c *Client) transact(ctx context.Context, to *common.Address, data []byte, value *big.Int) (domain.Receipt, error) {
	if value == nil {
		value = new(big.Int)
	}
	tx, err := c.signAndSend(ctx, to, data, value)
	if err != nil {
		return domain.Receipt{}, err
	}
	receipt, err := c.waitMined(ctx, tx.Hash())
	if err != nil {
		return domain.Receipt{TxHash: tx.Hash()}, err
	}
	out := domain.Receipt{
		TxHash:          receipt.TxHash,
		GasUsed:         receipt.GasUsed,
		ContractAddress: receipt.ContractAddress,
	}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return out, fmt.Errorf("%w: tx %s", ErrReverted, receipt.TxHash.Hex())
	}
	c.logger.Debug("transaction mined",
		zap.String("tx_hash", out.TxHash.Hex()),
		zap.Uint64("block", out.BlockNumber),
		zap.Uint64("gas_used", out.GasUsed),
	)
	return out, nil
}

// signAndSend holds the nonce lock from allocation to broadcast so
// concurrent submissions never share a nonce. Receipt waits happen outside it.
func (c *Client) signAndSend(ctx context.Context, to *common.Address, data []byte, value *big.Int) (*types.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.nonceInit {
		nonce, err := c.backend.PendingNonceAt(ctx, c.from)
		if err != nil {
			return nil, fmt.Errorf("pending nonce: %w", err)
		}
		c.nonce = nonce
		c.nonceInit = true
	}

	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: to, Value: value, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	gas += gas * gasMarginPercent / 100

	txData, err := c.feeFields(ctx, c.nonce, to, data, value, gas)
	if err != nil {
		return nil, err
	}
	tx, err := types.SignTx(types.NewTx(txData), c.signer, c.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		// The node may or may not have taken the nonce; re-read it next time.
		c.nonceInit = false
		return nil, fmt.Errorf("send tx: %w", err)
	}
	c.nonce++
	return tx, nil
}

func (c *Client) feeFields(ctx context.Context, nonce uint64, to *common.Address, data []byte, value *big.Int, gas uint64) (types.TxData, error) {
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}
	if head.BaseFee == nil {
		price, err := c.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("gas price: %w", err)
		}
		return &types.LegacyTx{Nonce: nonce, GasPrice: price, Gas: gas, To: to, Value: value, Data: data}, nil
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas tip: %w", err)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	return &types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        to,
		Value:     value,
		Data:      data,
	}, nil
}

func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ReceiptTimeout)
	defer cancel()
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			c.logger.Debug("receipt lookup failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: tx %s", ErrReceiptTimeout, hash.Hex())
		case <-ticker.C:
		}
	}
}
