package asset

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// ChainClient is the subset of *ethclient.Client used by chain handles.
type ChainClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// DefaultConfirmTimeout bounds how long a transfer waits for its receipt
// before it is reported as pending.
const DefaultConfirmTimeout = 30 * time.Second

// custodyAccount signs and submits transactions from the custody key and
// waits for them to be mined. Submissions are serialized so nonces never
// collide.
type custodyAccount struct {
	mu          sync.Mutex
	client      ChainClient
	key         *ecdsa.PrivateKey
	custody     common.Address
	chainID     *big.Int
	pollWait    time.Duration
	confirmWait time.Duration
}

func newCustodyAccount(client ChainClient, key *ecdsa.PrivateKey, chainID *big.Int) *custodyAccount {
	return &custodyAccount{
		client:      client,
		key:         key,
		custody:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:     chainID,
		pollWait:    time.Second,
		confirmWait: DefaultConfirmTimeout,
	}
}

// send submits a legacy transaction to `to` and returns once it is mined
// successfully. value may be nil. ctx only governs the steps before
// broadcast; after that the receipt is awaited for confirmWait regardless of
// ctx, and a missing receipt yields a *PendingTransfer.
func (c *custodyAccount) send(ctx context.Context, to common.Address, value *big.Int, data []byte) error {
	signed, err := c.submit(ctx, to, value, data)
	if err != nil {
		return err
	}
	hash := signed.Hash()

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.confirmWait)
	defer cancel()
	receipt, err := c.waitMined(wctx, hash)
	if err != nil {
		return NewPendingTransfer(hash, err, c.confirm(hash))
	}
	return checkReceipt(hash, receipt)
}

func (c *custodyAccount) submit(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if value == nil {
		value = new(big.Int)
	}
	nonce, err := c.client.PendingNonceAt(ctx, c.custody)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	gas, err := c.client.EstimateGas(ctx, ethereum.CallMsg{From: c.custody, To: &to, Value: value, Data: data})
	if err != nil {
		// A reverting transfer (no allowance, no balance) fails estimation.
		return nil, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}
	return signed, nil
}

func (c *custodyAccount) confirm(hash common.Hash) func(context.Context) error {
	return func(ctx context.Context) error {
		receipt, err := c.waitMined(ctx, hash)
		if err != nil {
			return err
		}
		return checkReceipt(hash, receipt)
	}
}

func checkReceipt(hash common.Hash, receipt *types.Receipt) error {
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: tx %s", ErrTransferReverted, hash.Hex())
	}
	return nil
}

func (c *custodyAccount) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	for {
		receipt, err := c.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollWait):
		}
	}
}

// NativePayout returns a PayoutFunc that pays native currency out of the
// custody account on chain. A zero confirm uses DefaultConfirmTimeout.
func NativePayout(client ChainClient, custodyKey *ecdsa.PrivateKey, chainID *big.Int, confirm time.Duration) PayoutFunc {
	acct := newCustodyAccount(client, custodyKey, chainID)
	if confirm > 0 {
		acct.confirmWait = confirm
	}
	return func(ctx context.Context, recipient common.Address, amount *uint256.Int) error {
		return acct.send(ctx, recipient, amount.ToBig(), nil)
	}
}
