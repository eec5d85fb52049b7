package asset

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Minimal ERC20 surface the custody account calls.
const erc20ABI = `[
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"transferFrom","stateMutability":"nonpayable",
	 "inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]}
]`

var parsedERC20 = mustParseABI(erc20ABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("erc20 abi: %v", err))
	}
	return parsed
}

// ERC20 moves an ERC20 token between traders and the custody account.
// Deposits rely on the trader having approved the custody account beforehand.
type ERC20 struct {
	*custodyAccount
	token common.Address
}

func NewERC20(client ChainClient, token common.Address, custodyKey *ecdsa.PrivateKey, chainID *big.Int) *ERC20 {
	return &ERC20{custodyAccount: newCustodyAccount(client, custodyKey, chainID), token: token}
}

// WithConfirmTimeout overrides DefaultConfirmTimeout. The poll interval is
// kept below the timeout.
func (e *ERC20) WithConfirmTimeout(d time.Duration) *ERC20 {
	if d > 0 {
		e.confirmWait = d
		if e.pollWait > d/4 {
			e.pollWait = d / 4
		}
	}
	return e
}

func (e *ERC20) Pull(ctx context.Context, owner common.Address, amount *uint256.Int) error {
	data, err := parsedERC20.Pack("transferFrom", owner, e.custody, amount.ToBig())
	if err != nil {
		return fmt.Errorf("pack transferFrom: %w", err)
	}
	return e.send(ctx, e.token, nil, data)
}

func (e *ERC20) Push(ctx context.Context, recipient common.Address, amount *uint256.Int) error {
	data, err := parsedERC20.Pack("transfer", recipient, amount.ToBig())
	if err != nil {
		return fmt.Errorf("pack transfer: %w", err)
	}
	return e.send(ctx, e.token, nil, data)
}

func (e *ERC20) Describe() Descriptor {
	return Descriptor{Kind: KindERC20, Ref: e.token.Hex()}
}
