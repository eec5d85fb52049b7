// Package dexerr defines the error kinds returned by the exchange core.
//
// Validation failures are plain sentinels (or typed errors unwrapping to one)
// and always leave state untouched. InvariantError is different: it means the
// accounting itself is broken and the caller should stop, not retry.
package dexerr

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownTicker                = errors.New("token not found in the dex")
	ErrDuplicateTicker              = errors.New("token already registered")
	ErrInvalidTicker                = errors.New("invalid ticker")
	ErrQuoteNotApproved             = errors.New("quote token not approved")
	ErrSameTicker                   = errors.New("base and quote tickers must be different")
	ErrInsufficientAvailableBalance = errors.New("insufficient available balance")
	ErrNativeDirectDeposit          = errors.New("native asset must be transferred directly to the dex")
	ErrOrderNotFound                = errors.New("order not found")
	ErrNotOrderOwner                = errors.New("order does not belong to trader")
	ErrInvalidAmount                = errors.New("amount must be positive")
	ErrInvalidPrice                 = errors.New("price must be positive")
	ErrInvalidSide                  = errors.New("invalid order side")
	ErrTransferFailed               = errors.New("external transfer failed")
	ErrTransferPending              = errors.New("external transfer pending confirmation")
	ErrInvariant                    = errors.New("ledger invariant violated")
)

// BalanceSide tags which leg of an operation lacked funds.
type BalanceSide int8

const (
	SideWithdraw BalanceSide = iota
	SideBase
	SideQuote
)

func (s BalanceSide) String() string {
	switch s {
	case SideBase:
		return "base"
	case SideQuote:
		return "quote"
	default:
		return "withdraw"
	}
}

// BalanceError reports an InsufficientAvailableBalance failure with enough
// detail for a caller to tell base-side from quote-side shortfalls.
type BalanceError struct {
	Side   BalanceSide
	Ticker string
	Need   string
	Have   string
}

func (e *BalanceError) Error() string {
	if e.Side == SideWithdraw {
		return fmt.Sprintf("insufficient available balance: %s need %s, have %s", e.Ticker, e.Need, e.Have)
	}
	return fmt.Sprintf("insufficient available %s token balance: %s need %s, have %s", e.Side, e.Ticker, e.Need, e.Have)
}

func (e *BalanceError) Unwrap() error { return ErrInsufficientAvailableBalance }

// InvariantError is a fatal accounting defect (e.g. releasing more than is reserved).
type InvariantError struct {
	Op     string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvariant, e.Op, e.Detail)
}

func (e *InvariantError) Unwrap() error { return ErrInvariant }

// Invariantf builds an InvariantError for op.
func Invariantf(op, format string, args ...any) error {
	return &InvariantError{Op: op, Detail: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err signals a broken invariant rather than a user error.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvariant)
}
