package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/spotdex/pkg/app/core/asset"
	"github.com/uhyunpark/spotdex/pkg/app/core/dexerr"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
	"github.com/uhyunpark/spotdex/pkg/events"
)

// RegisterTicker binds t to an external asset. Registration is persisted so
// the binding survives restarts.
func (e *Engine) RegisterTicker(t token.Ticker, h asset.Handle) error {
	if t.IsZero() {
		return fmt.Errorf("%w: empty", dexerr.ErrInvalidTicker)
	}
	if h == nil {
		return fmt.Errorf("register %s: nil asset handle", t)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkHalted(); err != nil {
		return err
	}
	if e.registry.IsRegistered(t) {
		return fmt.Errorf("%w: %s", dexerr.ErrDuplicateTicker, t)
	}

	tx := e.begin("register_ticker", "")
	tx.tickers = append(tx.tickers, token.Info{Ticker: t, Index: e.registry.Count(), Asset: h.Describe()})
	if err := tx.commit(); err != nil {
		return err
	}
	if err := e.registry.Register(t, h); err != nil {
		return err
	}
	e.log.Infow("ticker registered", "ticker", t.String(), "kind", h.Describe().Kind)
	return nil
}

// ApproveQuote allows t as the quote leg of pairs.
func (e *Engine) ApproveQuote(t token.Ticker) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkHalted(); err != nil {
		return err
	}

	info, err := e.registry.Info(t)
	if err != nil {
		return err
	}
	if info.Quote {
		return nil
	}
	info.Quote = true

	tx := e.begin("approve_quote", "")
	tx.tickers = append(tx.tickers, info)
	if err := tx.commit(); err != nil {
		return err
	}
	if err := e.registry.ApproveQuote(t); err != nil {
		return err
	}
	e.log.Infow("quote approved", "ticker", t.String())
	return nil
}

// Deposit pulls amount of t from trader into custody and credits it.
// The native asset cannot be pulled; it is credited by ReceiveNative. A pull
// whose outcome is unknown returns ErrTransferPending and is credited once
// the chain confirms it.
func (e *Engine) Deposit(ctx context.Context, trader common.Address, t token.Ticker, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkHalted(); err != nil {
		return err
	}
	if err := e.requireRegistered(t); err != nil {
		return err
	}
	if e.registry.IsNative(t) {
		return dexerr.ErrNativeDirectDeposit
	}
	if amount == nil || amount.IsZero() {
		return dexerr.ErrInvalidAmount
	}

	h, err := e.registry.Handle(t)
	if err != nil {
		return err
	}
	if err := h.Pull(ctx, trader, amount); err != nil {
		var pt *asset.PendingTransfer
		if errors.As(err, &pt) {
			// Credit only once the chain confirms the pull.
			e.resolveLater("deposit", pt, trader, t, amount, func() error {
				return e.credit("deposit_confirmed", events.ReasonDeposit, trader, t, amount)
			}, nil)
			return fmt.Errorf("%w: pull %s %s from %s: tx %s", dexerr.ErrTransferPending, amount.Dec(), t, trader.Hex(), pt.Hash.Hex())
		}
		return fmt.Errorf("%w: pull %s %s from %s: %w", dexerr.ErrTransferFailed, amount.Dec(), t, trader.Hex(), err)
	}

	tx := e.begin("deposit", events.ReasonDeposit)
	if err := e.ledger.Credit(trader, t, amount); err != nil {
		tx.abort()
		e.refund(ctx, h, trader, t, amount)
		return err
	}
	if err := tx.commit(); err != nil {
		e.refund(ctx, h, trader, t, amount)
		return err
	}

	e.log.Infow("deposit", "trader", trader.Hex(), "ticker", t.String(), "amount", amount.Dec())
	return nil
}

// ReceiveNative credits native currency that already arrived in custody,
// as reported by the boundary layer.
func (e *Engine) ReceiveNative(trader common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return dexerr.ErrInvalidAmount
	}

	native := e.registry.Native()
	if err := e.credit("receive_native", events.ReasonDeposit, trader, native, amount); err != nil {
		return err
	}
	e.log.Infow("native received", "trader", trader.Hex(), "ticker", native.String(), "amount", amount.Dec())
	return nil
}

// credit adds amount to trader's total as one committed tx.
func (e *Engine) credit(name, reason string, trader common.Address, t token.Ticker, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkHalted(); err != nil {
		return err
	}

	tx := e.begin(name, reason)
	if err := e.ledger.Credit(trader, t, amount); err != nil {
		tx.abort()
		return err
	}
	return tx.commit()
}

// Withdraw debits amount of available t and pushes it to trader. If the push
// fails the debit is undone. If its outcome is unknown the debit stays and
// ErrTransferPending is returned; a later revert credits the amount back.
func (e *Engine) Withdraw(ctx context.Context, trader common.Address, t token.Ticker, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkHalted(); err != nil {
		return err
	}
	if err := e.requireRegistered(t); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return dexerr.ErrInvalidAmount
	}

	h, err := e.registry.Handle(t)
	if err != nil {
		return err
	}

	tx := e.begin("withdraw", events.ReasonWithdraw)
	if err := e.ledger.Debit(trader, t, amount); err != nil {
		tx.abort()
		return err
	}
	var pt *asset.PendingTransfer
	if err := h.Push(ctx, trader, amount); err != nil {
		if !errors.As(err, &pt) {
			tx.abort()
			return fmt.Errorf("%w: push %s %s to %s: %w", dexerr.ErrTransferFailed, amount.Dec(), t, trader.Hex(), err)
		}
		// The funds may already be on their way; keep the debit and give it
		// back only if the transfer reverts.
		e.resolveLater("withdraw", pt, trader, t, amount, nil, func() error {
			return e.credit("withdraw_reverted", events.ReasonWithdrawReverted, trader, t, amount)
		})
	}
	if err := tx.commit(); err != nil {
		// The funds are gone; keep the debit in memory and stop accepting writes.
		if derr := e.ledger.Debit(trader, t, amount); derr == nil {
			e.ledger.Commit()
		}
		e.halt(err)
		return dexerr.Invariantf("withdraw", "pushed %s %s to %s but could not persist: %v", amount.Dec(), t, trader.Hex(), err)
	}

	if pt != nil {
		e.log.Warnw("withdraw pending", "trader", trader.Hex(), "ticker", t.String(), "amount", amount.Dec(), "tx", pt.Hash.Hex())
		return fmt.Errorf("%w: push %s %s to %s: tx %s", dexerr.ErrTransferPending, amount.Dec(), t, trader.Hex(), pt.Hash.Hex())
	}
	e.log.Infow("withdraw", "trader", trader.Hex(), "ticker", t.String(), "amount", amount.Dec())
	return nil
}

// resolveLater waits in the background for a transfer that outlived its
// request. confirmed runs when it succeeded, reverted when nothing moved;
// either may be nil.
func (e *Engine) resolveLater(op string, pt *asset.PendingTransfer, trader common.Address, t token.Ticker, amount *uint256.Int, confirmed, reverted func() error) {
	fields := []any{"op", op, "tx", pt.Hash.Hex(), "trader", trader.Hex(), "ticker", t.String(), "amount", amount.Dec()}
	e.log.Warnw("transfer unconfirmed", append(fields, "err", pt.Err)...)

	e.pending.Add(1)
	go func() {
		defer e.pending.Done()

		err := pt.Wait(e.bg)
		apply := confirmed
		switch {
		case err == nil:
			e.log.Infow("transfer confirmed", fields...)
		case errors.Is(err, asset.ErrTransferReverted):
			e.log.Warnw("transfer reverted", fields...)
			apply = reverted
		default:
			e.log.Errorw("transfer unresolved", append(fields, "err", err)...)
			return
		}
		if apply == nil {
			return
		}
		if err := apply(); err != nil {
			e.log.Errorw("apply transfer outcome", append(fields, "err", err)...)
		}
	}()
}

func (e *Engine) refund(ctx context.Context, h asset.Handle, trader common.Address, t token.Ticker, amount *uint256.Int) {
	if err := h.Push(ctx, trader, amount); err != nil {
		e.halt(fmt.Errorf("refund %s %s to %s: %w", amount.Dec(), t, trader.Hex(), err))
	}
}
