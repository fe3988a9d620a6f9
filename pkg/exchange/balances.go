package exchange

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// DepositEther moves amount of the native asset from caller into escrow
func (e *Exchange) DepositEther(ctx context.Context, caller common.Address, amount *uint256.Int) (*Receipt, error) {
	if amount == nil || amount.IsZero() {
		return nil, fmt.Errorf("depositEther: %w: zero amount", ErrInvalidAmount)
	}

	return e.execute(ctx, call{
		op: "depositEther",
		stage: func(tx *txn) ([]Event, error) {
			bal, err := credit(tx, EtherAddress, caller, amount)
			if err != nil {
				return nil, fmt.Errorf("depositEther: %w", err)
			}
			return []Event{DepositEvent{Token: EtherAddress, User: caller, Amount: amount, Balance: bal}}, nil
		},
		pull: func(ctx context.Context) error {
			return e.native.Transfer(ctx, caller, e.cfg.Address, amount)
		},
		refund: func(ctx context.Context) error {
			return e.native.Transfer(ctx, e.cfg.Address, caller, amount)
		},
	})
}

// WithdrawEther returns amount of escrowed native asset to caller
func (e *Exchange) WithdrawEther(ctx context.Context, caller common.Address, amount *uint256.Int) (*Receipt, error) {
	if amount == nil {
		return nil, fmt.Errorf("withdrawEther: %w: missing amount", ErrInvalidAmount)
	}

	return e.execute(ctx, call{
		op: "withdrawEther",
		stage: func(tx *txn) ([]Event, error) {
			bal, err := debit(tx, EtherAddress, caller, amount)
			if err != nil {
				return nil, fmt.Errorf("withdrawEther: %w", err)
			}
			return []Event{WithdrawEvent{Token: EtherAddress, User: caller, Amount: amount, Balance: bal}}, nil
		},
		push: func(ctx context.Context) error {
			if amount.IsZero() {
				return nil
			}
			return e.native.Transfer(ctx, e.cfg.Address, caller, amount)
		},
	})
}

// DepositToken pulls amount of token from caller into escrow. The caller must
// have approved the exchange address for at least amount on the token ledger.
func (e *Exchange) DepositToken(ctx context.Context, caller, token common.Address, amount *uint256.Int) (*Receipt, error) {
	if token == EtherAddress {
		return nil, fmt.Errorf("depositToken: %w: use depositEther for the native asset", ErrInvalidAsset)
	}
	if amount == nil || amount.IsZero() {
		return nil, fmt.Errorf("depositToken: %w: zero amount", ErrInvalidAmount)
	}
	ledger, err := e.ledger(token)
	if err != nil {
		return nil, fmt.Errorf("depositToken: %w", err)
	}

	return e.execute(ctx, call{
		op: "depositToken",
		stage: func(tx *txn) ([]Event, error) {
			bal, err := credit(tx, token, caller, amount)
			if err != nil {
				return nil, fmt.Errorf("depositToken: %w", err)
			}
			return []Event{DepositEvent{Token: token, User: caller, Amount: amount, Balance: bal}}, nil
		},
		pull: func(ctx context.Context) error {
			return ledger.TransferFrom(ctx, e.cfg.Address, caller, e.cfg.Address, amount)
		},
		refund: func(ctx context.Context) error {
			return ledger.Transfer(ctx, e.cfg.Address, caller, amount)
		},
	})
}

// WithdrawToken returns amount of escrowed token to caller
func (e *Exchange) WithdrawToken(ctx context.Context, caller, token common.Address, amount *uint256.Int) (*Receipt, error) {
	if token == EtherAddress {
		return nil, fmt.Errorf("withdrawToken: %w: use withdrawEther for the native asset", ErrInvalidAsset)
	}
	if amount == nil {
		return nil, fmt.Errorf("withdrawToken: %w: missing amount", ErrInvalidAmount)
	}
	ledger, err := e.ledger(token)
	if err != nil {
		return nil, fmt.Errorf("withdrawToken: %w", err)
	}

	return e.execute(ctx, call{
		op: "withdrawToken",
		stage: func(tx *txn) ([]Event, error) {
			bal, err := debit(tx, token, caller, amount)
			if err != nil {
				return nil, fmt.Errorf("withdrawToken: %w", err)
			}
			return []Event{WithdrawEvent{Token: token, User: caller, Amount: amount, Balance: bal}}, nil
		},
		push: func(ctx context.Context) error {
			if amount.IsZero() {
				return nil
			}
			return ledger.Transfer(ctx, e.cfg.Address, caller, amount)
		},
	})
}

// Receive handles value sent to the exchange without a deposit call.
// It is always refused; the payment never leaves the sender.
func (e *Exchange) Receive(_ context.Context, caller common.Address, amount *uint256.Int) error {
	if amount != nil {
		e.Logger.Warnw("direct_payment_rejected", "from", caller.Hex(), "amount", amount.Dec())
	}
	return ErrDirectPayment
}

func (e *Exchange) ledger(token common.Address) (TokenLedger, error) {
	ledger, ok := e.tokens.Lookup(token)
	if !ok || ledger == nil {
		return nil, fmt.Errorf("%w: unknown token %s", ErrTransferFailed, token.Hex())
	}
	return ledger, nil
}
