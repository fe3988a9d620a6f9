package exchange

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TokenLedger is the capability set the exchange consumes from an ERC20-style
// token contract. caller is the msg.sender of the call on the token ledger,
// which is always the exchange's own address.
type TokenLedger interface {
	Transfer(ctx context.Context, caller, to common.Address, amount *uint256.Int) error
	TransferFrom(ctx context.Context, caller, from, to common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error)
}

// NativeLedger moves the native settlement asset between accounts.
type NativeLedger interface {
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error)
}

// TokenDirectory resolves a token address argument to its ledger.
type TokenDirectory interface {
	Lookup(token common.Address) (TokenLedger, bool)
}

// TokenDirectoryFunc adapts a plain function to TokenDirectory.
type TokenDirectoryFunc func(token common.Address) (TokenLedger, bool)

func (f TokenDirectoryFunc) Lookup(token common.Address) (TokenLedger, bool) { return f(token) }
