package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowdex/pkg/storage"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrInvalidAddress        = errors.New("token: invalid address")
	ErrOverflow              = errors.New("token: amount overflow")
)

// Token is an ERC20-equivalent ledger persisted in a KV store
// Caller identity is explicit on every mutating call (msg.sender)
type Token struct {
	mu       sync.Mutex
	kv       storage.KV
	address  common.Address
	name     string
	symbol   string
	decimals uint8
}

// New creates a token contract living at address
func New(kv storage.KV, address common.Address, name, symbol string, decimals uint8) *Token {
	return &Token{
		kv:       kv,
		address:  address,
		name:     name,
		symbol:   symbol,
		decimals: decimals,
	}
}

// NewNative returns the native-asset ledger. It lives at the zero address,
// the same identifier the exchange uses as its ether sentinel.
func NewNative(kv storage.KV) *Token {
	return New(kv, common.Address{}, "Ether", "ETH", 18)
}

func (t *Token) Address() common.Address { return t.address }
func (t *Token) Name() string            { return t.name }
func (t *Token) Symbol() string          { return t.symbol }
func (t *Token) Decimals() uint8         { return t.decimals }

func (t *Token) TotalSupply(_ context.Context) (*uint256.Int, error) {
	return t.read(supplyKey(t.address))
}

func (t *Token) BalanceOf(_ context.Context, account common.Address) (*uint256.Int, error) {
	return t.read(balanceKey(t.address, account))
}

func (t *Token) Allowance(_ context.Context, owner, spender common.Address) (*uint256.Int, error) {
	return t.read(allowanceKey(t.address, owner, spender))
}

// Approve sets spender's allowance over caller's balance (overwrites, like ERC20)
func (t *Token) Approve(_ context.Context, caller, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return fmt.Errorf("approve: %w: zero spender", ErrInvalidAddress)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.kv.Apply([]storage.Write{
		storage.Put(allowanceKey(t.address, caller, spender), storage.EncodeAmount(amount)),
	})
}

// Transfer moves amount from caller to to
func (t *Token) Transfer(_ context.Context, caller, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	writes, err := t.move(caller, to, amount)
	if err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	return t.kv.Apply(writes)
}

// TransferFrom moves amount from from to to, spending caller's allowance
func (t *Token) TransferFrom(_ context.Context, caller, from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	akey := allowanceKey(t.address, from, caller)
	allowance, err := t.read(akey)
	if err != nil {
		return err
	}
	if allowance.Lt(amount) {
		return fmt.Errorf("transferFrom: %w: have %s, need %s", ErrInsufficientAllowance, allowance.Dec(), amount.Dec())
	}

	writes, err := t.move(from, to, amount)
	if err != nil {
		return fmt.Errorf("transferFrom: %w", err)
	}
	remaining := new(uint256.Int).Sub(allowance, amount)
	writes = append(writes, storage.Put(akey, storage.EncodeAmount(remaining)))

	return t.kv.Apply(writes)
}

// Mint credits to and grows the total supply. Genesis/devnet only.
func (t *Token) Mint(_ context.Context, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("mint: %w: zero recipient", ErrInvalidAddress)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	supply, err := t.read(supplyKey(t.address))
	if err != nil {
		return err
	}
	bal, err := t.read(balanceKey(t.address, to))
	if err != nil {
		return err
	}
	newSupply, overflow := new(uint256.Int).AddOverflow(supply, amount)
	if overflow {
		return fmt.Errorf("mint: %w", ErrOverflow)
	}
	newBal := new(uint256.Int).Add(bal, amount) // bal <= supply, cannot overflow

	return t.kv.Apply([]storage.Write{
		storage.Put(supplyKey(t.address), storage.EncodeAmount(newSupply)),
		storage.Put(balanceKey(t.address, to), storage.EncodeAmount(newBal)),
	})
}

// Genesis mints amount to to only if nothing has been minted yet.
// Returns true if it minted.
func (t *Token) Genesis(ctx context.Context, to common.Address, amount *uint256.Int) (bool, error) {
	supply, err := t.TotalSupply(ctx)
	if err != nil {
		return false, err
	}
	if !supply.IsZero() {
		return false, nil
	}
	if err := t.Mint(ctx, to, amount); err != nil {
		return false, err
	}
	return true, nil
}

// move builds the writes for a balance transfer (assumes lock is held)
func (t *Token) move(from, to common.Address, amount *uint256.Int) ([]storage.Write, error) {
	if to == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero recipient", ErrInvalidAddress)
	}

	fromKey := balanceKey(t.address, from)
	fromBal, err := t.read(fromKey)
	if err != nil {
		return nil, err
	}
	if fromBal.Lt(amount) {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBal.Dec(), amount.Dec())
	}
	if from == to {
		return nil, nil
	}

	toKey := balanceKey(t.address, to)
	toBal, err := t.read(toKey)
	if err != nil {
		return nil, err
	}

	// Sum of balances is bounded by total supply, so the credit cannot overflow
	return []storage.Write{
		storage.Put(fromKey, storage.EncodeAmount(new(uint256.Int).Sub(fromBal, amount))),
		storage.Put(toKey, storage.EncodeAmount(new(uint256.Int).Add(toBal, amount))),
	}, nil
}

func (t *Token) read(key []byte) (*uint256.Int, error) {
	data, _, err := t.kv.Get(key)
	if err != nil {
		return nil, fmt.Errorf("token %s: %w", t.address.Hex(), err)
	}
	return storage.DecodeAmount(data), nil
}
