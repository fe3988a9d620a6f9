package exchange

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/escrowdex/pkg/storage"
	"github.com/uhyunpark/escrowdex/pkg/util"
)

type Config struct {
	Address    common.Address // custody account on the collaborator ledgers
	FeeAccount common.Address
	FeePercent uint64
}

// Exchange is the custodial escrow ledger and order book.
//
// All mutating calls and reads are serialized on one mutex. A call stages its
// writes in a txn and commits them with a single atomic KV.Apply, so a failed
// call leaves no trace in balances, orders or the event log.
type Exchange struct {
	mu     sync.Mutex
	kv     storage.KV
	cfg    Config
	native NativeLedger
	tokens TokenDirectory
	sinks  []Sink

	Clock   util.Clock
	Logger  *zap.SugaredLogger
	Metrics *Metrics // nil disables
}

// New opens the exchange on kv. Fee configuration is fixed the first time a
// store is opened; reopening it with a different configuration fails.
func New(kv storage.KV, cfg Config, native NativeLedger, tokens TokenDirectory) (*Exchange, error) {
	if kv == nil || native == nil || tokens == nil {
		return nil, fmt.Errorf("exchange: kv, native ledger and token directory are required")
	}
	if cfg.FeePercent > 100 {
		return nil, fmt.Errorf("exchange: fee percent %d exceeds 100", cfg.FeePercent)
	}
	if cfg.Address == EtherAddress {
		return nil, fmt.Errorf("exchange: custody address must not be the zero address")
	}

	if err := checkConfig(kv, cfg); err != nil {
		return nil, err
	}

	return &Exchange{
		kv:     kv,
		cfg:    cfg,
		native: native,
		tokens: tokens,
		Clock:  util.RealClock{},
		Logger: zap.NewNop().Sugar(),
	}, nil
}

func checkConfig(kv storage.KV, cfg Config) error {
	want := []storage.Write{
		storage.Put(keyAddress, cfg.Address.Bytes()),
		storage.Put(keyFeeAccount, cfg.FeeAccount.Bytes()),
		storage.Put(keyFeePercent, storage.EncodeUint64(cfg.FeePercent)),
	}

	var missing []storage.Write
	for _, w := range want {
		stored, ok, err := kv.Get(w.Key)
		if err != nil {
			return fmt.Errorf("exchange: read %s: %w", w.Key, err)
		}
		if !ok {
			missing = append(missing, w)
			continue
		}
		if !bytes.Equal(stored, w.Value) {
			return fmt.Errorf("exchange: %s does not match the value this store was created with", w.Key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return kv.Apply(missing)
}

// Subscribe registers a sink for committed log entries
func (e *Exchange) Subscribe(s Sink) {
	e.mu.Lock()
	e.sinks = append(e.sinks, s)
	e.mu.Unlock()
}

func (e *Exchange) Address() common.Address    { return e.cfg.Address }
func (e *Exchange) FeeAccount() common.Address { return e.cfg.FeeAccount }
func (e *Exchange) FeePercent() uint64         { return e.cfg.FeePercent }

// call describes one mutating operation.
//
// stage computes the state change against the overlay and returns the events
// to emit. pull runs before the commit and is undone by refund if the commit
// fails (deposits). push runs after the commit; if it fails the commit is
// reverted (withdrawals).
type call struct {
	op     string
	stage  func(tx *txn) ([]Event, error)
	pull   func(ctx context.Context) error
	refund func(ctx context.Context) error
	push   func(ctx context.Context) error
}

func (e *Exchange) execute(ctx context.Context, c call) (rcpt *Receipt, err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		e.Metrics.observeCall(c.op, status, time.Since(start))
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tx := newTxn(e.kv)
	events, err := c.stage(tx)
	if err != nil {
		return nil, err
	}
	entries, err := appendLog(tx, events)
	if err != nil {
		return nil, fmt.Errorf("%s: append event log: %w", c.op, err)
	}

	if c.pull != nil {
		if err := c.pull(ctx); err != nil {
			return nil, fmt.Errorf("%s: %w: %w", c.op, ErrTransferFailed, err)
		}
	}

	if err := e.kv.Apply(tx.writes()); err != nil {
		if c.refund != nil {
			e.Metrics.incCompensation(c.op)
			if rerr := c.refund(ctx); rerr != nil {
				// The collaborator now holds value the ledger never credited
				e.Logger.Errorw("refund_failed", "op", c.op, "commit_err", err, "refund_err", rerr)
			}
		}
		return nil, fmt.Errorf("%s: commit: %w", c.op, err)
	}

	if c.push != nil {
		if err := c.push(ctx); err != nil {
			e.Metrics.incCompensation(c.op)
			if uerr := e.kv.Apply(tx.undo()); uerr != nil {
				e.Logger.Errorw("revert_failed", "op", c.op, "transfer_err", err, "revert_err", uerr)
			}
			return nil, fmt.Errorf("%s: %w: %w", c.op, ErrTransferFailed, err)
		}
	}

	for _, entry := range entries {
		e.Metrics.incEvent(entry.Event)
		for _, s := range e.sinks {
			s.Publish(ctx, entry)
		}
	}

	e.Logger.Debugw("call_committed", "op", c.op, "events", len(entries))
	return &Receipt{Logs: events, Entries: entries}, nil
}

// readAmount returns the stored amount at key, zero if absent
func readAmount(tx *txn, key []byte) (*uint256.Int, error) {
	raw, ok, err := tx.get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	return storage.DecodeAmount(raw), nil
}

// credit adds amount to (asset, account) and returns the new balance
func credit(tx *txn, asset, account common.Address, amount *uint256.Int) (*uint256.Int, error) {
	key := balanceKey(asset, account)
	bal, err := readAmount(tx, key)
	if err != nil {
		return nil, err
	}
	next, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return nil, fmt.Errorf("%w: crediting %s to %s", ErrOverflow, amount.Dec(), account.Hex())
	}
	if err := tx.set(key, storage.EncodeAmount(next)); err != nil {
		return nil, err
	}
	return next, nil
}

// debit subtracts amount from (asset, account) and returns the new balance
func debit(tx *txn, asset, account common.Address, amount *uint256.Int) (*uint256.Int, error) {
	key := balanceKey(asset, account)
	bal, err := readAmount(tx, key)
	if err != nil {
		return nil, err
	}
	if bal.Lt(amount) {
		return nil, fmt.Errorf("%w: %s holds %s of %s, need %s",
			ErrInsufficientBalance, account.Hex(), bal.Dec(), asset.Hex(), amount.Dec())
	}
	next := new(uint256.Int).Sub(bal, amount)
	if err := tx.set(key, storage.EncodeAmount(next)); err != nil {
		return nil, err
	}
	return next, nil
}

// BalanceOf returns the escrowed balance of account in asset
func (e *Exchange) BalanceOf(asset, account common.Address) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return readAmount(newTxn(e.kv), balanceKey(asset, account))
}

// Tokens is the raw balance ledger read; same as BalanceOf
func (e *Exchange) Tokens(asset, account common.Address) (*uint256.Int, error) {
	return e.BalanceOf(asset, account)
}

// TotalEscrow sums every account's escrowed balance of asset. With no calls
// in flight it equals what the exchange address holds on that asset's ledger.
func (e *Exchange) TotalEscrow(asset common.Address) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prefix := balancePrefix(asset)
	total := new(uint256.Int)
	overflow := false
	err := e.kv.Scan(prefix, storage.PrefixEnd(prefix), func(_, value []byte) bool {
		_, of := total.AddOverflow(total, storage.DecodeAmount(value))
		overflow = overflow || of
		return true
	})
	if err != nil {
		return nil, err
	}
	if overflow {
		return nil, ErrOverflow
	}
	return total, nil
}

// Custody returns what the exchange address holds of asset on its ledger
func (e *Exchange) Custody(ctx context.Context, asset common.Address) (*uint256.Int, error) {
	if asset == EtherAddress {
		return e.native.BalanceOf(ctx, e.cfg.Address)
	}
	ledger, ok := e.tokens.Lookup(asset)
	if !ok {
		return nil, fmt.Errorf("%w: unknown token %s", ErrTransferFailed, asset.Hex())
	}
	return ledger.BalanceOf(ctx, e.cfg.Address)
}
