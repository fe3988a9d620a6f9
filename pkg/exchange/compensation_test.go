package exchange

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowdex/pkg/storage"
	"github.com/uhyunpark/escrowdex/pkg/token"
)

// flakyKV fails Apply on demand
type flakyKV struct {
	storage.KV
	failApply bool
}

func (f *flakyKV) Apply(writes []storage.Write) error {
	if f.failApply {
		return errors.New("disk full")
	}
	return f.KV.Apply(writes)
}

// stuckLedger accepts deposits but refuses to pay out
type stuckLedger struct{}

func (stuckLedger) Transfer(context.Context, common.Address, common.Address, *uint256.Int) error {
	return errors.New("token paused")
}

func (stuckLedger) TransferFrom(context.Context, common.Address, common.Address, common.Address, *uint256.Int) error {
	return nil
}

func (stuckLedger) BalanceOf(context.Context, common.Address) (*uint256.Int, error) {
	return new(uint256.Int), nil
}

func TestDepositRefundedWhenCommitFails(t *testing.T) {
	ctx := context.Background()
	exKV := &flakyKV{KV: storage.NewMemKV()}
	f := newFixtureOn(t, ctx, exKV, storage.NewMemKV())

	exKV.failApply = true
	if _, err := f.ex.DepositEther(ctx, user1, ether(1)); err == nil {
		t.Fatal("expected deposit to fail")
	}
	exKV.failApply = false

	wallet, _ := f.native.BalanceOf(ctx, user1)
	expectBalance(t, wallet, ether(100), "wallet after refund")
	custody, _ := f.native.BalanceOf(ctx, exchangeAddr)
	expectBalance(t, custody, new(uint256.Int), "custody after refund")
	expectBalance(t, f.balance(t, EtherAddress, user1), new(uint256.Int), "escrow")
	if n := f.eventCount(t); n != 0 {
		t.Errorf("expected empty event log, got %d entries", n)
	}
}

func TestWithdrawRevertedWhenTransferFails(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemKV()
	stuck := common.HexToAddress("0x5700000000000000000000000000000000000000")

	dir := TokenDirectoryFunc(func(addr common.Address) (TokenLedger, bool) {
		if addr == stuck {
			return stuckLedger{}, true
		}
		return nil, false
	})
	ex, err := New(kv, Config{Address: exchangeAddr, FeeAccount: feeAccount, FeePercent: 10}, token.NewNative(kv), dir)
	if err != nil {
		t.Fatalf("new exchange: %v", err)
	}

	if _, err := ex.DepositToken(ctx, user1, stuck, tokens(5)); err != nil {
		t.Fatalf("depositToken: %v", err)
	}

	_, err = ex.WithdrawToken(ctx, user1, stuck, tokens(2))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	bal, _ := ex.BalanceOf(stuck, user1)
	expectBalance(t, bal, tokens(5), "escrow after revert")

	entries, err := ex.Events(1, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(entries) != 1 || entries[0].Event != "Deposit" {
		t.Errorf("withdraw left entries behind: %+v", entries)
	}
	if err := ex.VerifyEventLog(); err != nil {
		t.Errorf("verify after revert: %v", err)
	}

	// the chain continues cleanly from the restored head
	if _, err := ex.DepositToken(ctx, user1, stuck, tokens(1)); err != nil {
		t.Fatalf("depositToken: %v", err)
	}
	if err := ex.VerifyEventLog(); err != nil {
		t.Errorf("verify after next call: %v", err)
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "exchange.db")

	kv, err := storage.NewPebbleKV(path)
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	f := newFixtureOn(t, ctx, kv, kv)
	if _, err := f.ex.DepositEther(ctx, user1, ether(3)); err != nil {
		t.Fatalf("depositEther: %v", err)
	}
	if _, err := f.ex.MakeOrder(ctx, user1, dappAddr, tokens(1), EtherAddress, ether(1)); err != nil {
		t.Fatalf("makeOrder: %v", err)
	}
	if err := kv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	kv, err = storage.NewPebbleKV(path)
	if err != nil {
		t.Fatalf("reopen pebble: %v", err)
	}
	defer kv.Close()

	ex, err := New(kv, Config{Address: exchangeAddr, FeeAccount: feeAccount, FeePercent: 10}, token.NewNative(kv), directory(token.NewRegistry()))
	if err != nil {
		t.Fatalf("reopen exchange: %v", err)
	}

	bal, _ := ex.BalanceOf(EtherAddress, user1)
	expectBalance(t, bal, ether(3), "escrow after reopen")

	count, _ := ex.OrderCount()
	if count != 1 {
		t.Errorf("order count = %d, want 1", count)
	}
	rcpt, err := ex.MakeOrder(ctx, user2, EtherAddress, ether(1), dappAddr, tokens(1))
	if err != nil {
		t.Fatalf("makeOrder after reopen: %v", err)
	}
	if id := rcpt.Logs[0].(OrderEvent).Order.ID; id != 2 {
		t.Errorf("order id after reopen = %d, want 2", id)
	}
	if err := ex.VerifyEventLog(); err != nil {
		t.Errorf("verify after reopen: %v", err)
	}
}
