package exchange

import (
	"context"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Event is one entry of the audit trail emitted by a committed call.
// Args uses the same argument names a client would see in a contract log.
type Event interface {
	Name() string
	Args() map[string]string
}

type DepositEvent struct {
	Token   common.Address
	User    common.Address
	Amount  *uint256.Int
	Balance *uint256.Int // escrow after the deposit
}

func (DepositEvent) Name() string { return "Deposit" }

func (e DepositEvent) Args() map[string]string {
	return balanceArgs(e.Token, e.User, e.Amount, e.Balance)
}

type WithdrawEvent struct {
	Token   common.Address
	User    common.Address
	Amount  *uint256.Int
	Balance *uint256.Int // escrow after the withdrawal
}

func (WithdrawEvent) Name() string { return "Withdraw" }

func (e WithdrawEvent) Args() map[string]string {
	return balanceArgs(e.Token, e.User, e.Amount, e.Balance)
}

// OrderEvent mirrors the stored order
type OrderEvent struct {
	Order Order
}

func (OrderEvent) Name() string { return "Order" }

func (e OrderEvent) Args() map[string]string { return orderArgs(&e.Order) }

// CancelEvent carries the original order data, including its creation timestamp
type CancelEvent struct {
	Order Order
}

func (CancelEvent) Name() string { return "Cancel" }

func (e CancelEvent) Args() map[string]string { return orderArgs(&e.Order) }

// TradeEvent records a fill. Order.Timestamp is the fill time, not the order's.
type TradeEvent struct {
	Order    Order
	UserFill common.Address
	Fee      *uint256.Int
}

func (TradeEvent) Name() string { return "Trade" }

func (e TradeEvent) Args() map[string]string {
	args := orderArgs(&e.Order)
	args["userFill"] = e.UserFill.Hex()
	args["fee"] = e.Fee.Dec()
	return args
}

func balanceArgs(token, user common.Address, amount, balance *uint256.Int) map[string]string {
	return map[string]string{
		"token":   token.Hex(),
		"user":    user.Hex(),
		"amount":  amount.Dec(),
		"balance": balance.Dec(),
	}
}

func orderArgs(o *Order) map[string]string {
	return map[string]string{
		"id":         strconv.FormatUint(o.ID, 10),
		"user":       o.User.Hex(),
		"tokenGet":   o.TokenGet.Hex(),
		"amountGet":  o.AmountGet.Dec(),
		"tokenGive":  o.TokenGive.Hex(),
		"amountGive": o.AmountGive.Dec(),
		"timestamp":  strconv.FormatUint(o.Timestamp, 10),
	}
}

// Receipt is returned by every successful mutating call
type Receipt struct {
	Logs    []Event    // typed events, in emission order
	Entries []LogEntry // the same events as persisted in the event log
}

// Sink receives committed log entries. Publish is called with the exchange
// lock held, so implementations must not block.
type Sink interface {
	Publish(ctx context.Context, entry LogEntry)
}

// SinkFunc adapts a plain function to Sink
type SinkFunc func(ctx context.Context, entry LogEntry)

func (f SinkFunc) Publish(ctx context.Context, entry LogEntry) { f(ctx, entry) }
