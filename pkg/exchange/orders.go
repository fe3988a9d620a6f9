package exchange

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowdex/pkg/storage"
)

var flagSet = []byte{1}

// MakeOrder records a standing offer. Solvency is not checked here; the maker
// must hold amountGive in escrow when the order is filled.
func (e *Exchange) MakeOrder(ctx context.Context, caller, tokenGet common.Address, amountGet *uint256.Int, tokenGive common.Address, amountGive *uint256.Int) (*Receipt, error) {
	if amountGet == nil || amountGive == nil {
		return nil, fmt.Errorf("makeOrder: %w: missing amount", ErrInvalidAmount)
	}

	return e.execute(ctx, call{
		op: "makeOrder",
		stage: func(tx *txn) ([]Event, error) {
			countBytes, _, err := tx.get(keyOrderCount)
			if err != nil {
				return nil, err
			}
			id := storage.DecodeUint64(countBytes) + 1

			ts, err := e.nextTimestamp(tx)
			if err != nil {
				return nil, err
			}

			order := Order{
				ID:         id,
				User:       caller,
				TokenGet:   tokenGet,
				AmountGet:  new(uint256.Int).Set(amountGet),
				TokenGive:  tokenGive,
				AmountGive: new(uint256.Int).Set(amountGive),
				Timestamp:  ts,
			}
			data, err := json.Marshal(&order)
			if err != nil {
				return nil, fmt.Errorf("makeOrder: marshal order: %w", err)
			}
			if err := tx.set(orderKey(id), data); err != nil {
				return nil, err
			}
			if err := tx.set(keyOrderCount, storage.EncodeUint64(id)); err != nil {
				return nil, err
			}
			return []Event{OrderEvent{Order: order}}, nil
		},
	})
}

// CancelOrder closes an open order. Only the maker may cancel.
func (e *Exchange) CancelOrder(ctx context.Context, caller common.Address, id uint64) (*Receipt, error) {
	return e.execute(ctx, call{
		op: "cancelOrder",
		stage: func(tx *txn) ([]Event, error) {
			order, err := loadOrder(tx, id)
			if err != nil {
				return nil, fmt.Errorf("cancelOrder: %w", err)
			}
			if order.User != caller {
				return nil, fmt.Errorf("cancelOrder: %w: order %d belongs to %s", ErrUnauthorized, id, order.User.Hex())
			}
			if err := checkOpen(tx, id); err != nil {
				return nil, fmt.Errorf("cancelOrder: %w", err)
			}
			if err := tx.set(cancelledKey(id), flagSet); err != nil {
				return nil, err
			}
			return []Event{CancelEvent{Order: *order}}, nil
		},
	})
}

// FillOrder trades against an open order in full.
//
// The filler pays amountGet of tokenGet to the maker and receives amountGive
// of tokenGive minus the fee, which goes to the fee account. The fee is
// floor(amountGive * feePercent / 100).
func (e *Exchange) FillOrder(ctx context.Context, caller common.Address, id uint64) (*Receipt, error) {
	return e.execute(ctx, call{
		op: "fillOrder",
		stage: func(tx *txn) ([]Event, error) {
			order, err := loadOrder(tx, id)
			if err != nil {
				return nil, fmt.Errorf("fillOrder: %w", err)
			}
			if err := checkOpen(tx, id); err != nil {
				return nil, fmt.Errorf("fillOrder: %w", err)
			}

			fee, overflow := new(uint256.Int).MulDivOverflow(order.AmountGive, uint256.NewInt(e.cfg.FeePercent), uint256.NewInt(100))
			if overflow {
				return nil, fmt.Errorf("fillOrder: %w: fee on %s", ErrOverflow, order.AmountGive.Dec())
			}
			proceeds := new(uint256.Int).Sub(order.AmountGive, fee)

			// Debits run before their matching credits so aliasing (filler
			// == maker, tokenGet == tokenGive) is checked against real balances.
			if _, err := debit(tx, order.TokenGet, caller, order.AmountGet); err != nil {
				return nil, fmt.Errorf("fillOrder: filler: %w", err)
			}
			if _, err := credit(tx, order.TokenGet, order.User, order.AmountGet); err != nil {
				return nil, fmt.Errorf("fillOrder: %w", err)
			}
			if _, err := debit(tx, order.TokenGive, order.User, order.AmountGive); err != nil {
				return nil, fmt.Errorf("fillOrder: maker: %w", err)
			}
			if _, err := credit(tx, order.TokenGive, caller, proceeds); err != nil {
				return nil, fmt.Errorf("fillOrder: %w", err)
			}
			if _, err := credit(tx, order.TokenGive, e.cfg.FeeAccount, fee); err != nil {
				return nil, fmt.Errorf("fillOrder: %w", err)
			}
			if err := tx.set(filledKey(id), flagSet); err != nil {
				return nil, err
			}

			ts, err := e.nextTimestamp(tx)
			if err != nil {
				return nil, err
			}
			trade := TradeEvent{Order: *order, UserFill: caller, Fee: fee}
			trade.Order.Timestamp = ts
			return []Event{trade}, nil
		},
	})
}

// Order returns the stored order, or ErrOrderNotFound
func (e *Exchange) Order(id uint64) (*Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return loadOrder(newTxn(e.kv), id)
}

// OrderCount returns the number of orders ever made, which is also the
// highest assigned id
func (e *Exchange) OrderCount() (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	raw, _, err := e.kv.Get(keyOrderCount)
	if err != nil {
		return 0, err
	}
	return storage.DecodeUint64(raw), nil
}

// OrderCancelled is false for open, filled and nonexistent orders
func (e *Exchange) OrderCancelled(id uint64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok, err := e.kv.Get(cancelledKey(id))
	return ok, err
}

// OrderFilled is false for open, cancelled and nonexistent orders
func (e *Exchange) OrderFilled(id uint64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok, err := e.kv.Get(filledKey(id))
	return ok, err
}

func (e *Exchange) OrderStatus(id uint64) (OrderStatus, error) {
	_, status, err := e.OrderWithStatus(id)
	return status, err
}

// OrderWithStatus reads the order and its status under one lock, so a
// concurrent cancel or fill cannot land between the two
func (e *Exchange) OrderWithStatus(id uint64) (*Order, OrderStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := newTxn(e.kv)
	order, err := loadOrder(tx, id)
	if err != nil {
		return nil, OrderOpen, err
	}
	status, err := orderStatus(tx, id)
	if err != nil {
		return nil, OrderOpen, err
	}
	return order, status, nil
}

func loadOrder(tx *txn, id uint64) (*Order, error) {
	raw, ok, err := tx.get(orderKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	var order Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("decode order %d: %w", id, err)
	}
	return &order, nil
}

func orderStatus(tx *txn, id uint64) (OrderStatus, error) {
	if _, ok, err := tx.get(cancelledKey(id)); err != nil {
		return OrderOpen, err
	} else if ok {
		return OrderCancelled, nil
	}
	if _, ok, err := tx.get(filledKey(id)); err != nil {
		return OrderOpen, err
	} else if ok {
		return OrderFilled, nil
	}
	return OrderOpen, nil
}

func checkOpen(tx *txn, id uint64) error {
	status, err := orderStatus(tx, id)
	if err != nil {
		return err
	}
	if status != OrderOpen {
		return fmt.Errorf("%w: order %d is %s", ErrOrderClosed, id, status)
	}
	return nil
}

// nextTimestamp reads the clock and never returns less than the last
// timestamp handed out
func (e *Exchange) nextTimestamp(tx *txn) (uint64, error) {
	now := e.Clock.Now().Unix()
	ts := uint64(0)
	if now > 0 {
		ts = uint64(now)
	}

	raw, _, err := tx.get(keyLastTimestamp)
	if err != nil {
		return 0, err
	}
	if last := storage.DecodeUint64(raw); ts < last {
		ts = last
	}
	if err := tx.set(keyLastTimestamp, storage.EncodeUint64(ts)); err != nil {
		return 0, err
	}
	return ts, nil
}
