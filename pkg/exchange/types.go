package exchange

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EtherAddress is the asset identifier of the native settlement asset
var EtherAddress = common.Address{}

// OrderStatus represents the lifecycle state of an order
type OrderStatus int8

const (
	OrderOpen OrderStatus = iota
	OrderCancelled
	OrderFilled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderOpen:
		return "open"
	case OrderCancelled:
		return "cancelled"
	case OrderFilled:
		return "filled"
	default:
		return "unknown"
	}
}

// Order is a standing offer to exchange AmountGive of TokenGive for
// AmountGet of TokenGet. Immutable once stored; lifecycle lives in the
// cancellation and fill ledgers.
type Order struct {
	ID         uint64
	User       common.Address
	TokenGet   common.Address
	AmountGet  *uint256.Int
	TokenGive  common.Address
	AmountGive *uint256.Int
	Timestamp  uint64 // Unix seconds
}

// orderJSON is the stored and wire form; amounts are decimal strings
type orderJSON struct {
	ID         uint64 `json:"id"`
	User       string `json:"user"`
	TokenGet   string `json:"tokenGet"`
	AmountGet  string `json:"amountGet"`
	TokenGive  string `json:"tokenGive"`
	AmountGive string `json:"amountGive"`
	Timestamp  uint64 `json:"timestamp"`
}

func (o *Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderJSON{
		ID:         o.ID,
		User:       o.User.Hex(),
		TokenGet:   o.TokenGet.Hex(),
		AmountGet:  o.AmountGet.Dec(),
		TokenGive:  o.TokenGive.Hex(),
		AmountGive: o.AmountGive.Dec(),
		Timestamp:  o.Timestamp,
	})
}

func (o *Order) UnmarshalJSON(data []byte) error {
	var raw orderJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	amountGet, err := uint256.FromDecimal(raw.AmountGet)
	if err != nil {
		return fmt.Errorf("amountGet: %w", err)
	}
	amountGive, err := uint256.FromDecimal(raw.AmountGive)
	if err != nil {
		return fmt.Errorf("amountGive: %w", err)
	}
	*o = Order{
		ID:         raw.ID,
		User:       common.HexToAddress(raw.User),
		TokenGet:   common.HexToAddress(raw.TokenGet),
		AmountGet:  amountGet,
		TokenGive:  common.HexToAddress(raw.TokenGive),
		AmountGive: amountGive,
		Timestamp:  raw.Timestamp,
	}
	return nil
}
