package api

import (
	"github.com/uhyunpark/escrowdex/pkg/exchange"
)

// API request and response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

type ExchangeInfo struct {
	Address    string `json:"address"` // custody account
	FeeAccount string `json:"feeAccount"`
	FeePercent uint64 `json:"feePercent"`
	OrderCount uint64 `json:"orderCount"`
	ChainID    int64  `json:"chainId"`
}

type BalanceInfo struct {
	Token   string `json:"token"`
	Address string `json:"address"`
	Balance string `json:"balance"` // smallest units, decimal
}

type OrderInfo struct {
	Order     *exchange.Order `json:"order"`
	Status    string          `json:"status"` // "open", "cancelled", "filled"
	Cancelled bool            `json:"cancelled"`
	Filled    bool            `json:"filled"`
}

type CancelledInfo struct {
	ID        uint64 `json:"id"`
	Cancelled bool   `json:"cancelled"`
}

type EventsPage struct {
	Events []exchange.LogEntry `json:"events"`
	Next   uint64              `json:"next"` // seq to request next
}

type TokenInfo struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"totalSupply"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// Signed calls
// ==============================

// Call is the signed payload. Params is the JSON-encoded argument object for
// Method, carried as a string so the signature covers its exact bytes.
type Call struct {
	Method string `json:"method"`
	Params string `json:"params"`
	Nonce  string `json:"nonce"` // decimal
	Caller string `json:"caller"`
}

type SignedCall struct {
	Call      Call   `json:"call"`
	Signature string `json:"signature"` // hex, 65 bytes
}

type CallResponse struct {
	Status string              `json:"status"`
	Method string              `json:"method"`
	Caller string              `json:"caller"`
	Events []exchange.LogEntry `json:"events"`
}

// Method params. Amounts are smallest-unit integers, or human amounts with
// an "ether"/"tokens" suffix.

type AmountParams struct {
	Amount string `json:"amount"`
}

type TokenAmountParams struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type MakeOrderParams struct {
	TokenGet   string `json:"tokenGet"`
	AmountGet  string `json:"amountGet"`
	TokenGive  string `json:"tokenGive"`
	AmountGive string `json:"amountGive"`
}

type OrderIDParams struct {
	ID uint64 `json:"id"`
}

// Token ledger calls, run against the registered token with the caller as owner

type ApproveParams struct {
	Token   string `json:"token"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type TransferParams struct {
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by clients to (un)subscribe
// Example: {"op":"subscribe","channels":["events","account:0xabc..."]}
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// WSEvent is pushed for every committed log entry
type WSEvent struct {
	Type    string            `json:"type"` // always "event"
	Channel string            `json:"channel"`
	Entry   exchange.LogEntry `json:"entry"`
}
