package exchange

import "errors"

// Every failed call is rejected as a whole; nothing is retried internally.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAsset        = errors.New("invalid asset")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderClosed         = errors.New("order already cancelled or filled")
	ErrTransferFailed      = errors.New("underlying transfer failed")
	ErrDirectPayment       = errors.New("direct payments are not accepted, use depositEther")
	ErrOverflow            = errors.New("amount overflow")
)
