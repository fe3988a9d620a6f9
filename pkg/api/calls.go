package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowdex/pkg/crypto"
	"github.com/uhyunpark/escrowdex/pkg/exchange"
	"github.com/uhyunpark/escrowdex/pkg/storage"
	"github.com/uhyunpark/escrowdex/pkg/token"
	"github.com/uhyunpark/escrowdex/pkg/units"
)

var (
	ErrBadSignature  = errors.New("signature does not match caller")
	ErrStaleNonce    = errors.New("nonce already used")
	ErrUnknownMethod = errors.New("unknown method")
	ErrBadParams     = errors.New("invalid params")
)

// Authenticator turns a signed call into an authenticated caller identity.
// Nonces are strictly increasing per caller and persisted next to the
// ledger, so a replay is rejected across restarts too.
type Authenticator struct {
	mu     sync.Mutex
	kv     storage.KV
	signer *crypto.CallSigner
}

func NewAuthenticator(kv storage.KV, signer *crypto.CallSigner) *Authenticator {
	return &Authenticator{kv: kv, signer: signer}
}

func nonceKey(addr common.Address) []byte {
	return []byte("nonce:" + addr.Hex())
}

// LastNonce returns the highest nonce accepted from addr, 0 if none
func (a *Authenticator) LastNonce(addr common.Address) (uint64, error) {
	raw, _, err := a.kv.Get(nonceKey(addr))
	if err != nil {
		return 0, err
	}
	return storage.DecodeUint64(raw), nil
}

// Authenticate verifies the signature and consumes the nonce. The nonce is
// spent even if the call later fails in the exchange.
func (a *Authenticator) Authenticate(req *SignedCall) (common.Address, error) {
	if !common.IsHexAddress(req.Call.Caller) {
		return common.Address{}, fmt.Errorf("%w: caller %q", ErrBadParams, req.Call.Caller)
	}
	caller := common.HexToAddress(req.Call.Caller)

	nonce, err := strconv.ParseUint(req.Call.Nonce, 10, 64)
	if err != nil || nonce == 0 {
		return common.Address{}, fmt.Errorf("%w: nonce %q", ErrBadParams, req.Call.Nonce)
	}

	sig, err := crypto.DecodeSignature(req.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	recovered, err := a.signer.RecoverCallSigner(&crypto.CallEIP712{
		Method: req.Call.Method,
		Params: req.Call.Params,
		Nonce:  new(big.Int).SetUint64(nonce),
		Caller: caller,
	}, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if recovered != caller {
		return common.Address{}, ErrBadSignature
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	last, err := a.LastNonce(caller)
	if err != nil {
		return common.Address{}, err
	}
	if nonce <= last {
		return common.Address{}, fmt.Errorf("%w: got %d, last %d", ErrStaleNonce, nonce, last)
	}
	if err := a.kv.Apply([]storage.Write{storage.Put(nonceKey(caller), storage.EncodeUint64(nonce))}); err != nil {
		return common.Address{}, err
	}
	return caller, nil
}

// dispatch runs an authenticated call against the exchange
func (s *Server) dispatch(ctx context.Context, caller common.Address, method, params string) (*exchange.Receipt, error) {
	switch method {
	case "depositEther", "withdrawEther":
		var p AmountParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		amount, err := s.parseAmount(p.Amount, exchange.EtherAddress)
		if err != nil {
			return nil, err
		}
		if method == "depositEther" {
			return s.ex.DepositEther(ctx, caller, amount)
		}
		return s.ex.WithdrawEther(ctx, caller, amount)

	case "depositToken", "withdrawToken":
		var p TokenAmountParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		tok, err := parseAddress("token", p.Token)
		if err != nil {
			return nil, err
		}
		amount, err := s.parseAmount(p.Amount, tok)
		if err != nil {
			return nil, err
		}
		if method == "depositToken" {
			return s.ex.DepositToken(ctx, caller, tok, amount)
		}
		return s.ex.WithdrawToken(ctx, caller, tok, amount)

	case "makeOrder":
		var p MakeOrderParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		tokenGet, err := parseAddress("tokenGet", p.TokenGet)
		if err != nil {
			return nil, err
		}
		tokenGive, err := parseAddress("tokenGive", p.TokenGive)
		if err != nil {
			return nil, err
		}
		amountGet, err := s.parseAmount(p.AmountGet, tokenGet)
		if err != nil {
			return nil, err
		}
		amountGive, err := s.parseAmount(p.AmountGive, tokenGive)
		if err != nil {
			return nil, err
		}
		return s.ex.MakeOrder(ctx, caller, tokenGet, amountGet, tokenGive, amountGive)

	case "cancelOrder", "fillOrder":
		var p OrderIDParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if method == "cancelOrder" {
			return s.ex.CancelOrder(ctx, caller, p.ID)
		}
		return s.ex.FillOrder(ctx, caller, p.ID)

	case "approve":
		var p ApproveParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		tok, err := s.lookupToken(p.Token)
		if err != nil {
			return nil, err
		}
		spender, err := parseAddress("spender", p.Spender)
		if err != nil {
			return nil, err
		}
		amount, err := s.parseAmount(p.Amount, tok.Address())
		if err != nil {
			return nil, err
		}
		if err := tok.Approve(ctx, caller, spender, amount); err != nil {
			return nil, err
		}
		return &exchange.Receipt{}, nil

	case "transfer":
		var p TransferParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		tok, err := s.lookupToken(p.Token)
		if err != nil {
			return nil, err
		}
		to, err := parseAddress("to", p.To)
		if err != nil {
			return nil, err
		}
		amount, err := s.parseAmount(p.Amount, tok.Address())
		if err != nil {
			return nil, err
		}
		if err := tok.Transfer(ctx, caller, to, amount); err != nil {
			return nil, err
		}
		return &exchange.Receipt{}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}

// lookupToken resolves a registered token contract; the native asset has none
func (s *Server) lookupToken(raw string) (*token.Token, error) {
	addr, err := parseAddress("token", raw)
	if err != nil {
		return nil, err
	}
	tok, ok := s.tokens.Lookup(addr)
	if !ok {
		return nil, fmt.Errorf("%w: token %s is not registered", ErrBadParams, addr.Hex())
	}
	return tok, nil
}

func decodeParams(params string, v any) error {
	if err := json.Unmarshal([]byte(params), v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadParams, err)
	}
	return nil
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s %q is not an address", ErrBadParams, field, s)
	}
	return common.HexToAddress(s), nil
}

// parseAmount scales suffixed amounts by the asset's decimals
func (s *Server) parseAmount(raw string, asset common.Address) (*uint256.Int, error) {
	decimals := int32(units.EtherDecimals)
	if asset != exchange.EtherAddress {
		if t, ok := s.tokens.Lookup(asset); ok {
			decimals = int32(t.Decimals())
		}
	}
	amount, err := units.ParseAmount(raw, decimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadParams, err)
	}
	return amount, nil
}
