package crypto

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain separates signatures across deployments and chains
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address // the exchange custody address
}

// NewDomain returns the exchange's signing domain for chainID
func NewDomain(chainID int64, exchange common.Address) EIP712Domain {
	return EIP712Domain{
		Name:              "escrowdex",
		Version:           "1",
		ChainID:           big.NewInt(chainID),
		VerifyingContract: exchange,
	}
}

// CallEIP712 is the typed struct a wallet signs to authorize one exchange call.
// Params is the JSON encoding of the method's arguments, signed as-is.
type CallEIP712 struct {
	Method string
	Params string
	Nonce  *big.Int
	Caller common.Address
}

// CallSigner hashes, signs and recovers exchange calls within one domain
type CallSigner struct {
	domain EIP712Domain
}

func NewCallSigner(domain EIP712Domain) *CallSigner {
	return &CallSigner{domain: domain}
}

func (c *CallSigner) Domain() EIP712Domain { return c.domain }

// TypedData returns the eth_signTypedData_v4 payload for call
func (c *CallSigner) TypedData(call *CallEIP712) apitypes.TypedData {
	nonce := call.Nonce
	if nonce == nil {
		nonce = new(big.Int)
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Call": []apitypes.Type{
				{Name: "method", Type: "string"},
				{Name: "params", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "caller", Type: "address"},
			},
		},
		PrimaryType: "Call",
		Domain: apitypes.TypedDataDomain{
			Name:              c.domain.Name,
			Version:           c.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(c.domain.ChainID),
			VerifyingContract: c.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"method": call.Method,
			"params": call.Params,
			"nonce":  nonce.String(),
			"caller": call.Caller.Hex(),
		},
	}
}

// HashCall returns the EIP-712 digest of call
func (c *CallSigner) HashCall(call *CallEIP712) ([]byte, error) {
	typedData := c.TypedData(call)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash call: %w", err)
	}

	// keccak256("\x19\x01" || domainSeparator || structHash)
	raw := make([]byte, 0, 2+len(domainSeparator)+len(structHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return crypto.Keccak256(raw), nil
}

func (c *CallSigner) SignCall(signer *Signer, call *CallEIP712) ([]byte, error) {
	hash, err := c.HashCall(call)
	if err != nil {
		return nil, err
	}
	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign call: %w", err)
	}
	return signature, nil
}

// RecoverCallSigner returns the address that signed call. The caller field
// is not trusted; compare the result against it.
func (c *CallSigner) RecoverCallSigner(call *CallEIP712, signature []byte) (common.Address, error) {
	hash, err := c.HashCall(call)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, signature)
}

// DecodeSignature decodes a hex signature, with or without 0x
func DecodeSignature(sig string) ([]byte, error) {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}
	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}
	return sigBytes, nil
}

// EncodeSignature is the inverse of DecodeSignature
func EncodeSignature(sig []byte) string {
	return "0x" + hex.EncodeToString(sig)
}
