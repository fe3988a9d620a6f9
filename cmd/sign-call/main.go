package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/uhyunpark/escrowdex/pkg/api"
	"github.com/uhyunpark/escrowdex/pkg/crypto"
)

var RootCmd = &cobra.Command{
	Use:   "sign-call",
	Short: "Build and sign an exchange call for POST /api/v1/calls.",
	Example: `  sign-call --key $KEY --method depositEther --params '{"amount":"1ether"}' --nonce 1
  sign-call --key $KEY --method makeOrder --nonce 2 \
    --params '{"tokenGet":"0xDA00000000000000000000000000000000000001","amountGet":"10tokens","tokenGive":"0x0000000000000000000000000000000000000000","amountGive":"1ether"}' \
    --submit http://localhost:8080`,
	RunE: runSign,
}

var (
	keyHex, method, params, exchangeAddr, submitURL string
	nonce                                          uint64
	chainID                                        int64
)

func init() {
	RootCmd.Flags().StringVar(&keyHex, "key", "", "Hex private key of the caller. A fresh key is generated when empty")
	RootCmd.Flags().StringVar(&method, "method", "", "Method: depositEther, withdrawEther, depositToken, withdrawToken, makeOrder, cancelOrder, fillOrder, approve, transfer")
	RootCmd.Flags().StringVar(&params, "params", "{}", "JSON params of the method")
	RootCmd.Flags().Uint64Var(&nonce, "nonce", 1, "Call nonce, must exceed the caller's last accepted nonce")
	RootCmd.Flags().Int64Var(&chainID, "chain-id", 1337, "EIP-712 chain id")
	RootCmd.Flags().StringVar(&exchangeAddr, "exchange", "0xE8C0000000000000000000000000000000000000", "Exchange custody address (EIP-712 verifying contract)")
	RootCmd.Flags().StringVar(&submitURL, "submit", "", "Node base URL; when set the signed call is posted")
	RootCmd.MarkFlagRequired("method")
}

func runSign(cmd *cobra.Command, args []string) error {
	signer, err := loadSigner()
	if err != nil {
		return err
	}
	if !common.IsHexAddress(exchangeAddr) {
		return fmt.Errorf("invalid exchange address %q", exchangeAddr)
	}
	if !json.Valid([]byte(params)) {
		return fmt.Errorf("params must be valid JSON")
	}

	callSigner := crypto.NewCallSigner(crypto.NewDomain(chainID, common.HexToAddress(exchangeAddr)))
	call := &crypto.CallEIP712{
		Method: method,
		Params: params,
		Nonce:  new(big.Int).SetUint64(nonce),
		Caller: signer.Address(),
	}
	sig, err := callSigner.SignCall(signer, call)
	if err != nil {
		return err
	}

	signed := api.SignedCall{
		Call: api.Call{
			Method: method,
			Params: params,
			Nonce:  strconv.FormatUint(nonce, 10),
			Caller: signer.Address().Hex(),
		},
		Signature: crypto.EncodeSignature(sig),
	}
	body, err := json.MarshalIndent(signed, "", "  ")
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, string(body))

	if submitURL == "" {
		return nil
	}
	return submit(out, body)
}

func loadSigner() (*crypto.Signer, error) {
	if keyHex != "" {
		return crypto.FromPrivateKeyHex(keyHex)
	}
	signer, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "generated key for %s: %s (KEEP SECRET!)\n", signer.Address().Hex(), signer.PrivateKeyHex())
	return signer, nil
}

func submit(out io.Writer, body []byte) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(submitURL+"/api/v1/calls", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	fmt.Fprintf(out, "%s\n%s\n", resp.Status, reply)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("call rejected: %s", resp.Status)
	}
	return nil
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
