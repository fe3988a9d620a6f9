package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/uhyunpark/escrowdex/pkg/crypto"
	"github.com/uhyunpark/escrowdex/pkg/exchange"
	"github.com/uhyunpark/escrowdex/pkg/storage"
	"github.com/uhyunpark/escrowdex/pkg/token"
)

var (
	exchangeAddr = common.HexToAddress("0xE8C0000000000000000000000000000000000000")
	feeAccount   = common.HexToAddress("0xFEE0000000000000000000000000000000000000")
	dappAddr     = common.HexToAddress("0xDA00000000000000000000000000000000000001")
)

const chainID = 1337

type testEnv struct {
	srv     *Server
	http    *httptest.Server
	ex      *exchange.Exchange
	dapp    *token.Token
	signer  *crypto.CallSigner
	alice   *crypto.Signer
	bob     *crypto.Signer
	journal *recordingJournal
	nonces  map[common.Address]uint64
}

type recordingJournal struct {
	kinds []string
}

func (j *recordingJournal) Append(kind string, _ map[string]any) error {
	j.kinds = append(j.kinds, kind)
	return nil
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	kv := storage.NewMemKV()

	native := token.NewNative(kv)
	dapp := token.New(kv, dappAddr, "DApp Token", "DAPP", 18)
	registry := token.NewRegistry()
	if err := registry.Register(dapp); err != nil {
		t.Fatalf("register: %v", err)
	}

	ex, err := exchange.New(kv, exchange.Config{Address: exchangeAddr, FeeAccount: feeAccount, FeePercent: 10}, native,
		exchange.TokenDirectoryFunc(func(addr common.Address) (exchange.TokenLedger, bool) {
			tok, ok := registry.Lookup(addr)
			if !ok {
				return nil, false
			}
			return tok, true
		}))
	if err != nil {
		t.Fatalf("new exchange: %v", err)
	}

	alice, _ := crypto.GenerateKey()
	bob, _ := crypto.GenerateKey()
	hundred, _ := uint256.FromDecimal("100000000000000000000")
	for _, s := range []*crypto.Signer{alice, bob} {
		if err := native.Mint(ctx, s.Address(), hundred); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}
	if err := dapp.Mint(ctx, alice.Address(), hundred); err != nil {
		t.Fatalf("mint dapp: %v", err)
	}

	callSigner := crypto.NewCallSigner(crypto.NewDomain(chainID, exchangeAddr))
	journal := &recordingJournal{}
	srv := NewServer(ex, registry, NewAuthenticator(kv, callSigner), Options{
		ChainID:  chainID,
		Journal:  journal,
		Registry: prometheus.NewRegistry(),
	})
	ex.Subscribe(srv.Hub())

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	return &testEnv{
		srv:     srv,
		http:    hs,
		ex:      ex,
		dapp:    dapp,
		signer:  callSigner,
		alice:   alice,
		bob:     bob,
		journal: journal,
		nonces:  make(map[common.Address]uint64),
	}
}

// signed builds a signed call with the signer's next nonce
func (e *testEnv) signed(t *testing.T, s *crypto.Signer, method string, params any) SignedCall {
	t.Helper()
	e.nonces[s.Address()]++
	return e.signedWithNonce(t, s, s.Address(), method, params, e.nonces[s.Address()])
}

func (e *testEnv) signedWithNonce(t *testing.T, s *crypto.Signer, caller common.Address, method string, params any, nonce uint64) SignedCall {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	sig, err := e.signer.SignCall(s, &crypto.CallEIP712{
		Method: method,
		Params: string(raw),
		Nonce:  new(big.Int).SetUint64(nonce),
		Caller: caller,
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return SignedCall{
		Call: Call{
			Method: method,
			Params: string(raw),
			Nonce:  strconv.FormatUint(nonce, 10),
			Caller: caller.Hex(),
		},
		Signature: crypto.EncodeSignature(sig),
	}
}

func (e *testEnv) post(t *testing.T, call SignedCall) (*http.Response, []byte) {
	t.Helper()
	body, _ := json.Marshal(call)
	resp, err := http.Post(e.http.URL+"/api/v1/calls", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func (e *testEnv) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func expectStatus(t *testing.T, resp *http.Response, body []byte, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d (body: %s)", resp.StatusCode, want, body)
	}
}

func TestHealthAndExchangeInfo(t *testing.T) {
	env := newTestEnv(t)

	if code := env.get(t, "/health", nil); code != http.StatusOK {
		t.Errorf("health status = %d", code)
	}

	var info ExchangeInfo
	if code := env.get(t, "/api/v1/exchange", &info); code != http.StatusOK {
		t.Fatalf("exchange status = %d", code)
	}
	if info.FeePercent != 10 || info.FeeAccount != feeAccount.Hex() || info.ChainID != chainID {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestSignedDeposit(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, env.signed(t, env.alice, "depositEther", AmountParams{Amount: "1ether"}))
	expectStatus(t, resp, body, http.StatusOK)

	var out CallResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Events) != 1 || out.Events[0].Event != "Deposit" {
		t.Fatalf("unexpected events: %+v", out.Events)
	}
	if out.Caller != env.alice.Address().Hex() {
		t.Errorf("caller = %s, want %s", out.Caller, env.alice.Address().Hex())
	}

	var bal BalanceInfo
	path := fmt.Sprintf("/api/v1/balances/%s/%s", exchange.EtherAddress.Hex(), env.alice.Address().Hex())
	if code := env.get(t, path, &bal); code != http.StatusOK {
		t.Fatalf("balance status = %d", code)
	}
	if bal.Balance != "1000000000000000000" {
		t.Errorf("balance = %s, want 1 ether", bal.Balance)
	}

	if len(env.journal.kinds) != 1 {
		t.Errorf("journal entries = %d, want 1", len(env.journal.kinds))
	}
}

func TestReplayAndForgeryRejected(t *testing.T) {
	env := newTestEnv(t)

	call := env.signed(t, env.alice, "depositEther", AmountParams{Amount: "1"})
	resp, body := env.post(t, call)
	expectStatus(t, resp, body, http.StatusOK)

	t.Run("replay", func(t *testing.T) {
		resp, body := env.post(t, call)
		expectStatus(t, resp, body, http.StatusConflict)
	})

	t.Run("forged caller", func(t *testing.T) {
		// bob signs a call that claims to come from alice
		forged := env.signedWithNonce(t, env.bob, env.alice.Address(), "withdrawEther", AmountParams{Amount: "1"}, 99)
		resp, body := env.post(t, forged)
		expectStatus(t, resp, body, http.StatusUnauthorized)
	})

	t.Run("tampered params", func(t *testing.T) {
		tampered := env.signed(t, env.alice, "withdrawEther", AmountParams{Amount: "1"})
		tampered.Call.Params = `{"amount":"2"}`
		resp, body := env.post(t, tampered)
		expectStatus(t, resp, body, http.StatusUnauthorized)
	})

	bal, _ := env.ex.BalanceOf(exchange.EtherAddress, env.alice.Address())
	if bal.Uint64() != 1 {
		t.Errorf("escrow = %s, want 1", bal.Dec())
	}
	if len(env.journal.kinds) != 1 {
		t.Errorf("rejected calls must not be journaled, got %d entries", len(env.journal.kinds))
	}
}

func TestOrderLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, env.signed(t, env.alice, "makeOrder", MakeOrderParams{
		TokenGet:   dappAddr.Hex(),
		AmountGet:  "1tokens",
		TokenGive:  exchange.EtherAddress.Hex(),
		AmountGive: "1ether",
	}))
	expectStatus(t, resp, body, http.StatusOK)

	var info OrderInfo
	if code := env.get(t, "/api/v1/orders/1", &info); code != http.StatusOK {
		t.Fatalf("get order status = %d", code)
	}
	if info.Status != "open" || info.Order.ID != 1 || info.Order.User != env.alice.Address() {
		t.Errorf("unexpected order: %+v", info)
	}

	resp, body = env.post(t, env.signed(t, env.bob, "cancelOrder", OrderIDParams{ID: 1}))
	expectStatus(t, resp, body, http.StatusForbidden)

	resp, body = env.post(t, env.signed(t, env.alice, "cancelOrder", OrderIDParams{ID: 99999}))
	expectStatus(t, resp, body, http.StatusNotFound)

	resp, body = env.post(t, env.signed(t, env.alice, "cancelOrder", OrderIDParams{ID: 1}))
	expectStatus(t, resp, body, http.StatusOK)

	var cancelled CancelledInfo
	env.get(t, "/api/v1/orders/1/cancelled", &cancelled)
	if !cancelled.Cancelled {
		t.Error("order should read as cancelled")
	}

	resp, body = env.post(t, env.signed(t, env.alice, "cancelOrder", OrderIDParams{ID: 1}))
	expectStatus(t, resp, body, http.StatusConflict)

	if code := env.get(t, "/api/v1/orders/99", nil); code != http.StatusNotFound {
		t.Errorf("missing order status = %d, want 404", code)
	}
}

func TestFillOverAPI(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// alice escrows DAPP and offers it for ether; bob fills
	approved, _ := uint256.FromDecimal("10000000000000000000")
	if err := env.dapp.Approve(ctx, env.alice.Address(), exchangeAddr, approved); err != nil {
		t.Fatalf("approve: %v", err)
	}
	steps := []struct {
		signer *crypto.Signer
		method string
		params any
	}{
		{env.alice, "depositToken", TokenAmountParams{Token: dappAddr.Hex(), Amount: "10tokens"}},
		{env.bob, "depositEther", AmountParams{Amount: "2ether"}},
		{env.alice, "makeOrder", MakeOrderParams{TokenGet: exchange.EtherAddress.Hex(), AmountGet: "1ether", TokenGive: dappAddr.Hex(), AmountGive: "10tokens"}},
		{env.bob, "fillOrder", OrderIDParams{ID: 1}},
	}
	for _, step := range steps {
		resp, body := env.post(t, env.signed(t, step.signer, step.method, step.params))
		expectStatus(t, resp, body, http.StatusOK)
	}

	var info OrderInfo
	env.get(t, "/api/v1/orders/1", &info)
	if info.Status != "filled" || !info.Filled {
		t.Errorf("status = %s, want filled", info.Status)
	}

	var bal BalanceInfo
	env.get(t, fmt.Sprintf("/api/v1/balances/%s/%s", dappAddr.Hex(), env.bob.Address().Hex()), &bal)
	if bal.Balance != "9000000000000000000" {
		t.Errorf("filler proceeds = %s, want 9 tokens", bal.Balance)
	}
}

func TestApproveAndDepositToken(t *testing.T) {
	env := newTestEnv(t)
	bob := env.bob.Address()

	// bob starts with no DAPP: alice sends some, bob approves the exchange
	// and escrows it, all through signed calls
	steps := []struct {
		signer *crypto.Signer
		method string
		params any
	}{
		{env.alice, "transfer", TransferParams{Token: dappAddr.Hex(), To: bob.Hex(), Amount: "10tokens"}},
		{env.bob, "approve", ApproveParams{Token: dappAddr.Hex(), Spender: exchangeAddr.Hex(), Amount: "10tokens"}},
		{env.bob, "depositToken", TokenAmountParams{Token: dappAddr.Hex(), Amount: "10tokens"}},
	}
	for _, step := range steps {
		resp, body := env.post(t, env.signed(t, step.signer, step.method, step.params))
		expectStatus(t, resp, body, http.StatusOK)
	}

	ten, _ := uint256.FromDecimal("10000000000000000000")
	escrow, _ := env.ex.BalanceOf(dappAddr, bob)
	if !escrow.Eq(ten) {
		t.Errorf("escrow = %s, want 10 tokens", escrow.Dec())
	}
	held, _ := env.dapp.BalanceOf(context.Background(), bob)
	if !held.IsZero() {
		t.Errorf("wallet balance = %s, want 0", held.Dec())
	}
	allowance, _ := env.dapp.Allowance(context.Background(), bob, exchangeAddr)
	if !allowance.IsZero() {
		t.Errorf("allowance = %s, want spent", allowance.Dec())
	}

	t.Run("rejections", func(t *testing.T) {
		tests := []struct {
			name   string
			method string
			params any
			want   int
		}{
			{"transfer over balance", "transfer", TransferParams{Token: dappAddr.Hex(), To: env.alice.Address().Hex(), Amount: "1tokens"}, http.StatusUnprocessableEntity},
			{"transfer to zero address", "transfer", TransferParams{Token: dappAddr.Hex(), To: exchange.EtherAddress.Hex(), Amount: "0"}, http.StatusBadRequest},
			{"approve zero spender", "approve", ApproveParams{Token: dappAddr.Hex(), Spender: exchange.EtherAddress.Hex(), Amount: "1"}, http.StatusBadRequest},
			{"unregistered token", "approve", ApproveParams{Token: exchange.EtherAddress.Hex(), Spender: exchangeAddr.Hex(), Amount: "1"}, http.StatusBadRequest},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				resp, body := env.post(t, env.signed(t, env.bob, tt.method, tt.params))
				expectStatus(t, resp, body, tt.want)
			})
		}
	})
}

func TestCallErrorStatuses(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		params any
		want   int
	}{
		{"token deposit without approval", "depositToken", TokenAmountParams{Token: dappAddr.Hex(), Amount: "1"}, http.StatusUnprocessableEntity},
		{"token deposit of ether", "depositToken", TokenAmountParams{Token: exchange.EtherAddress.Hex(), Amount: "1"}, http.StatusBadRequest},
		{"overdraw", "withdrawEther", AmountParams{Amount: "1"}, http.StatusUnprocessableEntity},
		{"zero deposit", "depositEther", AmountParams{Amount: "0"}, http.StatusBadRequest},
		{"bad amount", "depositEther", AmountParams{Amount: "lots"}, http.StatusBadRequest},
		{"bad address", "depositToken", TokenAmountParams{Token: "nope", Amount: "1"}, http.StatusBadRequest},
		{"unknown method", "selfdestruct", AmountParams{}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.post(t, env.signed(t, env.bob, tt.method, tt.params))
			expectStatus(t, resp, body, tt.want)
		})
	}
}

func TestEventsPaging(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		resp, body := env.post(t, env.signed(t, env.alice, "depositEther", AmountParams{Amount: "1"}))
		expectStatus(t, resp, body, http.StatusOK)
	}

	var page EventsPage
	if code := env.get(t, "/api/v1/events?from=1&limit=2", &page); code != http.StatusOK {
		t.Fatalf("events status = %d", code)
	}
	if len(page.Events) != 2 || page.Next != 3 {
		t.Fatalf("page = %d events, next %d; want 2, 3", len(page.Events), page.Next)
	}

	env.get(t, "/api/v1/events?from=3", &page)
	if len(page.Events) != 1 || page.Events[0].Seq != 3 {
		t.Errorf("second page = %+v", page.Events)
	}

	if code := env.get(t, "/api/v1/events?limit=-1", nil); code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", code)
	}
}

func TestMetricsAndRequestID(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.http.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get(requestIDHeader) == "" {
		t.Error("missing request id header")
	}

	req, _ := http.NewRequest(http.MethodGet, env.http.URL+"/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(requestIDHeader); got != "abc-123" {
		t.Errorf("request id = %q, want the client's", got)
	}

	resp, err = http.Get(env.http.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), `http_requests_total{method="GET",path="/health",status="200"}`) {
		t.Errorf("metrics output missing request counter:\n%s", buf.String())
	}
}

func TestHubRoutesByAccount(t *testing.T) {
	hub := NewHub(nil)
	alice := common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob := common.HexToAddress("0x2222222222222222222222222222222222222222")

	newClient := func(channels ...string) *Client {
		c := &Client{hub: hub, send: make(chan []byte, 8), subscriptions: make(map[string]bool)}
		for _, ch := range channels {
			c.Subscribe(ch)
		}
		hub.clients[c] = true
		return c
	}

	all := newClient(channelEvents)
	aliceOnly := newClient("account:" + alice.Hex()) // mixed case is normalized
	bobOnly := newClient(AccountChannel(bob))

	hub.Publish(context.Background(), exchange.LogEntry{
		Seq:   1,
		Event: "Trade",
		Args:  map[string]string{"user": alice.Hex(), "userFill": alice.Hex()},
	})

	if len(all.send) != 1 {
		t.Errorf("events subscriber got %d messages, want 1", len(all.send))
	}
	if len(aliceOnly.send) != 1 {
		t.Errorf("account subscriber got %d messages, want 1", len(aliceOnly.send))
	}
	if len(bobOnly.send) != 0 {
		t.Errorf("unrelated account got %d messages, want 0", len(bobOnly.send))
	}

	var msg WSEvent
	if err := json.Unmarshal(<-aliceOnly.send, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Entry.Seq != 1 || msg.Channel != AccountChannel(alice) {
		t.Errorf("unexpected message: %+v", msg)
	}
}
