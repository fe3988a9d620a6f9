package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/escrowdex/pkg/exchange"
	"github.com/uhyunpark/escrowdex/pkg/storage"
	"github.com/uhyunpark/escrowdex/pkg/token"
)

const maxEventsPage = 500

type Options struct {
	ChainID        int64
	Journal        storage.Journal      // accepted calls; nil disables
	Logger         *zap.SugaredLogger   // nil logs nothing
	Registry       *prometheus.Registry // nil disables /metrics
	AllowedOrigins []string
}

// Server handles REST API and WebSocket connections
type Server struct {
	ex       *exchange.Exchange
	tokens   *token.Registry
	auth     *Authenticator
	router   *mux.Router
	hub      *Hub
	journal  storage.Journal
	logger   *zap.SugaredLogger
	metrics  *HTTPMetrics
	registry *prometheus.Registry
	opts     Options
	httpSrv  *http.Server
}

func NewServer(ex *exchange.Exchange, tokens *token.Registry, auth *Authenticator, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Journal == nil {
		opts.Journal = storage.NewNopWAL()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:3001"}
	}

	s := &Server{
		ex:       ex,
		tokens:   tokens,
		auth:     auth,
		router:   mux.NewRouter(),
		hub:      NewHub(opts.Logger),
		journal:  opts.Journal,
		logger:   opts.Logger,
		registry: opts.Registry,
		opts:     opts,
	}
	if opts.Registry != nil {
		s.metrics = NewHTTPMetrics(opts.Registry)
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(requestIDMiddleware, s.observeMiddleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/exchange", s.handleGetExchange).Methods("GET")
	api.HandleFunc("/balances/{token}/{address}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}/cancelled", s.handleGetOrderCancelled).Methods("GET")
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")
	api.HandleFunc("/tokens", s.handleGetTokens).Methods("GET")

	// Signed exchange calls
	api.HandleFunc("/calls", s.handleSubmitCall).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")
	}
}

// Hub is the websocket hub; subscribe it to the exchange to stream events
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the router wrapped in CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", requestIDHeader},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start runs the hub and serves until Shutdown
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infow("api_server_starting", "addr", addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetExchange(w http.ResponseWriter, r *http.Request) {
	count, err := s.ex.OrderCount()
	if err != nil {
		s.respondCallError(w, r, err)
		return
	}

	respondJSON(w, ExchangeInfo{
		Address:    s.ex.Address().Hex(),
		FeeAccount: s.ex.FeeAccount().Hex(),
		FeePercent: s.ex.FeePercent(),
		OrderCount: count,
		ChainID:    s.opts.ChainID,
	})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !common.IsHexAddress(vars["token"]) || !common.IsHexAddress(vars["address"]) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	asset := common.HexToAddress(vars["token"])
	account := common.HexToAddress(vars["address"])

	bal, err := s.ex.BalanceOf(asset, account)
	if err != nil {
		s.respondCallError(w, r, err)
		return
	}

	respondJSON(w, BalanceInfo{
		Token:   asset.Hex(),
		Address: account.Hex(),
		Balance: bal.Dec(),
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	order, status, err := s.ex.OrderWithStatus(id)
	if err != nil {
		s.respondCallError(w, r, err)
		return
	}

	respondJSON(w, OrderInfo{
		Order:     order,
		Status:    status.String(),
		Cancelled: status == exchange.OrderCancelled,
		Filled:    status == exchange.OrderFilled,
	})
}

func (s *Server) handleGetOrderCancelled(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	// false for unknown ids, like the underlying ledger
	cancelled, err := s.ex.OrderCancelled(id)
	if err != nil {
		s.respondCallError(w, r, err)
		return
	}
	respondJSON(w, CancelledInfo{ID: id, Cancelled: cancelled})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	from := uint64(1)
	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid from", err.Error())
			return
		}
		from = parsed
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", "")
			return
		}
		limit = min(parsed, maxEventsPage)
	}

	entries, err := s.ex.Events(from, limit)
	if err != nil {
		s.respondCallError(w, r, err)
		return
	}
	if entries == nil {
		entries = []exchange.LogEntry{}
	}

	next := from
	if n := len(entries); n > 0 {
		next = entries[n-1].Seq + 1
	}
	respondJSON(w, EventsPage{Events: entries, Next: next})
}

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	list := s.tokens.List()
	response := make([]TokenInfo, 0, len(list))
	for _, t := range list {
		supply, err := t.TotalSupply(r.Context())
		if err != nil {
			s.respondCallError(w, r, err)
			return
		}
		response = append(response, TokenInfo{
			Address:     t.Address().Hex(),
			Name:        t.Name(),
			Symbol:      t.Symbol(),
			Decimals:    t.Decimals(),
			TotalSupply: supply.Dec(),
		})
	}
	respondJSON(w, response)
}

func (s *Server) handleSubmitCall(w http.ResponseWriter, r *http.Request) {
	var req SignedCall
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Signature == "" {
		respondError(w, http.StatusBadRequest, "missing signature", "")
		return
	}

	caller, err := s.auth.Authenticate(&req)
	if err != nil {
		s.respondCallError(w, r, err)
		return
	}

	rcpt, err := s.dispatch(r.Context(), caller, req.Call.Method, req.Call.Params)
	if err != nil {
		s.respondCallError(w, r, err)
		return
	}

	if err := s.journal.Append("CALL", map[string]any{
		"method":     req.Call.Method,
		"params":     req.Call.Params,
		"nonce":      req.Call.Nonce,
		"caller":     caller.Hex(),
		"signature":  req.Signature,
		"request_id": r.Header.Get(requestIDHeader),
	}); err != nil {
		s.logger.Warnw("call_journal_failed", "error", err)
	}

	s.logger.Infow("call_accepted", "method", req.Call.Method, "caller", caller.Hex(), "events", len(rcpt.Entries))

	events := rcpt.Entries
	if events == nil {
		events = []exchange.LogEntry{}
	}
	respondJSON(w, CallResponse{
		Status: "ok",
		Method: req.Call.Method,
		Caller: caller.Hex(),
		Events: events,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

// statusFor maps call errors to HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadParams), errors.Is(err, ErrUnknownMethod),
		errors.Is(err, exchange.ErrInvalidAsset), errors.Is(err, exchange.ErrInvalidAmount),
		errors.Is(err, exchange.ErrDirectPayment), errors.Is(err, token.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, ErrBadSignature):
		return http.StatusUnauthorized
	case errors.Is(err, exchange.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, exchange.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, exchange.ErrOrderClosed), errors.Is(err, ErrStaleNonce):
		return http.StatusConflict
	case errors.Is(err, exchange.ErrInsufficientBalance), errors.Is(err, exchange.ErrTransferFailed),
		errors.Is(err, exchange.ErrOverflow), errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance), errors.Is(err, token.ErrOverflow):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondCallError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Errorw("request_failed", "path", r.URL.Path, "error", err, "request_id", r.Header.Get(requestIDHeader))
		respondError(w, status, "internal error", "")
		return
	}
	respondError(w, status, http.StatusText(status), err.Error())
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
