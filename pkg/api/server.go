// Package api exposes the runtime over REST and streams committed events
// over WebSocket.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/escrowdex/pkg/app/core/ledgererr"
	"github.com/uhyunpark/escrowdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/escrowdex/pkg/chain"
)

const (
	maxBodyBytes      = 1 << 16
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

// Config holds server options.
type Config struct {
	CORSOrigins []string
}

// Server handles REST API and WebSocket connections
type Server struct {
	rt     *chain.Runtime
	router *mux.Router
	hub    *Hub
	cfg    Config
	logger *zap.SugaredLogger
}

// NewServer creates a new API server
func NewServer(rt *chain.Runtime, cfg Config, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	s := &Server{
		rt:     rt,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
		cfg:    cfg,
		logger: logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestID)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Transaction submission
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")
	api.HandleFunc("/accounts/{address}/nonce", s.handleGetNonce).Methods("GET")

	// Token ledgers
	api.HandleFunc("/tokens", s.handleGetTokens).Methods("GET")
	api.HandleFunc("/tokens/{token}", s.handleGetToken).Methods("GET")
	api.HandleFunc("/tokens/{token}/balances/{owner}", s.handleGetTokenBalance).Methods("GET")
	api.HandleFunc("/tokens/{token}/allowances/{owner}/{spender}", s.handleGetAllowance).Methods("GET")

	// Exchange
	api.HandleFunc("/exchange", s.handleGetExchange).Methods("GET")
	api.HandleFunc("/exchange/balances/{token}/{user}", s.handleGetCustody).Methods("GET")
	api.HandleFunc("/exchange/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/exchange/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/exchange/book", s.handleGetBook).Methods("GET")
	api.HandleFunc("/exchange/trades", s.handleGetTrades).Methods("GET")

	// Journal
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Run serves on addr until ctx is done, relaying committed events to
// WebSocket clients.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.startWorkers(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Infow("api_server_listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) startWorkers(ctx context.Context) {
	receipts, cancel := s.rt.Subscribe(256)
	go s.hub.Run(ctx)
	go s.relayEvents(ctx, receipts, cancel)
}

// relayEvents fans every committed event out to "events" and
// "events:<Name>".
func (s *Server) relayEvents(ctx context.Context, receipts <-chan chain.Receipt, cancel func()) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case rcpt, ok := <-receipts:
			if !ok {
				return
			}
			s.broadcastReceipt(rcpt)
		}
	}
}

func (s *Server) broadcastReceipt(rcpt chain.Receipt) {
	for i, rec := range rcpt.Events {
		msg := EventMessage{
			Type:   "event",
			Seq:    rcpt.Seq,
			Index:  i,
			TxHash: rcpt.Hash,
			Time:   rcpt.Time.Unix(),
			Record: rec,
		}
		s.hub.BroadcastToChannels(msg, "events", "events:"+rec.Event.EventName())
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	var st chain.SignedTx
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&st); err != nil {
		respondError(w, http.StatusBadRequest, "invalid transaction", err.Error())
		return
	}
	if err := st.Verify(); err != nil {
		s.respondTxError(w, r, err)
		return
	}

	rcpt, err := s.rt.Execute(r.Context(), st.Tx)
	if err != nil {
		s.respondTxError(w, r, err)
		return
	}
	s.logger.Infow("tx_committed",
		"request_id", requestIDFrom(r.Context()),
		"seq", rcpt.Seq,
		"kind", rcpt.Kind,
		"from", rcpt.From.Hex(),
		"hash", rcpt.Hash.Hex())
	respondJSON(w, rcpt)
}

func (s *Server) respondTxError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	s.logger.Infow("tx_rejected",
		"request_id", requestIDFrom(r.Context()),
		"status", status,
		"err", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(status),
		Kind:    string(ledgererr.KindOf(err)),
		Message: err.Error(),
	})
}

// statusFor maps a failure to its HTTP status.
func statusFor(err error) int {
	switch ledgererr.KindOf(err) {
	case ledgererr.Unauthorized:
		return http.StatusForbidden
	case ledgererr.OrderNotFound, ledgererr.UnknownToken:
		return http.StatusNotFound
	case ledgererr.AlreadyCancelled, ledgererr.AlreadyFilled:
		return http.StatusConflict
	case ledgererr.InsufficientBalance, ledgererr.AllowanceExceeded,
		ledgererr.InvalidRecipient, ledgererr.InvalidAmount:
		return http.StatusBadRequest
	}
	switch {
	case errors.Is(err, chain.ErrBadNonce):
		return http.StatusConflict
	case errors.Is(err, chain.ErrHalted):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressVar(w, r, "address")
	if !ok {
		return
	}
	respondJSON(w, NonceInfo{Address: addr, Nonce: s.rt.Nonce(addr)})
}

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	tokens := s.rt.Tokens()
	response := make([]TokenInfo, len(tokens))
	for i, t := range tokens {
		response[i] = tokenInfo(t)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressVar(w, r, "token")
	if !ok {
		return
	}
	t, found := s.rt.Token(addr)
	if !found {
		respondError(w, http.StatusNotFound, "token not found", addr.Hex())
		return
	}
	respondJSON(w, tokenInfo(t))
}

func (s *Server) handleGetTokenBalance(w http.ResponseWriter, r *http.Request) {
	tok, ok := addressVar(w, r, "token")
	if !ok {
		return
	}
	owner, ok := addressVar(w, r, "owner")
	if !ok {
		return
	}
	bal, err := s.rt.TokenBalance(tok, owner)
	if err != nil {
		respondError(w, http.StatusNotFound, "token not found", err.Error())
		return
	}
	respondJSON(w, BalanceInfo{Token: tok, Owner: owner, Balance: quantity(bal)})
}

func (s *Server) handleGetAllowance(w http.ResponseWriter, r *http.Request) {
	tok, ok := addressVar(w, r, "token")
	if !ok {
		return
	}
	owner, ok := addressVar(w, r, "owner")
	if !ok {
		return
	}
	spender, ok := addressVar(w, r, "spender")
	if !ok {
		return
	}
	allowance, err := s.rt.Allowance(tok, owner, spender)
	if err != nil {
		respondError(w, http.StatusNotFound, "token not found", err.Error())
		return
	}
	respondJSON(w, AllowanceInfo{Token: tok, Owner: owner, Spender: spender, Allowance: quantity(allowance)})
}

func (s *Server) handleGetExchange(w http.ResponseWriter, r *http.Request) {
	ex := s.rt.Exchange()
	respondJSON(w, ExchangeInfo{
		Address:    ex.Address,
		FeeAccount: ex.FeeAccount,
		FeePercent: ex.FeePercent,
		OrderCount: ex.OrderCount,
		Head:       s.rt.Head(),
	})
}

func (s *Server) handleGetCustody(w http.ResponseWriter, r *http.Request) {
	tok, ok := addressVar(w, r, "token")
	if !ok {
		return
	}
	user, ok := addressVar(w, r, "user")
	if !ok {
		return
	}
	respondJSON(w, CustodyInfo{Token: tok, User: user, Balance: quantity(s.rt.CustodyBalance(tok, user))})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	var openOnly bool
	switch status := r.URL.Query().Get("status"); status {
	case "", "all":
	case "open":
		openOnly = true
	default:
		respondError(w, http.StatusBadRequest, "invalid status", "expected open or all")
		return
	}

	orders := s.rt.Orders(openOnly)
	response := make([]OrderInfo, len(orders))
	for i, o := range orders {
		response[i] = orderInfo(o)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	o, found := s.rt.Order(id)
	if !found {
		respondError(w, http.StatusNotFound, "order not found", strconv.FormatUint(id, 10))
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	pair, ok := s.pairQuery(w, r)
	if !ok {
		return
	}
	respondJSON(w, bookInfo(s.rt.Book(pair)))
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	pair, ok := s.pairQuery(w, r)
	if !ok {
		return
	}
	limit, ok := limitQuery(w, r)
	if !ok {
		return
	}
	trades, err := s.rt.Trades(pair, limit)
	if err != nil {
		s.logger.Errorw("journal_read_failed", "request_id", requestIDFrom(r.Context()), "err", err)
		respondError(w, http.StatusInternalServerError, "journal read failed", "")
		return
	}
	response := make([]TradeInfo, len(trades))
	for i, t := range trades {
		response[i] = tradeInfo(t)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitQuery(w, r)
	if !ok {
		return
	}
	evs, err := s.rt.RecentEvents(r.URL.Query().Get("name"), limit)
	if err != nil {
		s.logger.Errorw("journal_read_failed", "request_id", requestIDFrom(r.Context()), "err", err)
		respondError(w, http.StatusInternalServerError, "journal read failed", "")
		return
	}
	respondJSON(w, evs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{"status": "ok", "head": s.rt.Head()})
}

// ==============================
// Middleware
// ==============================

type ctxKey struct{}

// requestID tags each request with a uuid, echoed in X-Request-ID.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))

		s.logger.Debugw("api_request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed_ms", time.Since(start).Milliseconds())
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes the connection through for the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// ==============================
// Helper Functions
// ==============================

func addressVar(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	v := mux.Vars(r)[name]
	if !common.IsHexAddress(v) {
		respondError(w, http.StatusBadRequest, "invalid "+name+" address", v)
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

// pairQuery reads ?base=&quote=, each a token address or symbol.
func (s *Server) pairQuery(w http.ResponseWriter, r *http.Request) (orderbook.Pair, bool) {
	var pair orderbook.Pair
	for _, f := range []struct {
		name string
		dst  *common.Address
	}{{"base", &pair.Base}, {"quote", &pair.Quote}} {
		v := r.URL.Query().Get(f.name)
		addr, ok := s.resolveToken(v)
		if !ok {
			respondError(w, http.StatusNotFound, "unknown "+f.name+" token", v)
			return orderbook.Pair{}, false
		}
		*f.dst = addr
	}
	if pair.Base == pair.Quote {
		respondError(w, http.StatusBadRequest, "invalid pair", "base and quote are the same token")
		return orderbook.Pair{}, false
	}
	return pair, true
}

func (s *Server) resolveToken(v string) (common.Address, bool) {
	if common.IsHexAddress(v) {
		addr := common.HexToAddress(v)
		_, ok := s.rt.Token(addr)
		return addr, ok
	}
	for _, t := range s.rt.Tokens() {
		if v != "" && t.Symbol == v {
			return t.Address, true
		}
	}
	return common.Address{}, false
}

func limitQuery(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultEventLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		respondError(w, http.StatusBadRequest, "invalid limit", v)
		return 0, false
	}
	return min(n, maxEventLimit), true
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
