package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"
	"github.com/uhyunpark/spotdex/pkg/app/core/asset"
	"github.com/uhyunpark/spotdex/pkg/app/core/dexerr"
	"github.com/uhyunpark/spotdex/pkg/app/core/exchange"
	"github.com/uhyunpark/spotdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
	"github.com/uhyunpark/spotdex/pkg/crypto"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

var (
	errUnauthorized = errors.New("unauthorized")
	errForbidden    = errors.New("forbidden")
	errBadRequest   = errors.New("bad request")
)

// NonceStore remembers the last accepted request nonce per trader.
type NonceStore interface {
	LoadNonce(addr common.Address) (uint64, error)
	SaveNonce(addr common.Address, nonce uint64) error
}

// Faucet credits dev tokens to an address outside the exchange.
type Faucet func(t token.Ticker, to common.Address, amount *uint256.Int) error

type Options struct {
	// Admin signs ticker registration, quote approval and native receipts.
	// The zero address disables those routes.
	Admin          common.Address
	AllowedOrigins []string
	// Bind turns a registration request into an asset handle.
	Bind exchange.Resolver
	// Faucet is nil unless the dev faucet is enabled.
	Faucet Faucet
}

// Server handles REST API and WebSocket connections
type Server struct {
	engine *exchange.Engine
	nonces NonceStore
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
	opts   Options

	nonceMu sync.Mutex
	http    *http.Server
}

func NewServer(engine *exchange.Engine, nonces NonceStore, hub *Hub, log *zap.SugaredLogger, opts Options) *Server {
	s := &Server{
		engine: engine,
		nonces: nonces,
		router: mux.NewRouter(),
		hub:    hub,
		log:    log,
		opts:   opts,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/tickers", s.handleGetTickers).Methods("GET")
	api.HandleFunc("/tickers", s.handleRegisterTicker).Methods("POST")
	api.HandleFunc("/tickers/{ticker}/quote", s.handleApproveQuote).Methods("POST")

	api.HandleFunc("/balances/{address}/{ticker}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/books/{base}/{quote}", s.handleGetBook).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")

	// Signed routes. Each accepted signature spends its nonce, whatever the
	// outcome of the request.
	api.HandleFunc("/deposits", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdrawals", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/orders/limit", s.handleLimitOrder).Methods("POST")
	api.HandleFunc("/orders/market", s.handleMarketOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/native/receipts", s.handleNativeReceipt).Methods("POST")
	if s.opts.Faucet != nil {
		api.HandleFunc("/faucet", s.handleFaucet).Methods("POST")
	}

	if s.hub != nil {
		s.router.HandleFunc("/ws", s.handleWebSocket)
	}
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in CORS.
func (s *Server) Handler() http.Handler {
	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Signature"},
	})
	return c.Handler(s.router)
}

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Infow("api server starting", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// ==============================
// Query Handlers
// ==============================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, StatusResponse{
		Digest:        s.engine.StateDigest().Hex(),
		Tickers:       len(s.engine.GetTickers()),
		OpenOrders:    s.engine.OpenOrders(),
		PriceDecimals: s.engine.PriceDecimals(),
	})
}

func (s *Server) handleGetTickers(w http.ResponseWriter, r *http.Request) {
	reg := s.engine.Registry()
	tickers := s.engine.GetTickers()
	out := make([]TickerInfo, 0, len(tickers))
	for _, t := range tickers {
		info, err := reg.Info(t)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		out = append(out, tickerInfo(info))
	}
	respondJSON(w, out)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addr, err := parseAddress(vars["address"])
	if err != nil {
		s.respondErr(w, err)
		return
	}
	t, err := token.ParseTicker(vars["ticker"])
	if err != nil {
		s.respondErr(w, err)
		return
	}
	b, err := s.engine.GetBalance(addr, t)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, BalanceInfo{
		Address:   addr.Hex(),
		Ticker:    t.String(),
		Total:     b.Total.Dec(),
		Reserved:  b.Reserved.Dec(),
		Available: b.Available().Dec(),
	})
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	base, quote, err := parsePair(vars["base"], vars["quote"])
	if err != nil {
		s.respondErr(w, err)
		return
	}
	sideStr := r.URL.Query().Get("side")
	if sideStr == "" {
		sideStr = "buy"
	}
	side, err := orderbook.ParseSide(sideStr)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	book, err := s.engine.GetBookSnapshot(base, quote, side)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	orders, levels := book.Orders, book.Levels

	snap := OrderbookSnapshot{
		Base:      base.String(),
		Quote:     quote.String(),
		Side:      side.String(),
		Orders:    make([]OrderInfo, len(orders)),
		Levels:    make([]PriceLevel, len(levels)),
		Timestamp: time.Now().UnixMilli(),
	}
	for i := range orders {
		snap.Orders[i] = orderInfo(&orders[i])
	}
	for i, lvl := range levels {
		snap.Levels[i] = PriceLevel{Price: lvl.Price.Dec(), Amount: lvl.Amount.Dec(), Orders: lvl.Orders}
	}
	respondJSON(w, snap)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.respondErr(w, fmt.Errorf("%w: order id: %v", errBadRequest, err))
		return
	}
	o, err := s.engine.GetOrder(id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, orderInfo(o))
}

// ==============================
// Signed Handlers
// ==============================

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !s.authenticate(w, r, &req, false) {
		return
	}
	t, amount, err := parseTransfer(req.Ticker, req.Amount)
	if err == nil {
		err = s.engine.Deposit(r.Context(), req.Trader, t, amount)
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondBalance(w, req.Trader, t)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !s.authenticate(w, r, &req, false) {
		return
	}
	t, amount, err := parseTransfer(req.Ticker, req.Amount)
	if err == nil {
		err = s.engine.Withdraw(r.Context(), req.Trader, t, amount)
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondBalance(w, req.Trader, t)
}

func (s *Server) handleLimitOrder(w http.ResponseWriter, r *http.Request) {
	var req LimitOrderRequest
	if !s.authenticate(w, r, &req, false) {
		return
	}
	base, quote, err := parsePair(req.Base, req.Quote)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	side, err := orderbook.ParseSide(req.Side)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	amount, err := parseAmount(req.Amount, dexerr.ErrInvalidAmount)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	price, err := parseAmount(req.Price, dexerr.ErrInvalidPrice)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	res, err := s.engine.CreateLimitOrder(req.Trader, base, quote, amount, price, side)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, orderResponse(res))
}

func (s *Server) handleMarketOrder(w http.ResponseWriter, r *http.Request) {
	var req MarketOrderRequest
	if !s.authenticate(w, r, &req, false) {
		return
	}
	base, quote, err := parsePair(req.Base, req.Quote)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	side, err := orderbook.ParseSide(req.Side)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	amount, err := parseAmount(req.Amount, dexerr.ErrInvalidAmount)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	res, err := s.engine.CreateMarketOrder(req.Trader, base, quote, amount, side)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, orderResponse(res))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if !s.authenticate(w, r, &req, false) {
		return
	}
	o, err := s.engine.CancelOrder(req.Trader, req.OrderID)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleRegisterTicker(w http.ResponseWriter, r *http.Request) {
	var req RegisterTickerRequest
	if !s.authenticate(w, r, &req, true) {
		return
	}
	t, err := token.ParseTicker(req.Ticker)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if s.opts.Bind == nil {
		s.respondErr(w, fmt.Errorf("%w: ticker binding is disabled", errForbidden))
		return
	}
	h, err := s.opts.Bind(asset.Descriptor{Kind: asset.Kind(req.Kind), Ref: req.Ref})
	if err != nil {
		s.respondErr(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := s.engine.RegisterTicker(t, h); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondTicker(w, t)
}

func (s *Server) handleApproveQuote(w http.ResponseWriter, r *http.Request) {
	var req ApproveQuoteRequest
	if !s.authenticate(w, r, &req, true) {
		return
	}
	t, err := token.ParseTicker(mux.Vars(r)["ticker"])
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if err := s.engine.ApproveQuote(t); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondTicker(w, t)
}

func (s *Server) handleNativeReceipt(w http.ResponseWriter, r *http.Request) {
	var req NativeReceiptRequest
	if !s.authenticate(w, r, &req, true) {
		return
	}
	amount, err := parseAmount(req.Amount, dexerr.ErrInvalidAmount)
	if err == nil {
		err = s.engine.ReceiveNative(req.Recipient, amount)
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondBalance(w, req.Recipient, s.engine.Registry().Native())
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.respondErr(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	t, amount, err := parseTransfer(req.Ticker, req.Amount)
	if err == nil {
		err = s.opts.Faucet(t, req.Address, amount)
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.log.Infow("faucet", "address", req.Address.Hex(), "ticker", t.String(), "amount", amount.Dec())
	respondJSON(w, map[string]string{"status": "ok"})
}

// authenticate reads the body into req, checks the X-Signature header
// against req's trader and consumes its nonce. It writes the error response
// itself and reports whether the handler may continue.
//
// The nonce is spent before the handler runs, so a signed request that the
// engine then rejects cannot be replayed either; the client signs a new body
// with a higher nonce to retry.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, req signed, admin bool) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.respondErr(w, fmt.Errorf("%w: read body: %v", errBadRequest, err))
		return false
	}
	if err := json.Unmarshal(body, req); err != nil {
		s.respondErr(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return false
	}
	a := req.auth()

	sig := r.Header.Get("X-Signature")
	if sig == "" {
		s.respondErr(w, fmt.Errorf("%w: missing X-Signature", errUnauthorized))
		return false
	}
	signer, err := crypto.RecoverText(body, sig)
	if err != nil {
		s.respondErr(w, fmt.Errorf("%w: %v", errUnauthorized, err))
		return false
	}
	if signer != a.Trader {
		s.respondErr(w, fmt.Errorf("%w: signed by %s, not %s", errUnauthorized, signer.Hex(), a.Trader.Hex()))
		return false
	}
	if admin && (s.opts.Admin == (common.Address{}) || a.Trader != s.opts.Admin) {
		s.respondErr(w, fmt.Errorf("%w: admin only", errForbidden))
		return false
	}

	s.nonceMu.Lock()
	defer s.nonceMu.Unlock()
	last, err := s.nonces.LoadNonce(a.Trader)
	if err != nil {
		s.respondErr(w, err)
		return false
	}
	if a.Nonce <= last {
		s.respondErr(w, fmt.Errorf("%w: nonce %d not above %d", errUnauthorized, a.Nonce, last))
		return false
	}
	if err := s.nonces.SaveNonce(a.Trader, a.Nonce); err != nil {
		s.respondErr(w, err)
		return false
	}
	return true
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) respondBalance(w http.ResponseWriter, addr common.Address, t token.Ticker) {
	b, err := s.engine.GetBalance(addr, t)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, BalanceInfo{
		Address:   addr.Hex(),
		Ticker:    t.String(),
		Total:     b.Total.Dec(),
		Reserved:  b.Reserved.Dec(),
		Available: b.Available().Dec(),
	})
}

func (s *Server) respondTicker(w http.ResponseWriter, t token.Ticker) {
	info, err := s.engine.Registry().Info(t)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, tickerInfo(info))
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.Errorw("request failed", "status", status, "err", err)
	}
	respondError(w, status, http.StatusText(status), err.Error())
}

// statusOf maps engine errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, dexerr.ErrInvariant):
		return http.StatusInternalServerError
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errForbidden), errors.Is(err, dexerr.ErrNotOrderOwner):
		return http.StatusForbidden
	case errors.Is(err, dexerr.ErrUnknownTicker), errors.Is(err, dexerr.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, dexerr.ErrInsufficientAvailableBalance), errors.Is(err, dexerr.ErrDuplicateTicker):
		return http.StatusConflict
	case errors.Is(err, dexerr.ErrTransferPending):
		return http.StatusAccepted
	case errors.Is(err, dexerr.ErrTransferFailed):
		return http.StatusBadGateway
	case errors.Is(err, errBadRequest),
		errors.Is(err, dexerr.ErrInvalidTicker),
		errors.Is(err, dexerr.ErrQuoteNotApproved),
		errors.Is(err, dexerr.ErrSameTicker),
		errors.Is(err, dexerr.ErrNativeDirectDeposit),
		errors.Is(err, dexerr.ErrInvalidAmount),
		errors.Is(err, dexerr.ErrInvalidPrice),
		errors.Is(err, dexerr.ErrInvalidSide):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: invalid address %q", errBadRequest, s)
	}
	return common.HexToAddress(s), nil
}

func parsePair(base, quote string) (token.Ticker, token.Ticker, error) {
	b, err := token.ParseTicker(base)
	if err != nil {
		return b, b, err
	}
	q, err := token.ParseTicker(quote)
	return b, q, err
}

// parseAmount reads a base-unit decimal string. kind is the sentinel
// reported for malformed input.
func parseAmount(s string, kind error) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", kind, s, err)
	}
	return v, nil
}

func parseTransfer(ticker, amount string) (token.Ticker, *uint256.Int, error) {
	t, err := token.ParseTicker(ticker)
	if err != nil {
		return t, nil, err
	}
	v, err := parseAmount(amount, dexerr.ErrInvalidAmount)
	return t, v, err
}

func tickerInfo(info token.Info) TickerInfo {
	return TickerInfo{
		Ticker: info.Ticker.String(),
		Index:  info.Index,
		Quote:  info.Quote,
		Kind:   string(info.Asset.Kind),
		Ref:    info.Asset.Ref,
	}
}

func orderInfo(o *orderbook.Order) OrderInfo {
	return OrderInfo{
		ID:     o.ID,
		Trader: o.Trader.Hex(),
		Base:   o.Pair.Base.String(),
		Quote:  o.Pair.Quote.String(),
		Side:   o.Side.String(),
		Price:  o.Price.Dec(),
		Amount: o.Amount.Dec(),
		Filled: o.Filled.Dec(),
		Locked: o.Locked.Dec(),
		Status: o.Status.String(),
	}
}

func orderResponse(res *exchange.OrderResult) OrderResponse {
	out := OrderResponse{Order: orderInfo(&res.Order), Fills: make([]FillInfo, len(res.Fills))}
	for i, f := range res.Fills {
		out.Fills[i] = FillInfo{
			MakerOrder: f.MakerOrder,
			Maker:      f.Maker.Hex(),
			Price:      f.Price.Dec(),
			Amount:     f.Amount.Dec(),
			Cost:       f.Cost.Dec(),
		}
	}
	return out
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
