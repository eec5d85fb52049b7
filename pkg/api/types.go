package api

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/spotdex/pkg/events"
)

// API request and response types. Amounts and prices travel as decimal
// strings in base units; prices carry the engine's price decimals.

// ==============================
// REST Response Types
// ==============================

type TickerInfo struct {
	Ticker string `json:"ticker"`
	Index  int    `json:"index"`
	Quote  bool   `json:"quote"`
	Kind   string `json:"kind"`
	Ref    string `json:"ref"`
}

type BalanceInfo struct {
	Address   string `json:"address"`
	Ticker    string `json:"ticker"`
	Total     string `json:"total"`
	Reserved  string `json:"reserved"`
	Available string `json:"available"`
}

type OrderInfo struct {
	ID     uint64 `json:"id"`
	Trader string `json:"trader"`
	Base   string `json:"base"`
	Quote  string `json:"quote"`
	Side   string `json:"side"`
	Price  string `json:"price"`
	Amount string `json:"amount"`
	Filled string `json:"filled"`
	Locked string `json:"locked"`
	Status string `json:"status"`
}

type FillInfo struct {
	MakerOrder uint64 `json:"makerOrder"`
	Maker      string `json:"maker"`
	Price      string `json:"price"`
	Amount     string `json:"amount"`
	Cost       string `json:"cost"`
}

// OrderResponse answers limit and market orders. Market orders carry id 0.
type OrderResponse struct {
	Order OrderInfo  `json:"order"`
	Fills []FillInfo `json:"fills"`
}

// PriceLevel aggregates one price of a book side
type PriceLevel struct {
	Price  string `json:"price"`
	Amount string `json:"amount"`
	Orders int    `json:"orders"`
}

// OrderbookSnapshot is one side of a book, ordered by ascending price then
// time, with its aggregated levels from the best price outward.
type OrderbookSnapshot struct {
	Base      string       `json:"base"`
	Quote     string       `json:"quote"`
	Side      string       `json:"side"`
	Orders    []OrderInfo  `json:"orders"`
	Levels    []PriceLevel `json:"levels"`
	Timestamp int64        `json:"timestamp"` // Unix milliseconds
}

type StatusResponse struct {
	Digest        string `json:"digest"`
	Tickers       int    `json:"tickers"`
	OpenOrders    int    `json:"openOrders"`
	PriceDecimals uint8  `json:"priceDecimals"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// Signed Request Types
// ==============================

// Auth is embedded in every signed request. The X-Signature header carries
// the personal_sign signature of the raw body by Trader, and Nonce must be
// greater than the last nonce accepted from Trader.
type Auth struct {
	Trader common.Address `json:"trader"`
	Nonce  uint64         `json:"nonce"`
}

func (a *Auth) auth() *Auth { return a }

type signed interface {
	auth() *Auth
}

type TransferRequest struct {
	Auth
	Ticker string `json:"ticker"`
	Amount string `json:"amount"`
}

type LimitOrderRequest struct {
	Auth
	Base   string `json:"base"`
	Quote  string `json:"quote"`
	Side   string `json:"side"`
	Amount string `json:"amount"`
	Price  string `json:"price"`
}

type MarketOrderRequest struct {
	Auth
	Base   string `json:"base"`
	Quote  string `json:"quote"`
	Side   string `json:"side"`
	Amount string `json:"amount"`
}

type CancelOrderRequest struct {
	Auth
	OrderID uint64 `json:"orderId"`
}

// RegisterTickerRequest is signed by the admin.
type RegisterTickerRequest struct {
	Auth
	Ticker string `json:"ticker"`
	Kind   string `json:"kind"`
	Ref    string `json:"ref"`
}

// ApproveQuoteRequest is signed by the admin; the ticker comes from the path.
type ApproveQuoteRequest struct {
	Auth
}

// NativeReceiptRequest reports a native transfer the admin observed
// arriving at custody from Recipient.
type NativeReceiptRequest struct {
	Auth
	Recipient common.Address `json:"recipient"`
	Amount    string         `json:"amount"`
}

// FaucetRequest mints dev tokens outside the exchange. Unsigned.
type FaucetRequest struct {
	Address common.Address `json:"address"`
	Ticker  string         `json:"ticker"`
	Amount  string         `json:"amount"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by clients: {"op":"subscribe","channels":["fills:BLUE-USDT"]}
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

type WSMessage struct {
	Channel string       `json:"channel"`
	Event   events.Event `json:"event"`
}
