package api

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowdex/pkg/app/core/amount"
	"github.com/uhyunpark/escrowdex/pkg/app/core/events"
	"github.com/uhyunpark/escrowdex/pkg/app/core/exchange"
	"github.com/uhyunpark/escrowdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/escrowdex/pkg/chain"
)

// ==============================
// REST Response Types
// ==============================

// Quantity is an amount in base units with its 18-decimal rendering.
type Quantity struct {
	Base      string `json:"base"`      // e.g. "98900000000000000000"
	Formatted string `json:"formatted"` // e.g. "98.9"
}

func quantity(v *uint256.Int) Quantity {
	return Quantity{Base: v.Dec(), Formatted: amount.Format(v)}
}

// TokenInfo represents a deployed token ledger
type TokenInfo struct {
	Address     common.Address `json:"address"`
	Name        string         `json:"name"`
	Symbol      string         `json:"symbol"`
	Decimals    uint8          `json:"decimals"`
	TotalSupply Quantity       `json:"totalSupply"`
	Deployer    common.Address `json:"deployer"`
}

func tokenInfo(t chain.TokenInfo) TokenInfo {
	return TokenInfo{
		Address:     t.Address,
		Name:        t.Name,
		Symbol:      t.Symbol,
		Decimals:    t.Decimals,
		TotalSupply: quantity(t.TotalSupply),
		Deployer:    t.Deployer,
	}
}

// BalanceInfo is a wallet balance on a token ledger
type BalanceInfo struct {
	Token   common.Address `json:"token"`
	Owner   common.Address `json:"owner"`
	Balance Quantity       `json:"balance"`
}

// AllowanceInfo is what spender may still move on owner's behalf
type AllowanceInfo struct {
	Token     common.Address `json:"token"`
	Owner     common.Address `json:"owner"`
	Spender   common.Address `json:"spender"`
	Allowance Quantity       `json:"allowance"`
}

// ExchangeInfo represents the exchange configuration
type ExchangeInfo struct {
	Address    common.Address `json:"address"`
	FeeAccount common.Address `json:"feeAccount"`
	FeePercent uint64         `json:"feePercent"`
	OrderCount uint64         `json:"orderCount"`
	Head       uint64         `json:"head"` // last committed tx seq
}

// CustodyInfo is a user's balance held by the exchange
type CustodyInfo struct {
	Token   common.Address `json:"token"`
	User    common.Address `json:"user"`
	Balance Quantity       `json:"balance"`
}

// OrderInfo represents an order (open or historical)
type OrderInfo struct {
	ID          uint64         `json:"id"`
	User        common.Address `json:"user"`
	TokenGet    common.Address `json:"tokenGet"`
	AmountGet   Quantity       `json:"amountGet"`
	TokenGive   common.Address `json:"tokenGive"`
	AmountGive  Quantity       `json:"amountGive"`
	CreatedAt   int64          `json:"createdAt"`
	CancelledAt int64          `json:"cancelledAt,omitempty"`
	Status      string         `json:"status"` // "open", "filled", "cancelled"
}

func orderInfo(o exchange.Order) OrderInfo {
	return OrderInfo{
		ID:          o.ID,
		User:        o.User,
		TokenGet:    o.TokenGet,
		AmountGet:   quantity(o.AmountGet),
		TokenGive:   o.TokenGive,
		AmountGive:  quantity(o.AmountGive),
		CreatedAt:   o.CreatedAt,
		CancelledAt: o.CancelledAt,
		Status:      o.Status().String(),
	}
}

// PriceLevel is one row of the order book
type PriceLevel struct {
	Price    string   `json:"price"` // quote per base
	Size     Quantity `json:"size"`  // base
	OrderIDs []uint64 `json:"orderIds"`
}

// BookInfo is the order book of one pair
type BookInfo struct {
	Base    common.Address `json:"base"`
	Quote   common.Address `json:"quote"`
	Bids    []PriceLevel   `json:"bids"` // best first
	Asks    []PriceLevel   `json:"asks"` // best first
	BestBid string         `json:"bestBid,omitempty"`
	BestAsk string         `json:"bestAsk,omitempty"`
	Spread  string         `json:"spread,omitempty"`
}

func bookInfo(snap orderbook.Snapshot) BookInfo {
	info := BookInfo{
		Base:  snap.Pair.Base,
		Quote: snap.Pair.Quote,
		Bids:  priceLevels(snap.Bids),
		Asks:  priceLevels(snap.Asks),
	}
	if p, ok := snap.BestBid(); ok {
		info.BestBid = p.String()
	}
	if p, ok := snap.BestAsk(); ok {
		info.BestAsk = p.String()
	}
	if p, ok := snap.Spread(); ok {
		info.Spread = p.String()
	}
	return info
}

func priceLevels(levels []orderbook.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, lvl := range levels {
		ids := make([]uint64, len(lvl.Orders))
		for j, e := range lvl.Orders {
			ids[j] = e.OrderID
		}
		out[i] = PriceLevel{Price: lvl.Price.String(), Size: quantity(lvl.Base), OrderIDs: ids}
	}
	return out
}

// TradeInfo is a fill on a pair, from the taker's side
type TradeInfo struct {
	OrderID   uint64         `json:"orderId"`
	Side      string         `json:"side"`
	Price     string         `json:"price"`
	Base      Quantity       `json:"base"`
	Quote     Quantity       `json:"quote"`
	Maker     common.Address `json:"maker"`
	Taker     common.Address `json:"taker"`
	Timestamp int64          `json:"timestamp"`
}

func tradeInfo(t orderbook.Trade) TradeInfo {
	return TradeInfo{
		OrderID:   t.OrderID,
		Side:      t.Side.String(),
		Price:     t.Price.String(),
		Base:      quantity(t.Base),
		Quote:     quantity(t.Quote),
		Maker:     t.Maker,
		Taker:     t.Taker,
		Timestamp: t.Timestamp,
	}
}

// NonceInfo is the nonce the next transaction from Address must carry
type NonceInfo struct {
	Address common.Address `json:"address"`
	Nonce   uint64         `json:"nonce"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"` // ledger error kind, e.g. "insufficient balance"
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by clients to (un)subscribe to channels
// such as "events" or "events:Trade".
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// EventMessage carries one committed event to subscribers
type EventMessage struct {
	Type   string        `json:"type"` // always "event"
	Seq    uint64        `json:"seq"`
	Index  int           `json:"index"`
	TxHash common.Hash   `json:"txHash"`
	Time   int64         `json:"time"` // Unix seconds
	Record events.Record `json:"record"`
}
