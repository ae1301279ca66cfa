// Package orderbook renders open exchange orders as a two-sided book for
// one trading pair. It is a read model: orders are only ever filled one at
// a time by explicit fillOrder calls, never crossed.
package orderbook

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/escrowdex/pkg/app/core/events"
	"github.com/uhyunpark/escrowdex/pkg/app/core/exchange"
)

// PricePrecision is the number of decimal places kept in prices.
const PricePrecision = 8

type Side int8

const (
	Buy  Side = 1 // gives quote, gets base
	Sell Side = 2 // gives base, gets quote
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Pair is a market of Base priced in Quote.
type Pair struct {
	Base  common.Address `json:"base"`
	Quote common.Address `json:"quote"`
}

// Entry is one open order seen from the pair.
type Entry struct {
	OrderID uint64          `json:"orderId"`
	User    common.Address  `json:"user"`
	Side    Side            `json:"side"`
	Price   decimal.Decimal `json:"price"` // quote per base
	Base    *uint256.Int    `json:"base"`
	Quote   *uint256.Int    `json:"quote"`
}

// PriceLevel aggregates entries at one price.
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Base   *uint256.Int    `json:"base"`   // total base at this price
	Orders []Entry         `json:"orders"` // oldest first
}

// Snapshot is the book at one point in time. Bids are sorted best (highest)
// first, asks best (lowest) first.
type Snapshot struct {
	Pair Pair         `json:"pair"`
	Bids []PriceLevel `json:"bids"`
	Asks []PriceLevel `json:"asks"`
}

// Classify places an order with tokens (tokenGet, tokenGive) on the pair.
// ok is false when the order trades a different pair.
func (p Pair) Classify(tokenGet, tokenGive common.Address) (Side, bool) {
	switch {
	case tokenGive == p.Base && tokenGet == p.Quote:
		return Sell, true
	case tokenGive == p.Quote && tokenGet == p.Base:
		return Buy, true
	default:
		return 0, false
	}
}

// legs returns the base and quote amounts of an order on side.
func legs(side Side, amountGet, amountGive *uint256.Int) (base, quote *uint256.Int) {
	if side == Sell {
		return amountGive, amountGet
	}
	return amountGet, amountGive
}

// Price is quote per base. Both legs use the same 18-decimal scale, so the
// raw ratio is the human ratio.
func Price(base, quote *uint256.Int) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	b := decimal.NewFromBigInt(base.ToBig(), 0)
	q := decimal.NewFromBigInt(quote.ToBig(), 0)
	return q.DivRound(b, PricePrecision)
}

// Build groups the open orders trading pair into price levels. Closed
// orders and orders on other pairs are skipped.
func Build(pair Pair, orders []exchange.Order) Snapshot {
	bids := make(map[string]*PriceLevel)
	asks := make(map[string]*PriceLevel)

	for _, o := range orders {
		if o.IsClosed() {
			continue
		}
		side, ok := pair.Classify(o.TokenGet, o.TokenGive)
		if !ok {
			continue
		}
		base, quote := legs(side, o.AmountGet, o.AmountGive)
		e := Entry{
			OrderID: o.ID,
			User:    o.User,
			Side:    side,
			Price:   Price(base, quote),
			Base:    new(uint256.Int).Set(base),
			Quote:   new(uint256.Int).Set(quote),
		}

		levels := asks
		if side == Buy {
			levels = bids
		}
		key := e.Price.String()
		lvl, ok := levels[key]
		if !ok {
			lvl = &PriceLevel{Price: e.Price, Base: new(uint256.Int)}
			levels[key] = lvl
		}
		lvl.Base.Add(lvl.Base, e.Base)
		lvl.Orders = append(lvl.Orders, e)
	}

	snap := Snapshot{Pair: pair, Bids: sorted(bids), Asks: sorted(asks)}
	// Highest bid first.
	for i, j := 0, len(snap.Bids)-1; i < j; i, j = i+1, j-1 {
		snap.Bids[i], snap.Bids[j] = snap.Bids[j], snap.Bids[i]
	}
	return snap
}

// sorted returns levels by ascending price with entries by order id.
func sorted(levels map[string]*PriceLevel) []PriceLevel {
	out := make([]PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		sort.Slice(lvl.Orders, func(i, j int) bool { return lvl.Orders[i].OrderID < lvl.Orders[j].OrderID })
		out = append(out, *lvl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out
}

// BestBid returns the highest bid price.
func (s Snapshot) BestBid() (decimal.Decimal, bool) {
	if len(s.Bids) == 0 {
		return decimal.Zero, false
	}
	return s.Bids[0].Price, true
}

// BestAsk returns the lowest ask price.
func (s Snapshot) BestAsk() (decimal.Decimal, bool) {
	if len(s.Asks) == 0 {
		return decimal.Zero, false
	}
	return s.Asks[0].Price, true
}

// Spread is BestAsk - BestBid, or false when either side is empty.
func (s Snapshot) Spread() (decimal.Decimal, bool) {
	bid, ok1 := s.BestBid()
	ask, ok2 := s.BestAsk()
	if !ok1 || !ok2 {
		return decimal.Zero, false
	}
	return ask.Sub(bid), true
}

// Trade is a fill seen from the pair. Side is the taker's side: filling a
// sell order is a buy.
type Trade struct {
	OrderID   uint64          `json:"orderId"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Base      *uint256.Int    `json:"base"`
	Quote     *uint256.Int    `json:"quote"`
	Maker     common.Address  `json:"maker"`
	Taker     common.Address  `json:"taker"`
	Timestamp int64           `json:"timestamp"`
}

// Trades converts Trade events on pair, keeping their order.
func Trades(pair Pair, fills []events.Trade) []Trade {
	out := make([]Trade, 0, len(fills))
	for _, f := range fills {
		makerSide, ok := pair.Classify(f.TokenGet, f.TokenGive)
		if !ok {
			continue
		}
		base, quote := legs(makerSide, f.AmountGet, f.AmountGive)
		taker := Buy
		if makerSide == Buy {
			taker = Sell
		}
		out = append(out, Trade{
			OrderID:   f.ID,
			Side:      taker,
			Price:     Price(base, quote),
			Base:      new(uint256.Int).Set(base),
			Quote:     new(uint256.Int).Set(quote),
			Maker:     f.Creator,
			Taker:     f.Filler,
			Timestamp: f.Timestamp,
		})
	}
	return out
}
