package exchange

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// OrderStatus is derived from the order's lifecycle flags.
type OrderStatus int8

const (
	OrderOpen OrderStatus = iota
	OrderFilled
	OrderCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderOpen:
		return "open"
	case OrderFilled:
		return "filled"
	case OrderCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Order is a limit order escrowed against the creator's custody balance.
// Core fields never change after creation. Terminated orders are kept.
type Order struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *uint256.Int   `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *uint256.Int   `json:"amountGive"`
	CreatedAt  int64          `json:"createdAt"` // Unix seconds

	Cancelled   bool  `json:"cancelled"`
	Filled      bool  `json:"filled"`
	CancelledAt int64 `json:"cancelledAt,omitempty"`
}

// Status reports open, filled or cancelled.
func (o *Order) Status() OrderStatus {
	switch {
	case o.Filled:
		return OrderFilled
	case o.Cancelled:
		return OrderCancelled
	default:
		return OrderOpen
	}
}

// IsClosed returns true once the order was cancelled or filled.
func (o *Order) IsClosed() bool {
	return o.Cancelled || o.Filled
}

func (o *Order) copy() Order {
	c := *o
	c.AmountGet = new(uint256.Int).Set(o.AmountGet)
	c.AmountGive = new(uint256.Int).Set(o.AmountGive)
	return c
}
