// Package events defines the externally observable record of every ledger
// state change.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Event names
const (
	NameTransfer    = "Transfer"
	NameApproval    = "Approval"
	NameDeposit     = "Deposit"
	NameWithdraw    = "Withdraw"
	NameOrder       = "Order"
	NameCancelOrder = "CancelOrder"
	NameTrade       = "Trade"
)

// Event is implemented by every event payload.
type Event interface {
	EventName() string
}

// Transfer is emitted by the token ledger on transfer and transferFrom.
type Transfer struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value *uint256.Int   `json:"value"`
}

// Approval is emitted by the token ledger on approve.
type Approval struct {
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Value   *uint256.Int   `json:"value"`
}

// Deposit is emitted by the exchange after custody is credited.
// Balance is the user's resulting custody balance.
type Deposit struct {
	Token   common.Address `json:"token"`
	User    common.Address `json:"user"`
	Amount  *uint256.Int   `json:"amount"`
	Balance *uint256.Int   `json:"balance"`
}

// Withdraw is emitted by the exchange after custody is debited and the
// tokens are pushed back to the user.
type Withdraw struct {
	Token   common.Address `json:"token"`
	User    common.Address `json:"user"`
	Amount  *uint256.Int   `json:"amount"`
	Balance *uint256.Int   `json:"balance"`
}

// Order is emitted when an order is created.
type Order struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *uint256.Int   `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *uint256.Int   `json:"amountGive"`
	CreatedAt  int64          `json:"createdAt"`
}

// CancelOrder is emitted when the creator cancels an order.
type CancelOrder struct {
	ID          uint64         `json:"id"`
	User        common.Address `json:"user"`
	TokenGet    common.Address `json:"tokenGet"`
	AmountGet   *uint256.Int   `json:"amountGet"`
	TokenGive   common.Address `json:"tokenGive"`
	AmountGive  *uint256.Int   `json:"amountGive"`
	CreatedAt   int64          `json:"createdAt"`
	CancelledAt int64          `json:"cancelledAt"`
}

// Trade is emitted when an order is filled.
type Trade struct {
	ID         uint64         `json:"id"`
	Filler     common.Address `json:"filler"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *uint256.Int   `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *uint256.Int   `json:"amountGive"`
	Creator    common.Address `json:"creator"`
	Timestamp  int64          `json:"timestamp"`
}

func (Transfer) EventName() string    { return NameTransfer }
func (Approval) EventName() string    { return NameApproval }
func (Deposit) EventName() string     { return NameDeposit }
func (Withdraw) EventName() string    { return NameWithdraw }
func (Order) EventName() string       { return NameOrder }
func (CancelOrder) EventName() string { return NameCancelOrder }
func (Trade) EventName() string       { return NameTrade }

// Record is an event together with the ledger that emitted it.
type Record struct {
	Ledger common.Address `json:"ledger"`
	Event  Event          `json:"-"`
}

type recordJSON struct {
	Ledger common.Address  `json:"ledger"`
	Name   string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// MarshalJSON encodes the record as {ledger, event, data}.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.Event == nil {
		return nil, fmt.Errorf("record without event")
	}
	data, err := json.Marshal(r.Event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(recordJSON{Ledger: r.Ledger, Name: r.Event.EventName(), Data: data})
}

// UnmarshalJSON decodes a record produced by MarshalJSON.
func (r *Record) UnmarshalJSON(b []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	ev, err := Decode(raw.Name, raw.Data)
	if err != nil {
		return err
	}
	r.Ledger = raw.Ledger
	r.Event = ev
	return nil
}

// Decode rebuilds a typed event from its name and JSON payload.
func Decode(name string, data []byte) (Event, error) {
	var ev Event
	switch name {
	case NameTransfer:
		ev = &Transfer{}
	case NameApproval:
		ev = &Approval{}
	case NameDeposit:
		ev = &Deposit{}
	case NameWithdraw:
		ev = &Withdraw{}
	case NameOrder:
		ev = &Order{}
	case NameCancelOrder:
		ev = &CancelOrder{}
	case NameTrade:
		ev = &Trade{}
	default:
		return nil, fmt.Errorf("unknown event %q", name)
	}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return deref(ev), nil
}

func deref(ev Event) Event {
	switch e := ev.(type) {
	case *Transfer:
		return *e
	case *Approval:
		return *e
	case *Deposit:
		return *e
	case *Withdraw:
		return *e
	case *Order:
		return *e
	case *CancelOrder:
		return *e
	case *Trade:
		return *e
	}
	return ev
}
