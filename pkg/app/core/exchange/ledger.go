// Package exchange implements the custodial exchange ledger: per-(token, user)
// custody balances funded from token ledgers, and the order lifecycle
// (make, cancel, fill) with a taker-side fee.
//
// A Ledger is not safe for concurrent mutation. The execution environment
// (see pkg/chain) serializes every call.
package exchange

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowdex/pkg/app/core/amount"
	"github.com/uhyunpark/escrowdex/pkg/app/core/events"
	"github.com/uhyunpark/escrowdex/pkg/app/core/ledgererr"
	"github.com/uhyunpark/escrowdex/pkg/util"
)

// TokenLedger is the part of a token ledger the exchange moves funds with.
type TokenLedger interface {
	Transfer(from, to common.Address, value *uint256.Int) error
	TransferFrom(spender, owner, to common.Address, value *uint256.Int) error
}

// TokenRegistry resolves a token identity to its ledger.
type TokenRegistry interface {
	Token(addr common.Address) (TokenLedger, bool)
}

// Config is fixed at construction.
type Config struct {
	Address    common.Address // escrow account on every token ledger
	FeeAccount common.Address
	FeePercent uint64 // 10 means 10% of the order's get amount
}

// Ledger holds custody balances and the order table.
type Ledger struct {
	address    common.Address
	feeAccount common.Address
	feePercent uint64

	tokens  TokenRegistry
	custody map[common.Address]map[common.Address]uint256.Int // token -> user -> amount

	orders     map[uint64]*Order
	orderCount uint64

	clock util.Clock
	sink  events.Sink
}

// New builds an exchange ledger. A nil clock uses wall time, a nil sink
// discards events.
func New(cfg Config, tokens TokenRegistry, clock util.Clock, sink events.Sink) (*Ledger, error) {
	if cfg.FeePercent > 100 {
		return nil, fmt.Errorf("fee percent %d exceeds 100", cfg.FeePercent)
	}
	if tokens == nil {
		return nil, fmt.Errorf("nil token registry")
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	if sink == nil {
		sink = events.Discard
	}
	return &Ledger{
		address:    cfg.Address,
		feeAccount: cfg.FeeAccount,
		feePercent: cfg.FeePercent,
		tokens:     tokens,
		custody:    make(map[common.Address]map[common.Address]uint256.Int),
		orders:     make(map[uint64]*Order),
		clock:      clock,
		sink:       sink,
	}, nil
}

// Address returns the exchange's escrow identity.
func (l *Ledger) Address() common.Address { return l.address }

// FeeAccount returns the fee recipient.
func (l *Ledger) FeeAccount() common.Address { return l.feeAccount }

// FeePercent returns the taker fee percentage.
func (l *Ledger) FeePercent() uint64 { return l.feePercent }

// BalanceOf returns user's custody balance of token.
func (l *Ledger) BalanceOf(token, user common.Address) *uint256.Int {
	v := l.custody[token][user]
	return &v
}

// DepositToken pulls value of token from caller into custody. The caller must
// first approve the exchange as spender on the token ledger. Token ledger
// failures are returned unchanged.
func (l *Ledger) DepositToken(caller, token common.Address, value *uint256.Int) error {
	t, err := l.token(token)
	if err != nil {
		return err
	}
	if err := t.TransferFrom(l.address, caller, l.address, value); err != nil {
		return err
	}
	l.credit(token, caller, value)
	l.sink.Emit(l.address, events.Deposit{
		Token:   token,
		User:    caller,
		Amount:  clone(value),
		Balance: l.BalanceOf(token, caller),
	})
	return nil
}

// WithdrawToken returns value of token from custody to caller. Custody is
// debited before the token ledger transfer runs.
func (l *Ledger) WithdrawToken(caller, token common.Address, value *uint256.Int) error {
	t, err := l.token(token)
	if err != nil {
		return err
	}
	if err := l.requireCustody(token, caller, value); err != nil {
		return err
	}

	l.debit(token, caller, value)
	if err := t.Transfer(l.address, caller, value); err != nil {
		l.credit(token, caller, value)
		return err
	}
	l.sink.Emit(l.address, events.Withdraw{
		Token:   token,
		User:    caller,
		Amount:  clone(value),
		Balance: l.BalanceOf(token, caller),
	})
	return nil
}

// MakeOrder records an order offering amountGive of tokenGive for amountGet
// of tokenGet. The give balance is checked but not reserved, so the creator
// may spend it elsewhere before the order is filled.
func (l *Ledger) MakeOrder(caller, tokenGet common.Address, amountGet *uint256.Int, tokenGive common.Address, amountGive *uint256.Int) (Order, error) {
	if err := l.requireCustody(tokenGive, caller, amountGive); err != nil {
		return Order{}, err
	}

	l.orderCount++
	o := &Order{
		ID:         l.orderCount,
		User:       caller,
		TokenGet:   tokenGet,
		AmountGet:  clone(amountGet),
		TokenGive:  tokenGive,
		AmountGive: clone(amountGive),
		CreatedAt:  l.clock.Now().Unix(),
	}
	l.orders[o.ID] = o

	l.sink.Emit(l.address, events.Order{
		ID:         o.ID,
		User:       o.User,
		TokenGet:   o.TokenGet,
		AmountGet:  clone(o.AmountGet),
		TokenGive:  o.TokenGive,
		AmountGive: clone(o.AmountGive),
		CreatedAt:  o.CreatedAt,
	})
	return o.copy(), nil
}

// CancelOrder terminates an open order. Only its creator may cancel it.
func (l *Ledger) CancelOrder(caller common.Address, id uint64) error {
	o, err := l.order(id)
	if err != nil {
		return err
	}
	if o.User != caller {
		return ledgererr.New(ledgererr.Unauthorized, fmt.Sprintf("order %d belongs to %s", id, o.User.Hex()))
	}
	if o.Cancelled {
		return ledgererr.New(ledgererr.AlreadyCancelled, fmt.Sprintf("order %d", id))
	}
	if o.Filled {
		return ledgererr.New(ledgererr.AlreadyFilled, fmt.Sprintf("order %d", id))
	}

	o.Cancelled = true
	o.CancelledAt = l.clock.Now().Unix()

	l.sink.Emit(l.address, events.CancelOrder{
		ID:          o.ID,
		User:        o.User,
		TokenGet:    o.TokenGet,
		AmountGet:   clone(o.AmountGet),
		TokenGive:   o.TokenGive,
		AmountGive:  clone(o.AmountGive),
		CreatedAt:   o.CreatedAt,
		CancelledAt: o.CancelledAt,
	})
	return nil
}

// FillOrder settles an open order in full against caller's custody:
//
//	creator tokenGive -amountGive, caller tokenGive +amountGive
//	caller  tokenGet  -(amountGet+fee), creator tokenGet +amountGet, feeAccount tokenGet +fee
//
// where fee = amountGet × feePercent / 100. Both sides are checked against
// current balances before anything moves.
func (l *Ledger) FillOrder(caller common.Address, id uint64) error {
	o, err := l.order(id)
	if err != nil {
		return err
	}
	if o.Filled {
		return ledgererr.New(ledgererr.AlreadyFilled, fmt.Sprintf("order %d", id))
	}
	if o.Cancelled {
		return ledgererr.New(ledgererr.AlreadyCancelled, fmt.Sprintf("order %d", id))
	}

	fee := amount.Percent(o.AmountGet, l.feePercent)
	total, overflow := new(uint256.Int).AddOverflow(o.AmountGet, fee)
	if overflow {
		return ledgererr.New(ledgererr.InsufficientBalance, fmt.Sprintf("order %d: amount plus fee overflows", id))
	}
	if err := l.requireCustody(o.TokenGet, caller, total); err != nil {
		return err
	}
	if err := l.requireCustody(o.TokenGive, o.User, o.AmountGive); err != nil {
		return err
	}

	l.debit(o.TokenGive, o.User, o.AmountGive)
	l.credit(o.TokenGive, caller, o.AmountGive)

	l.debit(o.TokenGet, caller, total)
	l.credit(o.TokenGet, o.User, o.AmountGet)
	l.credit(o.TokenGet, l.feeAccount, fee)

	o.Filled = true

	l.sink.Emit(l.address, events.Trade{
		ID:         o.ID,
		Filler:     caller,
		TokenGet:   o.TokenGet,
		AmountGet:  clone(o.AmountGet),
		TokenGive:  o.TokenGive,
		AmountGive: clone(o.AmountGive),
		Creator:    o.User,
		Timestamp:  l.clock.Now().Unix(),
	})
	return nil
}

// Order returns a copy of order id.
func (l *Ledger) Order(id uint64) (Order, bool) {
	o, ok := l.orders[id]
	if !ok {
		return Order{}, false
	}
	return o.copy(), true
}

// OrderCount returns the highest order id allocated so far.
func (l *Ledger) OrderCount() uint64 { return l.orderCount }

// OrderCancelled reports whether order id was cancelled.
func (l *Ledger) OrderCancelled(id uint64) bool {
	o, ok := l.orders[id]
	return ok && o.Cancelled
}

// OrderFilled reports whether order id was filled.
func (l *Ledger) OrderFilled(id uint64) bool {
	o, ok := l.orders[id]
	return ok && o.Filled
}

// Orders returns every order ascending by id.
func (l *Ledger) Orders() []Order {
	out := make([]Order, 0, len(l.orders))
	for id := uint64(1); id <= l.orderCount; id++ {
		if o, ok := l.orders[id]; ok {
			out = append(out, o.copy())
		}
	}
	return out
}

// OpenOrders returns orders that are neither cancelled nor filled.
func (l *Ledger) OpenOrders() []Order {
	var out []Order
	for id := uint64(1); id <= l.orderCount; id++ {
		if o, ok := l.orders[id]; ok && !o.IsClosed() {
			out = append(out, o.copy())
		}
	}
	return out
}

// CustodyTotal sums every user's custody balance of token. It never exceeds
// the token balance held by the exchange's own account.
func (l *Ledger) CustodyTotal(token common.Address) *uint256.Int {
	sum := new(uint256.Int)
	for _, bal := range l.custody[token] {
		b := bal
		sum.Add(sum, &b)
	}
	return sum
}

// Users returns every user with a custody entry for token, sorted.
func (l *Ledger) Users(token common.Address) []common.Address {
	out := make([]common.Address, 0, len(l.custody[token]))
	for user := range l.custody[token] {
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (l *Ledger) token(addr common.Address) (TokenLedger, error) {
	t, ok := l.tokens.Token(addr)
	if !ok {
		return nil, ledgererr.New(ledgererr.UnknownToken, addr.Hex())
	}
	return t, nil
}

func (l *Ledger) order(id uint64) (*Order, error) {
	o, ok := l.orders[id]
	if !ok {
		return nil, ledgererr.New(ledgererr.OrderNotFound, fmt.Sprintf("order %d", id))
	}
	return o, nil
}

func (l *Ledger) requireCustody(token, user common.Address, need *uint256.Int) error {
	have := l.custody[token][user]
	if need.Gt(&have) {
		return ledgererr.New(ledgererr.InsufficientBalance,
			fmt.Sprintf("%s holds %s of %s in custody, needs %s", user.Hex(), have.Dec(), token.Hex(), need.Dec()))
	}
	return nil
}

func (l *Ledger) accounts(token common.Address) map[common.Address]uint256.Int {
	users, ok := l.custody[token]
	if !ok {
		users = make(map[common.Address]uint256.Int)
		l.custody[token] = users
	}
	return users
}

// credit cannot overflow: custody per token is bounded by the token supply.
func (l *Ledger) credit(token, user common.Address, value *uint256.Int) {
	users := l.accounts(token)
	bal := users[user]
	bal.Add(&bal, value)
	users[user] = bal
}

// debit assumes requireCustody passed for value.
func (l *Ledger) debit(token, user common.Address, value *uint256.Int) {
	users := l.accounts(token)
	bal := users[user]
	bal.Sub(&bal, value)
	users[user] = bal
}

func clone(v *uint256.Int) *uint256.Int {
	return new(uint256.Int).Set(v)
}
