// Package token implements a fungible-token ledger: balances, allowances and
// a fixed total supply minted once to the instantiating account.
//
// A Ledger is not safe for concurrent mutation. The execution environment
// (see pkg/chain) serializes every call.
package token

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowdex/pkg/app/core/amount"
	"github.com/uhyunpark/escrowdex/pkg/app/core/events"
	"github.com/uhyunpark/escrowdex/pkg/app/core/ledgererr"
)

// Ledger is a single fungible asset.
type Ledger struct {
	address     common.Address
	name        string
	symbol      string
	totalSupply uint256.Int

	balances   map[common.Address]uint256.Int
	allowances map[common.Address]map[common.Address]uint256.Int // owner -> spender -> amount

	sink events.Sink
}

// New instantiates a ledger at address and credits initialSupply (base
// units) entirely to mintRecipient. A nil sink discards events.
func New(address common.Address, name, symbol string, initialSupply *uint256.Int, mintRecipient common.Address, sink events.Sink) *Ledger {
	if sink == nil {
		sink = events.Discard
	}
	l := &Ledger{
		address:    address,
		name:       name,
		symbol:     symbol,
		balances:   make(map[common.Address]uint256.Int),
		allowances: make(map[common.Address]map[common.Address]uint256.Int),
		sink:       sink,
	}
	if initialSupply != nil {
		l.totalSupply = *initialSupply
	}
	l.balances[mintRecipient] = l.totalSupply
	return l
}

// Address returns the ledger's own identity.
func (l *Ledger) Address() common.Address { return l.address }

// Name returns the asset name.
func (l *Ledger) Name() string { return l.name }

// Symbol returns the asset ticker.
func (l *Ledger) Symbol() string { return l.symbol }

// Decimals is always 18.
func (l *Ledger) Decimals() uint8 { return amount.Decimals }

// TotalSupply returns the fixed supply in base units.
func (l *Ledger) TotalSupply() *uint256.Int {
	v := l.totalSupply
	return &v
}

// BalanceOf returns the balance of account. Unknown accounts hold zero.
func (l *Ledger) BalanceOf(account common.Address) *uint256.Int {
	v := l.balances[account]
	return &v
}

// Allowance returns how much spender may still pull from owner.
func (l *Ledger) Allowance(owner, spender common.Address) *uint256.Int {
	v := l.allowances[owner][spender]
	return &v
}

// Transfer moves value from `from` to `to` and emits Transfer.
func (l *Ledger) Transfer(from, to common.Address, value *uint256.Int) error {
	if err := l.checkTransfer(from, to, value); err != nil {
		return err
	}
	l.move(from, to, value)
	return nil
}

// Approve sets the allowance of spender over owner's balance to value,
// replacing any previous grant, and emits Approval.
func (l *Ledger) Approve(owner, spender common.Address, value *uint256.Int) error {
	if spender == (common.Address{}) {
		return ledgererr.New(ledgererr.InvalidRecipient, "approve to the zero address")
	}
	grants, ok := l.allowances[owner]
	if !ok {
		grants = make(map[common.Address]uint256.Int)
		l.allowances[owner] = grants
	}
	grants[spender] = *value
	l.sink.Emit(l.address, events.Approval{Owner: owner, Spender: spender, Value: clone(value)})
	return nil
}

// TransferFrom lets spender move value out of owner's balance to `to`,
// consuming exactly value of the allowance owner granted spender.
func (l *Ledger) TransferFrom(spender, owner, to common.Address, value *uint256.Int) error {
	allowed := l.allowances[owner][spender]
	if value.Gt(&allowed) {
		return ledgererr.New(ledgererr.AllowanceExceeded,
			fmt.Sprintf("spender %s allowed %s by %s, requested %s", spender.Hex(), allowed.Dec(), owner.Hex(), value.Dec()))
	}
	if err := l.checkTransfer(owner, to, value); err != nil {
		return err
	}

	grants, ok := l.allowances[owner]
	if !ok {
		grants = make(map[common.Address]uint256.Int)
		l.allowances[owner] = grants
	}
	grants[spender] = *new(uint256.Int).Sub(&allowed, value)
	l.move(owner, to, value)
	return nil
}

func (l *Ledger) checkTransfer(from, to common.Address, value *uint256.Int) error {
	bal := l.balances[from]
	if value.Gt(&bal) {
		return ledgererr.New(ledgererr.InsufficientBalance,
			fmt.Sprintf("%s holds %s %s, needs %s", from.Hex(), bal.Dec(), l.symbol, value.Dec()))
	}
	if to == (common.Address{}) {
		return ledgererr.New(ledgererr.InvalidRecipient, "transfer to the zero address")
	}
	return nil
}

// move assumes checkTransfer passed. Credits cannot overflow because every
// balance is bounded by the total supply.
func (l *Ledger) move(from, to common.Address, value *uint256.Int) {
	src := l.balances[from]
	src.Sub(&src, value)
	l.balances[from] = src

	dst := l.balances[to]
	dst.Add(&dst, value)
	l.balances[to] = dst

	l.sink.Emit(l.address, events.Transfer{From: from, To: to, Value: clone(value)})
}

// Holders returns every account with a recorded balance, sorted by address.
func (l *Ledger) Holders() []common.Address {
	out := make([]common.Address, 0, len(l.balances))
	for addr := range l.balances {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// SumBalances adds up every balance. It equals TotalSupply at all times.
func (l *Ledger) SumBalances() *uint256.Int {
	sum := new(uint256.Int)
	for _, bal := range l.balances {
		b := bal
		sum.Add(sum, &b)
	}
	return sum
}

func clone(v *uint256.Int) *uint256.Int {
	return new(uint256.Int).Set(v)
}
