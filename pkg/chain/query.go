package chain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowdex/pkg/app/core/events"
	"github.com/uhyunpark/escrowdex/pkg/app/core/exchange"
	"github.com/uhyunpark/escrowdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/escrowdex/pkg/storage"
)

// TokenInfo is the metadata of a deployed token ledger.
type TokenInfo struct {
	Address     common.Address `json:"address"`
	Name        string         `json:"name"`
	Symbol      string         `json:"symbol"`
	Decimals    uint8          `json:"decimals"`
	TotalSupply *uint256.Int   `json:"totalSupply"`
	Deployer    common.Address `json:"deployer"`
}

// ExchangeInfo is the exchange configuration and order counter.
type ExchangeInfo struct {
	Address    common.Address `json:"address"`
	FeeAccount common.Address `json:"feeAccount"`
	FeePercent uint64         `json:"feePercent"`
	OrderCount uint64         `json:"orderCount"`
}

// Head returns the sequence number of the last committed transaction.
func (r *Runtime) Head() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seq
}

// Nonce returns the nonce the next transaction from addr must carry.
func (r *Runtime) Nonce(addr common.Address) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nonces[addr]
}

// Tokens lists deployed tokens in deployment order.
func (r *Runtime) Tokens() []TokenInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TokenInfo, 0, len(r.deployed))
	for _, addr := range r.deployed {
		out = append(out, r.tokenInfo(addr))
	}
	return out
}

// Token returns metadata for one token.
func (r *Runtime) Token(addr common.Address) (TokenInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.tokens[addr]; !ok {
		return TokenInfo{}, false
	}
	return r.tokenInfo(addr), true
}

func (r *Runtime) tokenInfo(addr common.Address) TokenInfo {
	t := r.tokens[addr]
	return TokenInfo{
		Address:     addr,
		Name:        t.Name(),
		Symbol:      t.Symbol(),
		Decimals:    t.Decimals(),
		TotalSupply: t.TotalSupply(),
		Deployer:    r.deployer[addr],
	}
}

// TokenBalance returns owner's wallet balance on token.
func (r *Runtime) TokenBalance(tokenAddr, owner common.Address) (*uint256.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, err := r.token(tokenAddr)
	if err != nil {
		return nil, err
	}
	return t.BalanceOf(owner), nil
}

// Allowance returns what spender may still move from owner on token.
func (r *Runtime) Allowance(tokenAddr, owner, spender common.Address) (*uint256.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, err := r.token(tokenAddr)
	if err != nil {
		return nil, err
	}
	return t.Allowance(owner, spender), nil
}

// TokenHolders returns every account with a balance entry on token, sorted.
func (r *Runtime) TokenHolders(tokenAddr common.Address) ([]common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, err := r.token(tokenAddr)
	if err != nil {
		return nil, err
	}
	return t.Holders(), nil
}

// Exchange returns the exchange configuration.
func (r *Runtime) Exchange() ExchangeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ExchangeInfo{
		Address:    r.exchange.Address(),
		FeeAccount: r.exchange.FeeAccount(),
		FeePercent: r.exchange.FeePercent(),
		OrderCount: r.exchange.OrderCount(),
	}
}

// CustodyBalance returns user's exchange balance of token. Unknown tokens
// read as zero, matching the exchange's own view.
func (r *Runtime) CustodyBalance(tokenAddr, user common.Address) *uint256.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.exchange.BalanceOf(tokenAddr, user)
}

// CustodyUsers returns users holding a custody entry for token.
func (r *Runtime) CustodyUsers(tokenAddr common.Address) []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.exchange.Users(tokenAddr)
}

// Order returns order id.
func (r *Runtime) Order(id uint64) (exchange.Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.exchange.Order(id)
}

// Orders returns every order, or only open ones.
func (r *Runtime) Orders(openOnly bool) []exchange.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if openOnly {
		return r.exchange.OpenOrders()
	}
	return r.exchange.Orders()
}

// Book returns the open orders trading pair, grouped by price.
func (r *Runtime) Book(pair orderbook.Pair) orderbook.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return orderbook.Build(pair, r.exchange.OpenOrders())
}

// Trades returns the fills on pair found among the last limit Trade
// events, oldest first.
func (r *Runtime) Trades(pair orderbook.Pair, limit int) ([]orderbook.Trade, error) {
	evs, err := r.journal.RecentEvents(events.NameTrade, limit)
	if err != nil {
		return nil, err
	}
	fills := make([]events.Trade, 0, len(evs))
	for i := len(evs) - 1; i >= 0; i-- {
		if tr, ok := evs[i].Record.Event.(events.Trade); ok {
			fills = append(fills, tr)
		}
	}
	return orderbook.Trades(pair, fills), nil
}

// RecentEvents reads committed events from the journal, newest first.
func (r *Runtime) RecentEvents(name string, limit int) ([]storage.StoredEvent, error) {
	return r.journal.RecentEvents(name, limit)
}

// CheckInvariants verifies supply conservation on every token and that
// custody never exceeds the exchange's escrow holdings. It returns the
// first violated token, if any.
func (r *Runtime) CheckInvariants() (common.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	escrow := r.exchange.Address()
	for _, addr := range sortedAddrs(r.deployed) {
		t := r.tokens[addr]
		if !t.SumBalances().Eq(t.TotalSupply()) {
			return addr, false
		}
		if r.exchange.CustodyTotal(addr).Gt(t.BalanceOf(escrow)) {
			return addr, false
		}
	}
	return common.Address{}, true
}
