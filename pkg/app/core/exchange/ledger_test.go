package exchange

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowdex/pkg/app/core/amount"
	"github.com/uhyunpark/escrowdex/pkg/app/core/events"
	"github.com/uhyunpark/escrowdex/pkg/app/core/ledgererr"
	"github.com/uhyunpark/escrowdex/pkg/app/core/token"
	"github.com/uhyunpark/escrowdex/pkg/util"
)

var (
	exchangeAddr = common.HexToAddress("0xE000000000000000000000000000000000000001")
	tokenA       = common.HexToAddress("0x7000000000000000000000000000000000000001")
	tokenB       = common.HexToAddress("0x7000000000000000000000000000000000000002")
	feeAccount   = common.HexToAddress("0xFEE0000000000000000000000000000000000000")
	maker        = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	taker        = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

var genesisTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type registry map[common.Address]*token.Ledger

func (r registry) Token(addr common.Address) (TokenLedger, bool) {
	l, ok := r[addr]
	if !ok {
		return nil, false
	}
	return l, true
}

type fixture struct {
	ex     *Ledger
	tokens registry
	rec    *events.Recorder
	clock  *util.ManualClock
}

// newFixture mints 100,000 A to maker and 100,000 B to taker.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	rec := events.NewRecorder()
	tokens := registry{
		tokenA: token.New(tokenA, "1Token", "ONE", amount.Units(100_000), maker, rec),
		tokenB: token.New(tokenB, "Mock Dai", "mDai", amount.Units(100_000), taker, rec),
	}
	clock := util.NewManualClock(genesisTime)
	ex, err := New(Config{Address: exchangeAddr, FeeAccount: feeAccount, FeePercent: 10}, tokens, clock, rec)
	if err != nil {
		t.Fatalf("new exchange: %v", err)
	}
	return &fixture{ex: ex, tokens: tokens, rec: rec, clock: clock}
}

func (f *fixture) deposit(t *testing.T, user, tok common.Address, v *uint256.Int) {
	t.Helper()
	if err := f.tokens[tok].Approve(user, exchangeAddr, v); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := f.ex.DepositToken(user, tok, v); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func (f *fixture) checkInvariants(t *testing.T) {
	t.Helper()
	for addr, tl := range f.tokens {
		if !tl.SumBalances().Eq(tl.TotalSupply()) {
			t.Fatalf("token %s: supply not conserved", addr.Hex())
		}
		escrow := tl.BalanceOf(exchangeAddr)
		if f.ex.CustodyTotal(addr).Gt(escrow) {
			t.Fatalf("token %s: custody %s exceeds escrow %s", addr.Hex(), f.ex.CustodyTotal(addr).Dec(), escrow.Dec())
		}
	}
}

func expectBalance(t *testing.T, ex *Ledger, tok, user common.Address, want string) {
	t.Helper()
	if got := ex.BalanceOf(tok, user); !got.Eq(amount.MustParse(want)) {
		t.Errorf("custody(%s, %s) = %s, want %s", tok.Hex()[:6], user.Hex()[:6], amount.Format(got), want)
	}
}

func TestDeployment(t *testing.T) {
	f := newFixture(t)
	if f.ex.FeeAccount() != feeAccount {
		t.Errorf("fee account = %s", f.ex.FeeAccount().Hex())
	}
	if f.ex.FeePercent() != 10 {
		t.Errorf("fee percent = %d, want 10", f.ex.FeePercent())
	}
	if f.ex.OrderCount() != 0 {
		t.Errorf("order count = %d, want 0", f.ex.OrderCount())
	}
	if _, err := New(Config{FeePercent: 101}, registry{}, nil, nil); err == nil {
		t.Error("expected error for fee percent above 100")
	}
}

func TestDeposit(t *testing.T) {
	f := newFixture(t)
	v := amount.Units(100)
	f.deposit(t, maker, tokenA, v)

	if got := f.tokens[tokenA].BalanceOf(exchangeAddr); !got.Eq(v) {
		t.Errorf("escrow balance = %s, want 100.0", amount.Format(got))
	}
	expectBalance(t, f.ex, tokenA, maker, "100")

	names := f.rec.Names()
	// approve, transfer, deposit
	if len(names) != 3 || names[1] != events.NameTransfer || names[2] != events.NameDeposit {
		t.Fatalf("events = %v", names)
	}
	ev := f.rec.Last().(events.Deposit)
	if ev.Token != tokenA || ev.User != maker || !ev.Amount.Eq(v) || !ev.Balance.Eq(v) {
		t.Errorf("unexpected deposit event: %+v", ev)
	}
	f.checkInvariants(t)
}

func TestDepositFailures(t *testing.T) {
	t.Run("not approved", func(t *testing.T) {
		f := newFixture(t)
		err := f.ex.DepositToken(maker, tokenA, amount.Units(100))
		if !errors.Is(err, ledgererr.AllowanceExceeded) {
			t.Fatalf("err = %v, want allowance exceeded", err)
		}
		expectBalance(t, f.ex, tokenA, maker, "0")
	})

	t.Run("more than approved", func(t *testing.T) {
		f := newFixture(t)
		if err := f.tokens[tokenA].Approve(maker, exchangeAddr, amount.Units(100)); err != nil {
			t.Fatal(err)
		}
		err := f.ex.DepositToken(maker, tokenA, amount.Units(101))
		if !errors.Is(err, ledgererr.AllowanceExceeded) {
			t.Fatalf("err = %v, want allowance exceeded", err)
		}
		if n := len(f.rec.Records()); n != 1 {
			t.Errorf("events after failed deposit = %d, want 1 (approval)", n)
		}
	})

	t.Run("more than held", func(t *testing.T) {
		f := newFixture(t)
		if err := f.tokens[tokenB].Approve(maker, exchangeAddr, amount.Units(1)); err != nil {
			t.Fatal(err)
		}
		err := f.ex.DepositToken(maker, tokenB, amount.Units(1))
		if !errors.Is(err, ledgererr.InsufficientBalance) {
			t.Fatalf("err = %v, want insufficient balance", err)
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		f := newFixture(t)
		err := f.ex.DepositToken(maker, common.HexToAddress("0x1234"), amount.Units(1))
		if !errors.Is(err, ledgererr.UnknownToken) {
			t.Fatalf("err = %v, want unknown token", err)
		}
	})
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	v := amount.Units(100)
	before := f.tokens[tokenA].BalanceOf(maker)

	f.deposit(t, maker, tokenA, v)
	if err := f.ex.WithdrawToken(maker, tokenA, v); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	if got := f.tokens[tokenA].BalanceOf(exchangeAddr); !got.IsZero() {
		t.Errorf("escrow balance = %s, want 0", amount.Format(got))
	}
	expectBalance(t, f.ex, tokenA, maker, "0")
	if got := f.tokens[tokenA].BalanceOf(maker); !got.Eq(before) {
		t.Errorf("wallet balance = %s, want %s", amount.Format(got), amount.Format(before))
	}

	ev, ok := f.rec.Last().(events.Withdraw)
	if !ok {
		t.Fatalf("last event = %T, want Withdraw", f.rec.Last())
	}
	if ev.Token != tokenA || ev.User != maker || !ev.Amount.Eq(v) || !ev.Balance.IsZero() {
		t.Errorf("unexpected withdraw event: %+v", ev)
	}

	if err := f.ex.WithdrawToken(maker, tokenA, v); !errors.Is(err, ledgererr.InsufficientBalance) {
		t.Errorf("second withdraw err = %v, want insufficient balance", err)
	}
	f.checkInvariants(t)
}

func TestMakeOrder(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, maker, tokenA, amount.Units(100))

	o, err := f.ex.MakeOrder(maker, tokenB, amount.Units(1), tokenA, amount.Units(2))
	if err != nil {
		t.Fatalf("make order: %v", err)
	}
	if o.ID != 1 || f.ex.OrderCount() != 1 {
		t.Errorf("id = %d, count = %d, want 1/1", o.ID, f.ex.OrderCount())
	}

	stored, ok := f.ex.Order(1)
	if !ok {
		t.Fatal("order 1 not stored")
	}
	if stored.User != maker || stored.TokenGet != tokenB || stored.TokenGive != tokenA ||
		!stored.AmountGet.Eq(amount.Units(1)) || !stored.AmountGive.Eq(amount.Units(2)) {
		t.Errorf("unexpected order: %+v", stored)
	}
	if stored.CreatedAt != genesisTime.Unix() {
		t.Errorf("createdAt = %d, want %d", stored.CreatedAt, genesisTime.Unix())
	}
	if stored.Status() != OrderOpen {
		t.Errorf("status = %s, want open", stored.Status())
	}

	ev, ok := f.rec.Last().(events.Order)
	if !ok {
		t.Fatalf("last event = %T, want Order", f.rec.Last())
	}
	if ev.ID != 1 || ev.User != maker || ev.TokenGet != tokenB || !ev.AmountGet.Eq(amount.Units(1)) ||
		!ev.AmountGive.Eq(amount.Units(2)) || ev.CreatedAt < 1 {
		t.Errorf("unexpected order event: %+v", ev)
	}

	// Orders do not lock custody.
	expectBalance(t, f.ex, tokenA, maker, "100")
}

func TestMakeOrderWithoutBalance(t *testing.T) {
	f := newFixture(t)

	_, err := f.ex.MakeOrder(maker, tokenB, amount.Units(1), tokenA, amount.Units(2))
	if !errors.Is(err, ledgererr.InsufficientBalance) {
		t.Fatalf("err = %v, want insufficient balance", err)
	}
	if f.ex.OrderCount() != 0 {
		t.Errorf("order count = %d, want 0", f.ex.OrderCount())
	}
	if len(f.rec.Records()) != 0 {
		t.Errorf("failed order emitted events")
	}
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, maker, tokenA, amount.Units(10))
	if _, err := f.ex.MakeOrder(maker, tokenB, amount.Units(1), tokenA, amount.Units(1)); err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(5 * time.Second)
	if err := f.ex.CancelOrder(maker, 1); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !f.ex.OrderCancelled(1) {
		t.Error("order 1 not cancelled")
	}
	o, _ := f.ex.Order(1)
	if o.CancelledAt != genesisTime.Add(5*time.Second).Unix() {
		t.Errorf("cancelledAt = %d", o.CancelledAt)
	}

	ev, ok := f.rec.Last().(events.CancelOrder)
	if !ok {
		t.Fatalf("last event = %T, want CancelOrder", f.rec.Last())
	}
	if ev.ID != 1 || ev.User != maker || ev.CreatedAt != genesisTime.Unix() || ev.CancelledAt != o.CancelledAt {
		t.Errorf("unexpected cancel event: %+v", ev)
	}

	if err := f.ex.CancelOrder(maker, 1); !errors.Is(err, ledgererr.AlreadyCancelled) {
		t.Errorf("second cancel err = %v, want already cancelled", err)
	}
}

func TestCancelOrderFailures(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, maker, tokenA, amount.Units(10))
	if _, err := f.ex.MakeOrder(maker, tokenB, amount.Units(1), tokenA, amount.Units(1)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		caller common.Address
		id     uint64
		want   error
	}{
		{name: "missing order", caller: maker, id: 999, want: ledgererr.OrderNotFound},
		{name: "not creator", caller: taker, id: 1, want: ledgererr.Unauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.ex.CancelOrder(tt.caller, tt.id); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if f.ex.OrderCancelled(1) {
		t.Error("failed cancels changed order state")
	}
}

func TestCancelFilledOrder(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, maker, tokenA, amount.Units(1))
	f.deposit(t, taker, tokenB, amount.Units(10))
	if _, err := f.ex.MakeOrder(maker, tokenB, amount.Units(1), tokenA, amount.Units(1)); err != nil {
		t.Fatal(err)
	}
	if err := f.ex.FillOrder(taker, 1); err != nil {
		t.Fatal(err)
	}
	if err := f.ex.CancelOrder(maker, 1); !errors.Is(err, ledgererr.AlreadyFilled) {
		t.Errorf("cancel filled err = %v, want already filled", err)
	}
}

// Maker escrows 2 A across two orders of 1 A for 1 B each; taker fills the first.
func TestFillOrder(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, maker, tokenA, amount.Units(1))
	f.deposit(t, maker, tokenA, amount.Units(1))
	f.deposit(t, taker, tokenB, amount.Units(100))

	for i := 0; i < 2; i++ {
		if _, err := f.ex.MakeOrder(maker, tokenB, amount.Units(1), tokenA, amount.Units(1)); err != nil {
			t.Fatalf("make order %d: %v", i+1, err)
		}
	}

	f.clock.Advance(time.Minute)
	if err := f.ex.FillOrder(taker, 1); err != nil {
		t.Fatalf("fill: %v", err)
	}

	expectBalance(t, f.ex, tokenA, maker, "1")
	expectBalance(t, f.ex, tokenB, maker, "1")
	expectBalance(t, f.ex, tokenA, taker, "1")
	expectBalance(t, f.ex, tokenB, taker, "98.9")
	expectBalance(t, f.ex, tokenB, feeAccount, "0.1")

	if !f.ex.OrderFilled(1) {
		t.Error("order 1 not filled")
	}
	if f.ex.OrderFilled(2) {
		t.Error("order 2 filled")
	}

	ev, ok := f.rec.Last().(events.Trade)
	if !ok {
		t.Fatalf("last event = %T, want Trade", f.rec.Last())
	}
	if ev.ID != 1 || ev.Filler != taker || ev.Creator != maker || ev.TokenGet != tokenB ||
		ev.TokenGive != tokenA || !ev.AmountGet.Eq(amount.Units(1)) || !ev.AmountGive.Eq(amount.Units(1)) {
		t.Errorf("unexpected trade event: %+v", ev)
	}
	if ev.Timestamp != genesisTime.Add(time.Minute).Unix() {
		t.Errorf("trade timestamp = %d", ev.Timestamp)
	}

	open := f.ex.OpenOrders()
	if len(open) != 1 || open[0].ID != 2 {
		t.Errorf("open orders = %+v, want only #2", open)
	}
	f.checkInvariants(t)
}

func TestFillFeeArithmetic(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, maker, tokenA, amount.Units(5))
	f.deposit(t, taker, tokenB, amount.Units(10))
	if _, err := f.ex.MakeOrder(maker, tokenB, amount.Units(1), tokenA, amount.Units(5)); err != nil {
		t.Fatal(err)
	}
	if err := f.ex.FillOrder(taker, 1); err != nil {
		t.Fatal(err)
	}

	spent := new(uint256.Int).Sub(amount.Units(10), f.ex.BalanceOf(tokenB, taker))
	if !spent.Eq(amount.MustParse("1.1")) {
		t.Errorf("taker debited %s, want 1.1", amount.Format(spent))
	}
	expectBalance(t, f.ex, tokenB, maker, "1")
	expectBalance(t, f.ex, tokenB, feeAccount, "0.1")
}

func TestFillOrderFailures(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, maker, tokenA, amount.Units(10))
	f.deposit(t, taker, tokenB, amount.Units(10))
	for i := 0; i < 2; i++ {
		if _, err := f.ex.MakeOrder(maker, tokenB, amount.Units(1), tokenA, amount.Units(1)); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.ex.CancelOrder(maker, 1); err != nil {
		t.Fatal(err)
	}
	if err := f.ex.FillOrder(taker, 2); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		id   uint64
		want error
	}{
		{name: "missing order", id: 999, want: ledgererr.OrderNotFound},
		{name: "cancelled order", id: 1, want: ledgererr.AlreadyCancelled},
		{name: "filled order", id: 2, want: ledgererr.AlreadyFilled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := len(f.rec.Records())
			if err := f.ex.FillOrder(taker, tt.id); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if len(f.rec.Records()) != n {
				t.Error("failed fill emitted events")
			}
		})
	}
}

func TestFillRequiresAmountPlusFee(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, maker, tokenA, amount.Units(1))
	// Exactly amountGet, not enough for the fee.
	f.deposit(t, taker, tokenB, amount.Units(1))
	if _, err := f.ex.MakeOrder(maker, tokenB, amount.Units(1), tokenA, amount.Units(1)); err != nil {
		t.Fatal(err)
	}

	err := f.ex.FillOrder(taker, 1)
	if !errors.Is(err, ledgererr.InsufficientBalance) {
		t.Fatalf("err = %v, want insufficient balance", err)
	}
	expectBalance(t, f.ex, tokenA, maker, "1")
	expectBalance(t, f.ex, tokenB, taker, "1")
	expectBalance(t, f.ex, tokenB, feeAccount, "0")
	if f.ex.OrderFilled(1) {
		t.Error("order marked filled after failed settlement")
	}
}

// The give balance is not reserved, so the creator can withdraw it after
// placing the order and the fill must fail at settlement.
func TestFillAfterCreatorWithdrew(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, maker, tokenA, amount.Units(1))
	f.deposit(t, taker, tokenB, amount.Units(10))
	if _, err := f.ex.MakeOrder(maker, tokenB, amount.Units(1), tokenA, amount.Units(1)); err != nil {
		t.Fatal(err)
	}
	if err := f.ex.WithdrawToken(maker, tokenA, amount.Units(1)); err != nil {
		t.Fatalf("withdraw after order: %v", err)
	}

	err := f.ex.FillOrder(taker, 1)
	if !errors.Is(err, ledgererr.InsufficientBalance) {
		t.Fatalf("err = %v, want insufficient balance", err)
	}
	expectBalance(t, f.ex, tokenB, taker, "10")
	expectBalance(t, f.ex, tokenB, maker, "0")
	if f.ex.OrderFilled(1) {
		t.Error("order marked filled")
	}
	f.checkInvariants(t)
}

func TestSelfFillPaysOnlyFee(t *testing.T) {
	f := newFixture(t)
	// Give maker some B as well.
	if err := f.tokens[tokenB].Transfer(taker, maker, amount.Units(10)); err != nil {
		t.Fatal(err)
	}
	f.deposit(t, maker, tokenA, amount.Units(1))
	f.deposit(t, maker, tokenB, amount.Units(10))
	if _, err := f.ex.MakeOrder(maker, tokenB, amount.Units(1), tokenA, amount.Units(1)); err != nil {
		t.Fatal(err)
	}
	if err := f.ex.FillOrder(maker, 1); err != nil {
		t.Fatalf("self fill: %v", err)
	}
	expectBalance(t, f.ex, tokenA, maker, "1")
	expectBalance(t, f.ex, tokenB, maker, "9.9")
	expectBalance(t, f.ex, tokenB, feeAccount, "0.1")
	f.checkInvariants(t)
}

func TestOrderIDsAreSequential(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, maker, tokenA, amount.Units(10))

	for want := uint64(1); want <= 5; want++ {
		o, err := f.ex.MakeOrder(maker, tokenB, amount.Units(1), tokenA, amount.Units(1))
		if err != nil {
			t.Fatal(err)
		}
		if o.ID != want {
			t.Errorf("order id = %d, want %d", o.ID, want)
		}
		if want%2 == 0 {
			if err := f.ex.CancelOrder(maker, o.ID); err != nil {
				t.Fatal(err)
			}
		}
	}
	// A failed creation does not consume an id.
	if _, err := f.ex.MakeOrder(maker, tokenB, amount.Units(1), tokenA, amount.Units(11)); err == nil {
		t.Fatal("expected insufficient balance")
	}
	if f.ex.OrderCount() != 5 {
		t.Errorf("order count = %d, want 5", f.ex.OrderCount())
	}
	if n := len(f.ex.Orders()); n != 5 {
		t.Errorf("orders retained = %d, want 5", n)
	}
	if n := len(f.ex.OpenOrders()); n != 3 {
		t.Errorf("open orders = %d, want 3", n)
	}
}

func TestOrderCopiesAreDetached(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, maker, tokenA, amount.Units(10))
	o, err := f.ex.MakeOrder(maker, tokenB, amount.Units(1), tokenA, amount.Units(1))
	if err != nil {
		t.Fatal(err)
	}
	o.AmountGive.SetUint64(0)
	o.Cancelled = true

	stored, _ := f.ex.Order(o.ID)
	if !stored.AmountGive.Eq(amount.Units(1)) || stored.Cancelled {
		t.Errorf("mutating a returned order changed the ledger: %+v", stored)
	}
}
