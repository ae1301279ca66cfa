// Package chain is the execution environment around the token and exchange
// ledgers. It applies transactions one at a time under a single lock, so each
// ledger operation observes and leaves a consistent state, and it publishes a
// transaction's events only after the transaction committed.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/uhyunpark/escrowdex/pkg/app/core/events"
	"github.com/uhyunpark/escrowdex/pkg/app/core/exchange"
	"github.com/uhyunpark/escrowdex/pkg/app/core/ledgererr"
	"github.com/uhyunpark/escrowdex/pkg/app/core/token"
	"github.com/uhyunpark/escrowdex/pkg/storage"
	"github.com/uhyunpark/escrowdex/pkg/util"
)

var (
	// ErrBadNonce is returned when a transaction's nonce is not the sender's next.
	ErrBadNonce = errors.New("bad nonce")
	// ErrHalted is returned once a journal write failed. The runtime accepts
	// no further transactions.
	ErrHalted = errors.New("runtime halted")
)

// Genesis fixes the exchange deployment.
type Genesis struct {
	Deployer   common.Address
	FeeAccount common.Address
	FeePercent uint64
}

// Options configures a Runtime. Zero values use wall time, an in-memory
// journal and a no-op logger.
type Options struct {
	Clock   util.Clock
	Journal storage.Journal
	Logger  *zap.SugaredLogger
}

// Runtime owns every ledger instance.
type Runtime struct {
	mu sync.RWMutex

	genesis  Genesis
	tokens   map[common.Address]*token.Ledger
	deployed []common.Address // deployment order
	deployer map[common.Address]common.Address
	exchange *exchange.Ledger
	nonces   map[common.Address]uint64
	seq      uint64
	failed   error

	clock   util.Clock
	txClock *util.ManualClock
	buf     *events.Buffer
	journal storage.Journal
	logger  *zap.SugaredLogger

	subMu  sync.Mutex
	subs   map[int]chan Receipt
	nextID int
}

// New deploys the exchange at CreateAddress(genesis.Deployer, 0) and replays
// the journal.
func New(genesis Genesis, opts Options) (*Runtime, error) {
	if genesis.Deployer == (common.Address{}) {
		return nil, fmt.Errorf("genesis deployer required")
	}
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	if opts.Journal == nil {
		opts.Journal = storage.NewMemJournal()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}

	r := &Runtime{
		genesis:  genesis,
		tokens:   make(map[common.Address]*token.Ledger),
		deployer: make(map[common.Address]common.Address),
		nonces:   make(map[common.Address]uint64),
		clock:    opts.Clock,
		txClock:  util.NewManualClock(opts.Clock.Now()),
		buf:      &events.Buffer{},
		journal:  opts.Journal,
		logger:   opts.Logger,
		subs:     make(map[int]chan Receipt),
	}

	ex, err := exchange.New(exchange.Config{
		Address:    ethcrypto.CreateAddress(genesis.Deployer, 0),
		FeeAccount: genesis.FeeAccount,
		FeePercent: genesis.FeePercent,
	}, registry{r}, r.txClock, r.buf)
	if err != nil {
		return nil, fmt.Errorf("deploy exchange: %w", err)
	}
	r.exchange = ex
	r.nonces[genesis.Deployer] = 1

	if err := r.replay(); err != nil {
		return nil, err
	}
	r.logger.Infow("runtime_ready",
		"exchange", ex.Address().Hex(),
		"fee_account", genesis.FeeAccount.Hex(),
		"fee_percent", genesis.FeePercent,
		"head", r.seq)
	return r, nil
}

// Close closes the journal.
func (r *Runtime) Close() error {
	return r.journal.Close()
}

// Execute applies tx, journals it and notifies subscribers. A failed
// transaction leaves no trace.
func (r *Runtime) Execute(ctx context.Context, tx Tx) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	if err := tx.Validate(); err != nil {
		return Receipt{}, err
	}

	r.mu.Lock()
	rcpt, err := r.execute(tx, r.clock.Now())
	if err == nil {
		// Still under the lock so subscribers see commit order.
		r.publish(rcpt)
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Infow("tx_rejected", "kind", tx.Kind, "from", tx.From.Hex(), "err", err)
		return Receipt{}, err
	}
	r.logger.Debugw("tx_applied", "seq", rcpt.Seq, "kind", tx.Kind, "from", tx.From.Hex(), "events", len(rcpt.Events))
	return rcpt, nil
}

func (r *Runtime) execute(tx Tx, now time.Time) (Receipt, error) {
	if r.failed != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrHalted, r.failed)
	}
	if want := r.nonces[tx.From]; tx.Nonce != want {
		return Receipt{}, fmt.Errorf("%w: got %d, want %d", ErrBadNonce, tx.Nonce, want)
	}

	rcpt, err := r.apply(tx, now)
	if err != nil {
		return Receipt{}, err
	}

	raw, err := json.Marshal(tx)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode tx: %w", err)
	}
	entry := storage.Entry{Seq: rcpt.Seq, Time: now, Tx: raw, Events: rcpt.Events}
	if err := r.journal.Append(entry); err != nil {
		// State already moved past the journal; refuse further writes.
		r.failed = err
		r.logger.Errorw("journal_append_failed", "seq", rcpt.Seq, "err", err)
		return Receipt{}, fmt.Errorf("%w: journal tx %d: %v", ErrHalted, rcpt.Seq, err)
	}
	return rcpt, nil
}

// apply runs tx against the ledgers. On success the sender's nonce and the
// sequence advance and the buffered events move into the receipt.
func (r *Runtime) apply(tx Tx, now time.Time) (Receipt, error) {
	r.txClock.Set(now)
	r.buf.Reset()

	rcpt := Receipt{Hash: tx.Hash(), Kind: tx.Kind, From: tx.From, Time: now}
	if err := r.dispatch(tx, &rcpt); err != nil {
		r.buf.Reset()
		return Receipt{}, err
	}

	r.nonces[tx.From]++
	r.seq++
	rcpt.Seq = r.seq
	rcpt.Events = r.buf.Records()
	r.buf.Reset()
	return rcpt, nil
}

func (r *Runtime) dispatch(tx Tx, rcpt *Receipt) error {
	switch tx.Kind {
	case TxDeployToken:
		addr := ethcrypto.CreateAddress(tx.From, r.nonces[tx.From])
		if _, exists := r.tokens[addr]; exists {
			return fmt.Errorf("token already deployed at %s", addr.Hex())
		}
		r.tokens[addr] = token.New(addr, tx.Name, tx.Symbol, tx.Value, tx.From, r.buf)
		r.deployed = append(r.deployed, addr)
		r.deployer[addr] = tx.From
		rcpt.Token = &addr
		return nil

	case TxTransfer:
		t, err := r.token(tx.Token)
		if err != nil {
			return err
		}
		return t.Transfer(tx.From, tx.To, tx.Value)

	case TxApprove:
		t, err := r.token(tx.Token)
		if err != nil {
			return err
		}
		return t.Approve(tx.From, tx.Spender, tx.Value)

	case TxTransferFrom:
		t, err := r.token(tx.Token)
		if err != nil {
			return err
		}
		return t.TransferFrom(tx.From, tx.Owner, tx.To, tx.Value)

	case TxDeposit:
		return r.exchange.DepositToken(tx.From, tx.Token, tx.Value)

	case TxWithdraw:
		return r.exchange.WithdrawToken(tx.From, tx.Token, tx.Value)

	case TxMakeOrder:
		o, err := r.exchange.MakeOrder(tx.From, tx.TokenGet, tx.AmountGet, tx.TokenGive, tx.AmountGive)
		if err != nil {
			return err
		}
		rcpt.OrderID = o.ID
		return nil

	case TxCancelOrder:
		rcpt.OrderID = tx.OrderID
		return r.exchange.CancelOrder(tx.From, tx.OrderID)

	case TxFillOrder:
		rcpt.OrderID = tx.OrderID
		return r.exchange.FillOrder(tx.From, tx.OrderID)
	}
	return fmt.Errorf("unknown tx kind %q", tx.Kind)
}

// replay rebuilds state from the journal. Every entry must apply cleanly
// and reproduce the recorded events, otherwise the journal and the code
// disagree and startup fails.
func (r *Runtime) replay() error {
	head, err := r.journal.Head()
	if err != nil {
		return fmt.Errorf("journal head: %w", err)
	}
	if head == 0 {
		return nil
	}

	start := time.Now()
	err = r.journal.Replay(func(e storage.Entry) error {
		var tx Tx
		if err := json.Unmarshal(e.Tx, &tx); err != nil {
			return fmt.Errorf("replay tx %d: decode: %w", e.Seq, err)
		}
		if err := tx.Validate(); err != nil {
			return fmt.Errorf("replay tx %d: %w", e.Seq, err)
		}
		if tx.Nonce != r.nonces[tx.From] {
			return fmt.Errorf("replay tx %d: %w", e.Seq, ErrBadNonce)
		}
		rcpt, err := r.apply(tx, e.Time)
		if err != nil {
			return fmt.Errorf("replay tx %d: %w", e.Seq, err)
		}
		if rcpt.Seq != e.Seq {
			return fmt.Errorf("replay tx %d: applied as seq %d", e.Seq, rcpt.Seq)
		}
		if len(rcpt.Events) != len(e.Events) {
			return fmt.Errorf("replay tx %d: %d events, journal has %d", e.Seq, len(rcpt.Events), len(e.Events))
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.Infow("journal_replayed", "txs", r.seq, "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

// Subscribe returns a channel of committed receipts. Receipts are dropped
// for a subscriber whose buffer is full. Call cancel to unsubscribe.
func (r *Runtime) Subscribe(buffer int) (<-chan Receipt, func()) {
	ch := make(chan Receipt, buffer)

	r.subMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	r.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
			close(ch)
		})
	}
}

func (r *Runtime) publish(rcpt Receipt) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for id, ch := range r.subs {
		select {
		case ch <- rcpt:
		default:
			r.logger.Warnw("subscriber_lagging", "subscriber", id, "seq", rcpt.Seq)
		}
	}
}

func (r *Runtime) token(addr common.Address) (*token.Ledger, error) {
	t, ok := r.tokens[addr]
	if !ok {
		return nil, ledgererr.New(ledgererr.UnknownToken, addr.Hex())
	}
	return t, nil
}

// registry lets the exchange resolve tokens deployed in this runtime.
type registry struct{ r *Runtime }

func (g registry) Token(addr common.Address) (exchange.TokenLedger, bool) {
	t, ok := g.r.tokens[addr]
	if !ok {
		return nil, false
	}
	return t, true
}

func sortedAddrs(in []common.Address) []common.Address {
	out := append([]common.Address(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}
