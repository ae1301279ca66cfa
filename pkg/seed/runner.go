package seed

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/escrowdex/pkg/app/core/amount"
	"github.com/uhyunpark/escrowdex/pkg/chain"
	"github.com/uhyunpark/escrowdex/pkg/crypto"
)

// Result summarizes a completed run.
type Result struct {
	Exchange common.Address
	Tokens   map[string]common.Address // by symbol
	Accounts map[string]common.Address // by name
	Orders   map[string]uint64         // by alias
	Txs      int
}

// Runner plays a scenario through a Submitter.
type Runner struct {
	sub    Submitter
	logger *zap.SugaredLogger

	keys      map[string]*crypto.Signer
	res       *Result
	lastOrder uint64
}

func NewRunner(sub Submitter, logger *zap.Logger) *Runner {
	return &Runner{sub: sub, logger: logger.Sugar()}
}

// Run executes sc. It stops at the first failing step.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Result, error) {
	r.keys = make(map[string]*crypto.Signer, len(sc.Accounts))
	r.res = &Result{
		Tokens:   make(map[string]common.Address),
		Accounts: make(map[string]common.Address),
		Orders:   make(map[string]uint64),
	}
	r.lastOrder = 0

	for name, hex := range sc.Accounts {
		key, err := crypto.FromPrivateKeyHex(hex)
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", name, err)
		}
		r.keys[name] = key
		r.res.Accounts[name] = key.Address()
	}

	ex, err := r.sub.ExchangeAddress(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange address: %w", err)
	}
	r.res.Exchange = ex

	for _, t := range sc.Tokens {
		supply, _ := amount.Parse(t.Supply) // checked by Parse
		rcpt, err := r.submit(ctx, chain.Tx{
			Kind:   chain.TxDeployToken,
			From:   r.res.Accounts[t.Deployer],
			Name:   t.Name,
			Symbol: t.Symbol,
			Value:  supply,
		}, t.Deployer)
		if err != nil {
			return nil, fmt.Errorf("deploy %s: %w", t.Symbol, err)
		}
		r.res.Tokens[t.Symbol] = *rcpt.Token
		r.logger.Infow("token_deployed", "symbol", t.Symbol, "address", rcpt.Token.Hex())
	}

	if err := r.runSteps(ctx, sc.Steps, 0, "steps"); err != nil {
		return nil, err
	}
	r.logger.Infow("seed_complete",
		"txs", r.res.Txs,
		"tokens", len(r.res.Tokens),
		"last_order", r.lastOrder)
	return r.res, nil
}

func (r *Runner) runSteps(ctx context.Context, steps []Step, iter int, path string) error {
	for i, st := range steps {
		where := fmt.Sprintf("%s[%d]", path, i)
		if st.Op == "repeat" {
			for n := 1; n <= st.Times; n++ {
				if err := r.runSteps(ctx, st.Steps, n, fmt.Sprintf("%s#%d", where, n)); err != nil {
					return err
				}
			}
			continue
		}
		if err := r.runStep(ctx, st, iter); err != nil {
			return fmt.Errorf("%s (%s): %w", where, st.Op, err)
		}
	}
	return nil
}

func (r *Runner) runStep(ctx context.Context, st Step, iter int) error {
	from, err := r.account(st.From)
	if err != nil {
		return err
	}
	tx := chain.Tx{Kind: chain.TxKind(st.Op), From: from}

	switch tx.Kind {
	case chain.TxTransfer, chain.TxApprove, chain.TxTransferFrom, chain.TxDeposit, chain.TxWithdraw:
		if tx.Token, err = r.token(st.Token); err != nil {
			return err
		}
		if tx.Value, err = evalAmount(st.Amount, iter); err != nil {
			return err
		}
		if st.To != "" {
			if tx.To, err = r.account(st.To); err != nil {
				return err
			}
		}
		if st.Owner != "" {
			if tx.Owner, err = r.account(st.Owner); err != nil {
				return err
			}
		}
		if st.Spender != "" {
			if tx.Spender, err = r.account(st.Spender); err != nil {
				return err
			}
		}
	case chain.TxMakeOrder:
		if tx.TokenGet, err = r.token(st.Get.Token); err != nil {
			return err
		}
		if tx.AmountGet, err = evalAmount(st.Get.Amount, iter); err != nil {
			return err
		}
		if tx.TokenGive, err = r.token(st.Give.Token); err != nil {
			return err
		}
		if tx.AmountGive, err = evalAmount(st.Give.Amount, iter); err != nil {
			return err
		}
	case chain.TxCancelOrder, chain.TxFillOrder:
		if tx.OrderID, err = r.order(st.Order); err != nil {
			return err
		}
	}

	rcpt, err := r.submit(ctx, tx, st.From)
	if err != nil {
		return err
	}
	if tx.Kind == chain.TxMakeOrder {
		r.lastOrder = rcpt.OrderID
		if st.Alias != "" {
			r.res.Orders[st.Alias] = rcpt.OrderID
		}
	}
	r.logger.Debugw("seed_step",
		"op", st.Op,
		"from", st.From,
		"seq", rcpt.Seq,
		"order_id", rcpt.OrderID)
	return nil
}

func (r *Runner) submit(ctx context.Context, tx chain.Tx, name string) (chain.Receipt, error) {
	rcpt, err := r.sub.Submit(ctx, tx, r.keys[name])
	if err != nil {
		return chain.Receipt{}, err
	}
	r.res.Txs++
	return rcpt, nil
}

func (r *Runner) account(name string) (common.Address, error) {
	if name == "exchange" {
		return r.res.Exchange, nil
	}
	if addr, ok := r.res.Accounts[name]; ok {
		return addr, nil
	}
	if common.IsHexAddress(name) {
		return common.HexToAddress(name), nil
	}
	return common.Address{}, fmt.Errorf("unknown account %q", name)
}

func (r *Runner) token(symbol string) (common.Address, error) {
	if addr, ok := r.res.Tokens[symbol]; ok {
		return addr, nil
	}
	if common.IsHexAddress(symbol) {
		return common.HexToAddress(symbol), nil
	}
	return common.Address{}, fmt.Errorf("unknown token %q", symbol)
}

func (r *Runner) order(ref string) (uint64, error) {
	switch ref {
	case "", "$last":
		if r.lastOrder == 0 {
			return 0, fmt.Errorf("no order made yet")
		}
		return r.lastOrder, nil
	}
	if id, ok := r.res.Orders[ref]; ok {
		return id, nil
	}
	id, err := strconv.ParseUint(ref, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown order %q", ref)
	}
	return id, nil
}
