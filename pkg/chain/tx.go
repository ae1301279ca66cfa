package chain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowdex/pkg/app/core/events"
	"github.com/uhyunpark/escrowdex/pkg/app/core/ledgererr"
	"github.com/uhyunpark/escrowdex/pkg/crypto"
)

// TxKind selects the ledger operation a transaction invokes.
type TxKind string

const (
	TxDeployToken  TxKind = "deployToken"
	TxTransfer     TxKind = "transfer"
	TxApprove      TxKind = "approve"
	TxTransferFrom TxKind = "transferFrom"
	TxDeposit      TxKind = "deposit"
	TxWithdraw     TxKind = "withdraw"
	TxMakeOrder    TxKind = "makeOrder"
	TxCancelOrder  TxKind = "cancelOrder"
	TxFillOrder    TxKind = "fillOrder"
)

// Tx is one invocation by From. Only the fields of its kind are read:
//
//	deployToken   Name, Symbol, Value (initial supply, minted to From)
//	transfer      Token, To, Value
//	approve       Token, Spender, Value
//	transferFrom  Token, Owner, To, Value (From is the spender)
//	deposit       Token, Value
//	withdraw      Token, Value
//	makeOrder     TokenGet, AmountGet, TokenGive, AmountGive
//	cancelOrder   OrderID
//	fillOrder     OrderID
//
// Nonce must equal the sender's committed transaction count.
type Tx struct {
	Kind  TxKind         `json:"kind"`
	From  common.Address `json:"from"`
	Nonce uint64         `json:"nonce"`

	Name   string `json:"name,omitempty"`
	Symbol string `json:"symbol,omitempty"`

	Token   common.Address `json:"token"`
	To      common.Address `json:"to"`
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Value   *uint256.Int   `json:"value,omitempty"`

	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *uint256.Int   `json:"amountGet,omitempty"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *uint256.Int   `json:"amountGive,omitempty"`
	OrderID    uint64         `json:"orderId,omitempty"`
}

// Hash is the signing digest of the JSON encoding. Clients sign this hash.
func (tx *Tx) Hash() common.Hash {
	b, err := json.Marshal(tx)
	if err != nil {
		// Tx holds only JSON-safe fields.
		panic(fmt.Errorf("marshal tx: %w", err))
	}
	return crypto.TxDigest(b)
}

// Validate checks the shape of tx without looking at state.
func (tx *Tx) Validate() error {
	if tx.From == (common.Address{}) {
		return ledgererr.New(ledgererr.Unauthorized, "zero sender")
	}
	switch tx.Kind {
	case TxDeployToken:
		if tx.Name == "" || tx.Symbol == "" {
			return fmt.Errorf("deployToken: name and symbol required")
		}
		return requireAmount("value", tx.Value)
	case TxTransfer, TxApprove, TxTransferFrom, TxDeposit, TxWithdraw:
		return requireAmount("value", tx.Value)
	case TxMakeOrder:
		if err := requireAmount("amountGet", tx.AmountGet); err != nil {
			return err
		}
		return requireAmount("amountGive", tx.AmountGive)
	case TxCancelOrder, TxFillOrder:
		return nil
	default:
		return fmt.Errorf("unknown tx kind %q", tx.Kind)
	}
}

func requireAmount(field string, v *uint256.Int) error {
	if v == nil {
		return ledgererr.New(ledgererr.InvalidAmount, field+" missing")
	}
	return nil
}

// Receipt describes a committed transaction.
type Receipt struct {
	Seq    uint64          `json:"seq"`
	Hash   common.Hash     `json:"hash"`
	Kind   TxKind          `json:"kind"`
	From   common.Address  `json:"from"`
	Time   time.Time       `json:"time"`
	Events []events.Record `json:"events"`

	// Set by deployToken and makeOrder.
	Token   *common.Address `json:"token,omitempty"`
	OrderID uint64          `json:"orderId,omitempty"`
}

// SignedTx is the envelope accepted over the API.
type SignedTx struct {
	Tx        Tx     `json:"tx"`
	Signature string `json:"signature"`
}

// Sign signs tx with s. tx.From must be the signer's address.
func Sign(tx Tx, s *crypto.Signer) (SignedTx, error) {
	if tx.From != s.Address() {
		return SignedTx{}, fmt.Errorf("tx from %s signed by %s", tx.From.Hex(), s.Address().Hex())
	}
	sig, err := s.Sign(tx.Hash())
	if err != nil {
		return SignedTx{}, err
	}
	return SignedTx{Tx: tx, Signature: crypto.EncodeSignature(sig)}, nil
}

// Verify checks that the signature recovers to Tx.From.
func (st *SignedTx) Verify() error {
	sig, err := crypto.DecodeSignature(st.Signature)
	if err != nil {
		return ledgererr.New(ledgererr.Unauthorized, err.Error())
	}
	signer, err := crypto.RecoverAddress(st.Tx.Hash(), sig)
	if err != nil {
		return ledgererr.New(ledgererr.Unauthorized, err.Error())
	}
	if signer != st.Tx.From {
		return ledgererr.New(ledgererr.Unauthorized, fmt.Sprintf("signed by %s, from %s", signer.Hex(), st.Tx.From.Hex()))
	}
	return nil
}
