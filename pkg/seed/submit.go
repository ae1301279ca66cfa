package seed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/escrowdex/pkg/api"
	"github.com/uhyunpark/escrowdex/pkg/chain"
	"github.com/uhyunpark/escrowdex/pkg/crypto"
)

// Submitter executes seed transactions. Implementations fill in the nonce.
type Submitter interface {
	ExchangeAddress(ctx context.Context) (common.Address, error)
	Submit(ctx context.Context, tx chain.Tx, key *crypto.Signer) (chain.Receipt, error)
}

// Local executes directly against an in-process runtime. Keys are not used.
type Local struct {
	RT *chain.Runtime
}

func (l Local) ExchangeAddress(context.Context) (common.Address, error) {
	return l.RT.Exchange().Address, nil
}

func (l Local) Submit(ctx context.Context, tx chain.Tx, _ *crypto.Signer) (chain.Receipt, error) {
	tx.Nonce = l.RT.Nonce(tx.From)
	return l.RT.Execute(ctx, tx)
}

// Remote signs each transaction and posts it to a running node.
type Remote struct {
	BaseURL string
	Client  *http.Client
}

// NewRemote returns a Remote for the node at baseURL, e.g. http://localhost:8080.
func NewRemote(baseURL string) *Remote {
	return &Remote{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Remote) ExchangeAddress(ctx context.Context) (common.Address, error) {
	var info api.ExchangeInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/exchange", nil, &info); err != nil {
		return common.Address{}, err
	}
	return info.Address, nil
}

func (c *Remote) Submit(ctx context.Context, tx chain.Tx, key *crypto.Signer) (chain.Receipt, error) {
	if key == nil {
		return chain.Receipt{}, fmt.Errorf("remote submit for %s needs a private key", tx.From.Hex())
	}
	var n api.NonceInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+tx.From.Hex()+"/nonce", nil, &n); err != nil {
		return chain.Receipt{}, err
	}
	tx.Nonce = n.Nonce

	st, err := chain.Sign(tx, key)
	if err != nil {
		return chain.Receipt{}, err
	}
	body, err := json.Marshal(st)
	if err != nil {
		return chain.Receipt{}, err
	}
	var rcpt chain.Receipt
	if err := c.do(ctx, http.MethodPost, "/api/v1/tx", body, &rcpt); err != nil {
		return chain.Receipt{}, err
	}
	return rcpt, nil
}

func (c *Remote) do(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
			return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: %s: %s", method, path, e.Error, e.Message)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
