package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/escrowdex/pkg/chain"
	"github.com/uhyunpark/escrowdex/pkg/crypto"
)

// Usage:
//
//	keygen                         print a new key pair
//	PRIVATE_KEY=... keygen sign    sign the transaction JSON read from stdin
func main() {
	if len(os.Args) > 1 && os.Args[1] == "sign" {
		if err := sign(os.Stdin, os.Stdout, os.Stderr, os.Getenv("PRIVATE_KEY")); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Println("Generating new keypair...")
	signer, err := crypto.GenerateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Address: %s\n", signer.Address().Hex())
	fmt.Printf("Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
}

// sign writes the envelope to out and progress to info.
func sign(r io.Reader, out, info io.Writer, keyHex string) error {
	if keyHex == "" {
		return fmt.Errorf("PRIVATE_KEY is not set")
	}
	// Step 1: Load key
	signer, err := crypto.FromPrivateKeyHex(keyHex)
	if err != nil {
		return err
	}

	// Step 2: Read transaction. From defaults to the signer.
	var tx chain.Tx
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&tx); err != nil {
		return fmt.Errorf("decode tx: %w", err)
	}
	if tx.From == (common.Address{}) {
		tx.From = signer.Address()
	}
	if err := tx.Validate(); err != nil {
		return err
	}

	fmt.Fprintln(info, "Transaction Details:")
	fmt.Fprintf(info, "  Kind: %s\n", tx.Kind)
	fmt.Fprintf(info, "  From: %s\n", tx.From.Hex())
	fmt.Fprintf(info, "  Nonce: %d\n", tx.Nonce)
	fmt.Fprintf(info, "  Hash: %s\n\n", tx.Hash().Hex())

	// Step 3: Sign and verify
	st, err := chain.Sign(tx, signer)
	if err != nil {
		return err
	}
	if err := st.Verify(); err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	fmt.Fprintln(info, "✓ Signature VALID")
	fmt.Fprintln(info, "Submit with: POST http://localhost:8080/api/v1/tx")

	// Step 4: Envelope on stdout so it can be piped to curl
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}
